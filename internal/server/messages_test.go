package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeClientFrame(t *testing.T) {
	tcases := []struct {
		name     string
		raw      string
		expected ClientFrame
		wantErr  bool
	}{
		{name: "send", raw: `{"message":"hi"}`, expected: ClientFrame{Message: "hi"}},
		{name: "typing", raw: `{"type":"typing"}`, expected: ClientFrame{Type: "typing"}},
		{name: "numeric recipient", raw: `{"message":"hi","recipient":7}`, expected: ClientFrame{Message: "hi", Recipient: 7}},
		{name: "string recipient", raw: `{"message":"hi","recipient":"7"}`, expected: ClientFrame{Message: "hi", Recipient: 7}},
		{name: "empty recipient", raw: `{"message":"hi","recipient":""}`, expected: ClientFrame{Message: "hi"}},
		{name: "null recipient", raw: `{"message":"hi","recipient":null}`, expected: ClientFrame{Message: "hi"}},
		{name: "bad recipient", raw: `{"message":"hi","recipient":"bob"}`, wantErr: true},
		{name: "negative recipient", raw: `{"recipient":-1}`, wantErr: true},
		{name: "not json", raw: `hello`, wantErr: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := DecodeClientFrame([]byte(tc.raw))
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrMalformedFrame)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, f)
		})
	}
}

func TestOutboundFrames(t *testing.T) {
	tcases := []struct {
		name     string
		frame    any
		expected string
	}{
		{name: "empty history", frame: NewHistoryFrame(nil), expected: `{"type":"chat_history","messages":[]}`},
		{name: "empty rooms list", frame: NewRoomsListFrame(nil), expected: `{"type":"chatrooms_list","chatrooms":[]}`},
		{name: "unread count", frame: NewUnreadCountFrame(3), expected: `{"type":"unread_count","count":3}`},
		{name: "typing", frame: &TypingFrame{Typing: true, Username: "a@example.com"}, expected: `{"typing":true,"username":"a@example.com"}`},
		{name: "error", frame: NewErrorFrame("room not found"), expected: `{"type":"error","error":"room not found"}`},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := json.Marshal(tc.frame)
			assert.NoError(t, err)
			assert.JSONEq(t, tc.expected, string(b))
		})
	}
}
