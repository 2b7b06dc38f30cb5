package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dxpcore/dxp-chat/internal/types"
)

const (
	FrameTyping     = "typing"
	FrameStopTyping = "stop_typing"
	FrameRefresh    = "refresh"
)

// ClientFrame is an inbound frame. A frame without a type and with a
// non-empty message is a send.
type ClientFrame struct {
	Type      string  `json:"type,omitempty"`
	Message   string  `json:"message,omitempty"`
	Recipient UserRef `json:"recipient,omitempty"`
}

// UserRef is a user id sent either as a JSON number or as a numeric string.
// Zero means no user.
type UserRef int

func (u *UserRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*u = 0
			return nil
		}
		b = []byte(s)
	}

	id, err := strconv.Atoi(string(b))
	if err != nil {
		return fmt.Errorf("invalid user id %q", b)
	}
	if id < 0 {
		return fmt.Errorf("invalid user id %d", id)
	}
	*u = UserRef(id)
	return nil
}

func DecodeClientFrame(raw []byte) (ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return ClientFrame{}, fmt.Errorf("%w: %s", ErrMalformedFrame, err)
	}
	return f, nil
}

type HistoryFrame struct {
	Type     string              `json:"type"`
	Messages []types.ChatMessage `json:"messages"`
}

type TypingFrame struct {
	Typing   bool   `json:"typing"`
	Username string `json:"username"`
}

type RoomsListFrame struct {
	Type      string              `json:"type"`
	Chatrooms []types.RoomSummary `json:"chatrooms"`
}

type UnreadCountFrame struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewHistoryFrame(messages []types.ChatMessage) *HistoryFrame {
	if messages == nil {
		messages = []types.ChatMessage{}
	}
	return &HistoryFrame{Type: "chat_history", Messages: messages}
}

func NewRoomsListFrame(rooms []types.RoomSummary) *RoomsListFrame {
	if rooms == nil {
		rooms = []types.RoomSummary{}
	}
	return &RoomsListFrame{Type: "chatrooms_list", Chatrooms: rooms}
}

func NewUnreadCountFrame(count int) *UnreadCountFrame {
	return &UnreadCountFrame{Type: "unread_count", Count: count}
}

func NewErrorFrame(msg string) *ErrorFrame {
	return &ErrorFrame{Type: "error", Error: msg}
}
