package hub

import (
	"context"
	"sync"
	"testing"

	"github.com/dxpcore/dxp-chat/internal/stats"
	"github.com/dxpcore/dxp-chat/internal/testutil"
	"github.com/dxpcore/dxp-chat/internal/types"
	"github.com/stretchr/testify/assert"
)

type fakeSubscriber struct {
	mu     sync.Mutex
	events []*Event
	broken bool
}

func (f *fakeSubscriber) Deliver(ev *Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return false
	}
	f.events = append(f.events, ev)
	return true
}

func (f *fakeSubscriber) received() []*Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Event(nil), f.events...)
}

func newTestHub(t *testing.T) *Hub {
	su := (&stats.MockStatsUpdater{}).AllowAll()
	return NewHub(testutil.TestLogger(t), su)
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	h := newTestHub(t)
	s := &fakeSubscriber{}

	h.Join(Room(1), s)
	h.Join(Room(1), s)
	assert.Equal(t, 1, h.Members(Room(1)), "expected a single membership")

	n := h.Broadcast(context.Background(), Room(1), &Event{Kind: EventTyping}, nil)
	assert.Equal(t, 1, n, "expected one delivery")
	assert.Len(t, s.received(), 1, "expected no duplicate delivery")
}

func TestHub_LeaveDeletesEmptyGroup(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.NumGroups).Once()
	su.On("Decr", stats.NumGroups).Once()
	defer su.AssertExpectations(t)

	h := NewHub(testutil.TestLogger(t), su)
	a, b := &fakeSubscriber{}, &fakeSubscriber{}

	h.Join(Unread(7), a)
	h.Join(Unread(7), b)
	assert.Equal(t, 1, h.GroupCount())

	h.Leave(Unread(7), a)
	assert.Equal(t, 1, h.Members(Unread(7)))
	assert.False(t, h.IsMember(Unread(7), a))

	h.Leave(Unread(7), b)
	h.Leave(Unread(7), b) // leaving twice is harmless
	assert.Equal(t, 0, h.GroupCount(), "expected group to be removed once empty")
}

func TestHub_BroadcastReachesAllMembers(t *testing.T) {
	h := newTestHub(t)

	subs := make([]*fakeSubscriber, 5)
	for i := range subs {
		subs[i] = &fakeSubscriber{}
		h.Join(Room(3), subs[i])
	}
	outsider := &fakeSubscriber{}
	h.Join(Room(4), outsider)

	ev := &Event{Kind: EventChatMessage, RoomId: 3, Message: &types.ChatMessage{Id: 1, Message: "hi"}}
	n := h.Broadcast(context.Background(), Room(3), ev, nil)
	assert.Equal(t, 5, n)

	for i, s := range subs {
		got := s.received()
		if assert.Len(t, got, 1, "subscriber %d", i) {
			assert.Same(t, ev, got[0])
		}
	}
	assert.Empty(t, outsider.received(), "expected no delivery outside the group")
}

func TestHub_BroadcastSkipsSender(t *testing.T) {
	h := newTestHub(t)
	sender, other := &fakeSubscriber{}, &fakeSubscriber{}
	h.Join(Room(1), sender)
	h.Join(Room(1), other)

	n := h.Broadcast(context.Background(), Room(1), &Event{Kind: EventChatMessage}, sender)
	assert.Equal(t, 1, n)
	assert.Empty(t, sender.received())
	assert.Len(t, other.received(), 1)
}

func TestHub_BroadcastDropsFailedSubscriber(t *testing.T) {
	h := newTestHub(t)
	healthy := []*fakeSubscriber{{}, {}, {}}
	broken := &fakeSubscriber{broken: true}

	for _, s := range healthy {
		h.Join(Room(9), s)
	}
	h.Join(Room(9), broken)

	n := h.Broadcast(context.Background(), Room(9), &Event{Kind: EventTyping}, nil)
	assert.Equal(t, 3, n, "expected the remaining members to receive the event")
	assert.False(t, h.IsMember(Room(9), broken), "expected broken subscriber to be dropped")
	assert.Equal(t, 3, h.Members(Room(9)))

	for _, s := range healthy {
		assert.Len(t, s.received(), 1)
	}
}

func TestHub_BroadcastPreservesOrder(t *testing.T) {
	h := newTestHub(t)
	a, b := &fakeSubscriber{}, &fakeSubscriber{}
	h.Join(Room(1), a)
	h.Join(Room(1), b)

	for i := 1; i <= 50; i++ {
		h.Broadcast(context.Background(), Room(1), &Event{Kind: EventChatMessage, Message: &types.ChatMessage{Id: i}}, nil)
	}

	for _, s := range []*fakeSubscriber{a, b} {
		got := s.received()
		if assert.Len(t, got, 50) {
			for i, ev := range got {
				assert.Equal(t, i+1, ev.Message.Id, "expected events in broadcast order")
			}
		}
	}
}

func TestHub_ConcurrentJoinSameGroup(t *testing.T) {
	h := newTestHub(t)

	const n = 100
	subs := make([]*fakeSubscriber, n)
	var wg sync.WaitGroup
	for i := range subs {
		subs[i] = &fakeSubscriber{}
		wg.Add(1)
		go func(s *fakeSubscriber) {
			defer wg.Done()
			h.Join(Room(42), s)
			h.Broadcast(context.Background(), Room(42), &Event{Kind: EventTyping}, s)
		}(subs[i])
	}
	wg.Wait()

	assert.Equal(t, n, h.Members(Room(42)), "expected no lost joins")
	assert.Equal(t, 1, h.GroupCount())
}

func TestHub_EmptyGroupBroadcast(t *testing.T) {
	h := newTestHub(t)
	n := h.Broadcast(context.Background(), RoomsList(), &Event{Kind: EventRoomsChanged}, nil)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, h.GroupCount(), "broadcast must not create groups")
}
