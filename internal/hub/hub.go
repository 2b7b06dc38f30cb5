package hub

import (
	"context"
	"sync"

	"github.com/dxpcore/dxp-chat/internal/stats"
	"github.com/hashicorp/go-hclog"
)

// Subscriber receives fanned-out events. Deliver must not block; returning
// false means the subscriber can no longer accept events and is dropped from
// the group.
type Subscriber interface {
	Deliver(ev *Event) bool
}

// Fabric is the join/leave/broadcast contract shared by the in-process Hub
// and the Redis relay.
type Fabric interface {
	Join(g Group, s Subscriber)
	Leave(g Group, s Subscriber)
	Broadcast(ctx context.Context, g Group, ev *Event, skip Subscriber) int
}

// Hub maps group names to their live subscribers. All membership changes and
// deliveries go through one mutex, so two sessions creating the same group
// concurrently cannot lose an update, and events broadcast by one caller reach
// each member in call order.
type Hub struct {
	log    hclog.Logger
	stats  stats.StatsProvider
	mu     sync.Mutex
	groups map[Group]map[Subscriber]struct{}
}

func NewHub(logger hclog.Logger, su stats.StatsProvider) *Hub {
	return &Hub{
		log:    logger,
		stats:  su,
		groups: make(map[Group]map[Subscriber]struct{}),
	}
}

// Join adds s to g, creating the group if needed. Joining twice is a no-op.
func (h *Hub) Join(g Group, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[g]
	if !ok {
		members = make(map[Subscriber]struct{})
		h.groups[g] = members
		h.stats.Incr(stats.NumGroups)
	}
	members[s] = struct{}{}
	h.log.Trace("joined group", "group", g, "members", len(members))
}

// Leave removes s from g and deletes the group once it is empty.
func (h *Hub) Leave(g Group, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(g, s)
}

func (h *Hub) removeLocked(g Group, s Subscriber) {
	members, ok := h.groups[g]
	if !ok {
		return
	}

	delete(members, s)
	if len(members) == 0 {
		delete(h.groups, g)
		h.stats.Decr(stats.NumGroups)
	}
}

// Broadcast delivers ev to every member of g except skip and returns the
// number of members that accepted it. Members whose Deliver fails are removed
// from the group; delivery to the rest continues.
func (h *Hub) Broadcast(_ context.Context, g Group, ev *Event, skip Subscriber) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	var (
		delivered int
		failed    []Subscriber
	)
	for s := range h.groups[g] {
		if skip != nil && s == skip {
			continue
		}

		if !s.Deliver(ev) {
			failed = append(failed, s)
			continue
		}
		delivered++
	}

	for _, s := range failed {
		h.log.Warn("dropping subscriber after failed delivery", "group", g, "kind", ev.Kind)
		h.stats.Incr(stats.DroppedDeliveries)
		h.removeLocked(g, s)
	}

	h.log.Trace("broadcast", "group", g, "kind", ev.Kind, "delivered", delivered)
	return delivered
}

// Members returns the number of subscribers currently in g.
func (h *Hub) Members(g Group) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[g])
}

// IsMember reports whether s currently belongs to g.
func (h *Hub) IsMember(g Group, s Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.groups[g][s]
	return ok
}

// GroupCount returns the number of non-empty groups.
func (h *Hub) GroupCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups)
}
