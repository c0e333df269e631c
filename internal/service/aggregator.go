package service

import (
	"sync"
	"time"

	"anonrelay/pkg/transport"

	"github.com/sirupsen/logrus"
)

// Aggregator buffers messages that share a media group ID and flushes the
// whole album once no new part arrives within the flush latency. Ungrouped
// messages pass through immediately as a batch of one.
type Aggregator struct {
	latency time.Duration
	flush   func(events []transport.MessageEvent)
	logger  *logrus.Logger

	mu     sync.Mutex
	groups map[string]*pendingGroup
}

type pendingGroup struct {
	events []transport.MessageEvent
	timer  *time.Timer
}

func NewAggregator(latencyMs int, flush func(events []transport.MessageEvent), logger *logrus.Logger) *Aggregator {
	return &Aggregator{
		latency: time.Duration(latencyMs) * time.Millisecond,
		flush:   flush,
		logger:  logger,
		groups:  make(map[string]*pendingGroup),
	}
}

// Observe takes one inbound message. Grouped messages are buffered; each new
// part restarts the group's flush timer.
func (a *Aggregator) Observe(ev transport.MessageEvent) {
	if ev.GroupID == "" {
		a.flush([]transport.MessageEvent{ev})
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	group, ok := a.groups[ev.GroupID]
	if !ok {
		group = &pendingGroup{}
		a.groups[ev.GroupID] = group
	}

	group.events = append(group.events, ev)

	if group.timer != nil {
		group.timer.Stop()
	}
	groupID := ev.GroupID
	group.timer = time.AfterFunc(a.latency, func() {
		a.flushGroup(groupID)
	})
}

// FlushAll synchronously flushes every pending group, for shutdown.
func (a *Aggregator) FlushAll() {
	a.mu.Lock()
	ids := make([]string, 0, len(a.groups))
	for id, group := range a.groups {
		if group.timer != nil {
			group.timer.Stop()
		}
		ids = append(ids, id)
	}
	a.mu.Unlock()

	for _, id := range ids {
		a.flushGroup(id)
	}
}

func (a *Aggregator) flushGroup(groupID string) {
	a.mu.Lock()
	group, ok := a.groups[groupID]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.groups, groupID)
	events := group.events
	a.mu.Unlock()

	if len(events) == 0 {
		return
	}

	a.logger.WithFields(logrus.Fields{
		"media_group_id": groupID,
		"parts":          len(events),
	}).Debug("Flushing media group")

	a.flush(events)
}
