package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"nhbcdp/core/types"
)

const (
	streamHistoryLimit = 1024
	streamBuffer       = 64
)

// Update is one event as delivered to live subscribers. Sequence is local to
// the Stream and restarts with the process.
type Update struct {
	Sequence  uint64
	Type      string
	Ilk       string
	Token     string
	Attrs     map[string]string
	Timestamp int64
}

func newUpdate(seq uint64, payload *types.Event, now time.Time) Update {
	attrs := make(map[string]string, len(payload.Attributes))
	for k, v := range payload.Attributes {
		attrs[k] = v
	}
	return Update{
		Sequence:  seq,
		Type:      payload.Type,
		Ilk:       payload.Attr("ilk"),
		Token:     payload.Attr("token"),
		Attrs:     attrs,
		Timestamp: now.Unix(),
	}
}

func (u Update) clone() Update {
	out := u
	out.Attrs = make(map[string]string, len(u.Attrs))
	for k, v := range u.Attrs {
		out.Attrs[k] = v
	}
	return out
}

// Match applies the same type, ilk and token filter as the journal. Empty
// fields match everything.
func (u Update) Match(eventType, ilk, token string) bool {
	if eventType != "" && u.Type != eventType {
		return false
	}
	if ilk != "" && !strings.EqualFold(u.Ilk, ilk) {
		return false
	}
	if token != "" && !strings.EqualFold(u.Token, token) {
		return false
	}
	return true
}

// Stream fans committed events out to live subscribers and keeps a bounded
// history so a reconnecting client can resume from its last sequence. Slow
// subscribers miss updates rather than stall the publisher.
type Stream struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	subs    map[uint64]chan Update
	history []Update
	now     func() time.Time
}

func NewStream() *Stream {
	return &Stream{subs: make(map[uint64]chan Update), now: time.Now}
}

// Emit implements the Emitter interface.
func (s *Stream) Emit(evt Event) {
	if s == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}

	s.mu.Lock()
	s.seq++
	update := newUpdate(s.seq, payload, s.now())
	s.history = append(s.history, update)
	if len(s.history) > streamHistoryLimit {
		trimmed := make([]Update, streamHistoryLimit)
		copy(trimmed, s.history[len(s.history)-streamHistoryLimit:])
		s.history = trimmed
	}
	subscribers := make([]chan Update, 0, len(s.subs))
	for _, ch := range s.subs {
		subscribers = append(subscribers, ch)
	}
	// Sends happen under the lock so a concurrent cancel cannot close a
	// channel mid send.
	for _, ch := range subscribers {
		select {
		case ch <- update.clone():
		default:
		}
	}
	s.mu.Unlock()
}

// Subscribe registers a subscriber for updates after the given sequence and
// returns the retained backlog past it. The channel closes when cancel runs
// or ctx ends.
func (s *Stream) Subscribe(ctx context.Context, after uint64) (<-chan Update, func(), []Update) {
	updates := make(chan Update, streamBuffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = updates
	backlog := make([]Update, 0, len(s.history))
	for _, entry := range s.history {
		if entry.Sequence > after {
			backlog = append(backlog, entry.clone())
		}
	}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
			s.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog
}

// Subscribers returns the number of live subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
