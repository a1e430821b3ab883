package stream

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/ai-recruiter/internal/domain"
)

// Hub owns every job's progress channel and the registry of current
// subscribers. There is at most one live subscriber per job; attaching a new
// one evicts the previous holder first.
//
// Lock order is Hub.mu -> channel.mu -> Subscription.mu. None of these are
// held while calling into storage or the pipeline.
type Hub struct {
	logger *slog.Logger
	grace  time.Duration
	seq    atomic.Uint64

	mu         sync.RWMutex
	channels   map[string]*channel
	tombstones map[string]*tombstone
	closed     bool
}

// channel is the per-job broadcast state
type channel struct {
	mu     sync.Mutex
	latest *domain.ProgressEvent
	sub    *Subscription

	// ephemeral channels are opened by a subscriber for a job nothing in this
	// process is publishing to; they go away with their subscriber.
	ephemeral bool
}

// tombstone keeps a finished job's terminal event for late subscribers
type tombstone struct {
	event domain.ProgressEvent
	timer *time.Timer
}

// NewHub creates a hub. grace bounds how long a terminal event is retained
// after its channel is torn down; zero disables retention.
func NewHub(logger *slog.Logger, grace time.Duration) *Hub {
	return &Hub{
		logger:     logger,
		grace:      grace,
		channels:   make(map[string]*channel),
		tombstones: make(map[string]*tombstone),
	}
}

// Open creates the channel for a job if it does not exist yet
func (h *Hub) Open(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	if ch, ok := h.channels[jobID]; ok {
		ch.ephemeral = false
		return
	}
	h.channels[jobID] = &channel{}
}

// Publish stamps ev with the next sequence number and delivers it to the
// job's current subscriber. A terminal event also ends that subscriber and
// tears the channel down. The stamped event is returned.
func (h *Hub) Publish(ev domain.ProgressEvent) domain.ProgressEvent {
	if ev.Kind == domain.EventConnected {
		return ev
	}

	ev.Seq = h.seq.Add(1)
	if ev.Kind.IsTerminal() {
		h.publishTerminal(ev)
		return ev
	}

	ch := h.lookupOrOpen(ev.JobID)
	if ch == nil {
		return ev
	}
	defer h.mu.RUnlock()

	ch.mu.Lock()
	defer ch.mu.Unlock()

	latest := ev
	ch.latest = &latest
	if ch.sub != nil {
		ch.sub.push(ev)
	}

	return ev
}

// lookupOrOpen returns the job's channel with h.mu read-locked, or nil with
// no lock held when the hub is closed.
func (h *Hub) lookupOrOpen(jobID string) *channel {
	h.mu.RLock()
	if ch, ok := h.channels[jobID]; ok {
		return ch
	}
	h.mu.RUnlock()

	h.Open(jobID)

	h.mu.RLock()
	if ch, ok := h.channels[jobID]; ok {
		return ch
	}
	h.mu.RUnlock()
	return nil
}

func (h *Hub) publishTerminal(ev domain.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	if ch, ok := h.channels[ev.JobID]; ok {
		delete(h.channels, ev.JobID)

		ch.mu.Lock()
		if ch.sub != nil {
			ch.sub.push(ev)
			ch.sub.end(ErrEndOfStream, false)
			ch.sub = nil
		}
		ch.latest = nil
		ch.mu.Unlock()
	}

	h.rememberLocked(ev)

	h.logger.Debug("Progress channel closed",
		slog.String("job_id", ev.JobID),
		slog.String("kind", string(ev.Kind)),
		slog.Uint64("seq", ev.Seq),
	)
}

func (h *Hub) rememberLocked(ev domain.ProgressEvent) {
	if h.grace <= 0 {
		return
	}
	if old, ok := h.tombstones[ev.JobID]; ok {
		old.timer.Stop()
	}

	t := &tombstone{event: ev}
	t.timer = time.AfterFunc(h.grace, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if cur, ok := h.tombstones[ev.JobID]; ok && cur == t {
			delete(h.tombstones, ev.JobID)
		}
	})
	h.tombstones[ev.JobID] = t
}

// Subscribe attaches handle as the job's only subscriber. The returned
// sequence starts with a synthetic CONNECTED event, then replays the latest
// progress of a running job, then carries live events until the terminal
// one. seed is the caller's current view of the job and is used only when
// the hub holds no state for it (the job finished long ago, or nothing in
// this process is running it).
func (h *Hub) Subscribe(jobID, handle string, seed domain.Job) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	attachedAt := h.seq.Load()
	sub := newSubscription(jobID, handle, attachedAt)
	sub.push(domain.ProgressEvent{
		JobID:   jobID,
		Kind:    domain.EventConnected,
		Message: "Connected",
		Seq:     attachedAt,
	})

	if h.closed {
		sub.end(ErrHubClosed, false)
		return sub
	}

	ch, ok := h.channels[jobID]
	if !ok {
		if t, found := h.tombstones[jobID]; found {
			sub.push(t.event)
			sub.end(ErrEndOfStream, false)
			return sub
		}

		if seed.Status.IsTerminal() {
			ev := seed.StateEvent()
			ev.Seq = h.seq.Add(1)
			sub.push(ev)
			sub.end(ErrEndOfStream, false)
			return sub
		}

		ch = &channel{ephemeral: true}
		if seed.Status == domain.JobStatusRunning {
			ev := seed.StateEvent()
			ev.Seq = h.seq.Add(1)
			ch.latest = &ev
		}
		h.channels[jobID] = ch
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if prev := ch.sub; prev != nil {
		prev.end(ErrSuperseded, true)
		h.logger.Info("Subscriber superseded",
			slog.String("job_id", jobID),
			slog.String("previous_handle", prev.handle),
			slog.String("handle", handle),
		)
	}

	if ch.latest != nil {
		sub.push(*ch.latest)
	}
	ch.sub = sub

	h.logger.Debug("Subscriber attached",
		slog.String("job_id", jobID),
		slog.String("handle", handle),
		slog.Uint64("attached_at", attachedAt),
	)

	return sub
}

// Unsubscribe detaches handle from the job. It is a no-op when handle is not
// the current subscriber, which covers repeated calls and an evicted
// subscriber racing its own disconnect.
func (h *Hub) Unsubscribe(jobID, handle string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[jobID]
	if !ok {
		return
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.sub == nil || ch.sub.handle != handle {
		return
	}
	ch.sub.end(ErrUnsubscribed, true)
	ch.sub = nil

	if ch.ephemeral {
		delete(h.channels, jobID)
	}

	h.logger.Debug("Subscriber detached",
		slog.String("job_id", jobID),
		slog.String("handle", handle),
	)
}

// Subscriber returns the handle currently attached to the job, if any
func (h *Hub) Subscriber(jobID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ch, ok := h.channels[jobID]
	if !ok {
		return "", false
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.sub == nil {
		return "", false
	}
	return ch.sub.handle, true
}

// Channels returns how many job channels are open
func (h *Hub) Channels() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

// Close ends every subscription and drops all retained state
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for jobID, ch := range h.channels {
		ch.mu.Lock()
		if ch.sub != nil {
			ch.sub.end(ErrHubClosed, false)
			ch.sub = nil
		}
		ch.mu.Unlock()
		delete(h.channels, jobID)
	}

	for jobID, t := range h.tombstones {
		t.timer.Stop()
		delete(h.tombstones, jobID)
	}

	h.logger.Info("Stream hub closed")
}
