package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/cuongbtq/ai-recruiter/internal/domain"
)

var (
	// ErrEndOfStream is returned by Next after the terminal event was delivered
	ErrEndOfStream = errors.New("end of stream")

	// ErrSuperseded is returned by Next when a newer subscriber took over the job.
	// It is a clean termination, not a failure.
	ErrSuperseded = errors.New("subscription superseded")

	// ErrUnsubscribed is returned by Next after the subscriber detached itself
	ErrUnsubscribed = errors.New("unsubscribed")

	// ErrHubClosed is returned by Next when the hub shut down
	ErrHubClosed = errors.New("stream hub closed")
)

// Subscription is one subscriber's ordered, non-restartable view of a job's
// events. Events are queued without bound so publishers never wait on a slow
// reader; a single goroutine is expected to call Next.
type Subscription struct {
	jobID      string
	handle     string
	attachedAt uint64

	mu      sync.Mutex
	queue   []domain.ProgressEvent
	lastSeq uint64
	reason  error
	notify  chan struct{}
}

func newSubscription(jobID, handle string, attachedAt uint64) *Subscription {
	return &Subscription{
		jobID:      jobID,
		handle:     handle,
		attachedAt: attachedAt,
		notify:     make(chan struct{}, 1),
	}
}

// JobID returns the job this subscription follows
func (s *Subscription) JobID() string { return s.jobID }

// Handle returns the transport connection handle given at subscribe time
func (s *Subscription) Handle() string { return s.handle }

// AttachedAt returns the hub sequence number at the moment of attachment
func (s *Subscription) AttachedAt() uint64 { return s.attachedAt }

// Err returns why the subscription ended, or nil while it is live
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Next blocks until the next event is available. Once the queue is drained
// on an ended subscription it returns the end reason (ErrEndOfStream,
// ErrSuperseded, ErrUnsubscribed or ErrHubClosed), or ctx.Err() if the wait
// was cancelled.
func (s *Subscription) Next(ctx context.Context) (domain.ProgressEvent, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = domain.ProgressEvent{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		if s.reason != nil {
			err := s.reason
			s.mu.Unlock()
			return domain.ProgressEvent{}, err
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return domain.ProgressEvent{}, ctx.Err()
		}
	}
}

// push appends ev unless the subscription ended or ev was already seen.
// CONNECTED is synthetic and bypasses the sequence check.
func (s *Subscription) push(ev domain.ProgressEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reason != nil {
		return false
	}
	if ev.Kind != domain.EventConnected {
		if ev.Seq <= s.lastSeq {
			return false
		}
		s.lastSeq = ev.Seq
	}
	s.queue = append(s.queue, ev)
	s.signal()
	return true
}

// end stops the subscription. With drop set, undelivered events are discarded
// so the reader observes the end reason immediately.
func (s *Subscription) end(reason error, drop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reason != nil {
		return
	}
	s.reason = reason
	if drop {
		s.queue = nil
	}
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
