package trigger

import (
	"context"
	"time"

	"github.com/marchway/mailsync/id"
)

// Memory is an in-process Trigger backed by a buffered channel, for
// single-process deployments and tests. When the buffer is full the
// notification is dropped; the sweep recovers anything missed.
type Memory struct {
	ch chan Notification
}

// NewMemory creates a Memory trigger with the given buffer size.
// Sizes below 1 get a buffer of 64.
func NewMemory(buffer int) *Memory {
	if buffer < 1 {
		buffer = 64
	}
	return &Memory{ch: make(chan Notification, buffer)}
}

// Notify implements Trigger.
func (m *Memory) Notify(_ context.Context, jobID id.JobID, reason string) error {
	n := Notification{JobID: jobID, Reason: reason, At: time.Now().UTC()}
	select {
	case m.ch <- n:
	default:
		// Buffer full: drop. Consumers behind by this much are already
		// draining the claim pool as fast as they can.
	}
	return nil
}

// C returns the notification channel for consumers to range over.
func (m *Memory) C() <-chan Notification { return m.ch }
