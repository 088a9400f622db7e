package trigger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/marchway/mailsync/id"
	"github.com/marchway/mailsync/trigger"
)

func TestMemoryDeliversNotification(t *testing.T) {
	m := trigger.NewMemory(4)
	jobID := id.NewJobID()

	if err := m.Notify(context.Background(), jobID, trigger.ReasonCreated); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case n := <-m.C():
		if n.JobID != jobID {
			t.Errorf("JobID = %v, want %v", n.JobID, jobID)
		}
		if n.Reason != trigger.ReasonCreated {
			t.Errorf("Reason = %q, want created", n.Reason)
		}
		if n.At.IsZero() {
			t.Error("At is zero")
		}
	default:
		t.Fatal("no notification delivered")
	}
}

func TestMemoryDropsWhenFull(t *testing.T) {
	m := trigger.NewMemory(1)
	ctx := context.Background()

	if err := m.Notify(ctx, id.NewJobID(), trigger.ReasonCreated); err != nil {
		t.Fatalf("first Notify: %v", err)
	}
	// Buffer full: must not block or error.
	if err := m.Notify(ctx, id.NewJobID(), trigger.ReasonChunkCompleted); err != nil {
		t.Fatalf("second Notify: %v", err)
	}

	if got := len(m.C()); got != 1 {
		t.Errorf("buffered notifications = %d, want 1", got)
	}
}

func TestFuncAdapter(t *testing.T) {
	var gotReason string
	f := trigger.Func(func(_ context.Context, _ id.JobID, reason string) error {
		gotReason = reason
		return nil
	})

	if err := f.Notify(context.Background(), id.NewJobID(), trigger.ReasonRetryDue); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if gotReason != trigger.ReasonRetryDue {
		t.Errorf("reason = %q, want retry_due", gotReason)
	}
}

func TestMultiNotifiesAllAndReturnsFirstError(t *testing.T) {
	var calls int
	failing := trigger.Func(func(context.Context, id.JobID, string) error {
		calls++
		return errors.New("transport down")
	})
	ok := trigger.Func(func(context.Context, id.JobID, string) error {
		calls++
		return nil
	})

	m := trigger.Multi{failing, ok}
	err := m.Notify(context.Background(), id.NewJobID(), trigger.ReasonCreated)
	if err == nil || err.Error() != "transport down" {
		t.Errorf("err = %v, want transport down", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (all triggers notified)", calls)
	}
}

func TestNoopDiscards(t *testing.T) {
	var n trigger.Noop
	if err := n.Notify(context.Background(), id.NewJobID(), trigger.ReasonCreated); err != nil {
		t.Fatalf("Notify: %v", err)
	}
}
