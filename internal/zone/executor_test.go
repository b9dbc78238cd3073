package zone

import (
	"context"
	"testing"
	"time"

	"github.com/nsd-project/nsd/internal/journal"
	"github.com/nsd-project/nsd/internal/wire"
)

// TestPublishIsO1 implements spec §8 property 6: publish is a single
// pointer store regardless of concurrent readers.
func TestPublishIsO1(t *testing.T) {
	origin, _ := wire.NewName("example.")
	z := NewZone(origin, RolePrimary)

	readers := 64
	done := make(chan struct{}, readers)
	for i := 0; i < readers; i++ {
		go func() {
			for j := 0; j < 1000; j++ {
				_ = z.Contents()
			}
			done <- struct{}{}
		}()
	}

	start := time.Now()
	z.Publish(NewEmptyContents(origin))
	elapsed := time.Since(start)
	if elapsed > 50*time.Millisecond {
		t.Fatalf("Publish took %v, expected O(1) regardless of reader count", elapsed)
	}

	for i := 0; i < readers; i++ {
		<-done
	}
}

// fakeSigner records the arguments each SignUpdate call received, letting
// tests assert on what handleDnssec actually threads through without
// involving real cryptography.
type fakeSigner struct {
	calls []fakeSignCall
}

type fakeSignCall struct {
	old, new *Contents
	force    bool
}

func (f *fakeSigner) SignUpdate(old, new *Contents, force bool) (*journal.Changeset, time.Time, error) {
	f.calls = append(f.calls, fakeSignCall{old: old, new: new, force: force})
	return nil, time.Time{}, nil
}

// TestHandleDnssecUsesPreChangeBaseAndForceFlag covers the FlagForceResign
// wiring: signzone sets the flag, handleDnssec must read it, pass it through
// as forceFull, and clear it afterwards (a one-shot trigger, not a sticky
// state).
func TestHandleDnssecUsesPreChangeBaseAndForceFlag(t *testing.T) {
	origin, _ := wire.NewName("example.")
	z := NewZone(origin, RolePrimary)

	oldContents := z.Contents()
	newContents := NewEmptyContents(origin)
	z.SetPreDnssecBase(oldContents)
	z.Publish(newContents)
	z.SetFlag(FlagForceResign)

	signer := &fakeSigner{}
	exec := NewExecutor(z, nil, signer, nil, nil, nil)
	exec.handleDnssec(context.Background())

	if len(signer.calls) != 1 {
		t.Fatalf("expected 1 SignUpdate call, got %d", len(signer.calls))
	}
	call := signer.calls[0]
	if call.old != oldContents {
		t.Fatalf("expected old to be the recorded pre-change snapshot, not the just-published one")
	}
	if call.new != newContents {
		t.Fatalf("expected new to be the currently published snapshot")
	}
	if !call.force {
		t.Fatal("expected forceFull=true when FlagForceResign was set")
	}
	if z.HasFlag(FlagForceResign) {
		t.Fatal("expected FlagForceResign to be cleared after handleDnssec runs")
	}
}

// TestHandleDnssecFallsBackToCurrentWhenNoPendingBase covers the periodic
// refresh_at tick / bare signzone case: no XFER or UPDATE has recorded a
// pre-change baseline, so old and new must both be the current snapshot
// rather than handleDnssec comparing stale state against itself.
func TestHandleDnssecFallsBackToCurrentWhenNoPendingBase(t *testing.T) {
	origin, _ := wire.NewName("example.")
	z := NewZone(origin, RolePrimary)

	signer := &fakeSigner{}
	exec := NewExecutor(z, nil, signer, nil, nil, nil)
	exec.handleDnssec(context.Background())

	if len(signer.calls) != 1 {
		t.Fatalf("expected 1 SignUpdate call, got %d", len(signer.calls))
	}
	call := signer.calls[0]
	if call.old != call.new {
		t.Fatal("expected old==new fallback when no pre-change baseline is pending")
	}
	if call.force {
		t.Fatal("expected forceFull=false without FlagForceResign set")
	}
}

func TestExecutorRunStopsOnCancel(t *testing.T) {
	origin, _ := wire.NewName("example.")
	z := NewZone(origin, RolePrimary)
	exec := NewExecutor(z, nil, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		exec.Run(ctx)
		close(stopped)
	}()
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("executor did not stop after context cancellation")
	}
}
