/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package zone

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nsd-project/nsd/internal/journal"
	"github.com/nsd-project/nsd/internal/wire"
)

// Flags mirror the teacher's FORCE_AXFR/FORCE_RESIGN zone flags
// (tdns/structs.go ZoneData), generalized into an explicit bitset on Zone
// rather than ad-hoc booleans.
type Flags uint8

const (
	FlagForceAXFR Flags = 1 << iota
	FlagForceResign
)

// Role distinguishes primary (master) from secondary (slave) zones, per the
// teacher's ZoneType (tdns/structs.go).
type Role int

const (
	RolePrimary Role = iota + 1
	RoleSecondary
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// PendingUpdateQueue is the bounded, mutex-guarded multi-producer/
// single-consumer queue from spec §5: query threads push pending DDNS
// requests (opaque to Zone; internal/ddns owns the concrete batching logic
// and pushes its own request type), the zone executor drains and processes
// them off-lock.
type PendingUpdateQueue struct {
	mu    sync.Mutex
	items []interface{}
	max   int
}

func NewPendingUpdateQueue(max int) *PendingUpdateQueue {
	return &PendingUpdateQueue{max: max}
}

// Push appends an item (producer side, query threads), grounded on
// tdns/zone_updater.go's UpdateRequest channel generalized from an
// unbounded channel into the spec's explicit bounded mutex-guarded queue.
func (q *PendingUpdateQueue) Push(item interface{}) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.max > 0 && len(q.items) >= q.max {
		return false
	}
	q.items = append(q.items, item)
	return true
}

// Drain empties the queue under the same mutex and returns its contents for
// off-lock processing by the zone executor (spec §5).
func (q *PendingUpdateQueue) Drain() []interface{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// MasterPeer describes the upstream this (secondary) zone transfers from.
type MasterPeer struct {
	Address string
	TsigKey *wire.TsigKey
}

// Zone is the mutable container described in spec §3: configuration handle,
// current contents (atomic reference), event queue, journal handle, flags,
// master-peer descriptor, ACL references, pending-update queue. Grounded on
// tdns/structs.go's ZoneData, reworked from one big sync.Mutex-guarded
// struct into an RCU-style atomic snapshot pointer (see DESIGN.md OQ-2) plus
// a small set of genuinely-mutable fields guarded by their own locks.
type Zone struct {
	Name wire.Name
	Role Role

	contents atomic.Pointer[Contents]

	// preDnssec records the snapshot that was current immediately before
	// the most recent content-changing Publish, so the DNSSEC event
	// handler (scheduled right after that Publish) can diff the right
	// before/after pair instead of comparing the just-published Contents
	// against itself (spec §4.4 "for each RRset touched by ddns_ch").
	preDnssec atomic.Pointer[Contents]

	Journal *journal.File
	Events  *eventQueue
	eventMu sync.Mutex

	Flags      Flags
	Master     *MasterPeer
	Downstream []string // notify targets
	ACL        []string // names/addresses permitted to send UPDATE

	Pending *PendingUpdateQueue

	DnssecEnabled bool

	// backoff state per event kind, consulted by the executor's retry path.
	backoff   map[EventKind]int64 // nanoseconds, 0 = not yet failed
	backoffMu sync.Mutex
}

func NewZone(name wire.Name, role Role) *Zone {
	z := &Zone{
		Name:    name,
		Role:    role,
		Events:  newEventQueue(),
		Pending: NewPendingUpdateQueue(1024),
		backoff: make(map[EventKind]int64),
	}
	z.contents.Store(NewEmptyContents(name))
	return z
}

// Contents returns a pinned reference to the current snapshot. The caller
// may hold it for the duration of a request; the Go garbage collector
// supplies the retirement guarantee spec §5 asks for explicitly (see
// DESIGN.md OQ-2).
func (z *Zone) Contents() *Contents {
	return z.contents.Load()
}

// SetPreDnssecBase records the snapshot that was current right before a
// content-changing publish, for the DNSSEC event scheduled immediately
// afterwards to diff against. Call with the pre-publish Contents before
// Publish, not after.
func (z *Zone) SetPreDnssecBase(c *Contents) {
	z.preDnssec.Store(c)
}

// TakeDnssecBase returns and clears the recorded pre-change snapshot, or
// nil if none is pending — e.g. a periodic resign triggered by refresh_at
// or an explicit signzone with no preceding content change.
func (z *Zone) TakeDnssecBase() *Contents {
	return z.preDnssec.Swap(nil)
}

// Publish atomically swaps in a new snapshot — spec §8 property 6: this
// completes in O(1) regardless of reader count, since it is a single
// pointer store.
func (z *Zone) Publish(c *Contents) {
	z.contents.Store(c)
}

// Serial is a convenience accessor over the current snapshot's serial.
func (z *Zone) Serial() uint32 { return z.Contents().Serial() }

// HasFlag reports whether f is set, e.g. FlagForceAXFR consulted by
// internal/xfr before choosing IXFR vs AXFR.
func (z *Zone) HasFlag(f Flags) bool { return z.Flags&f != 0 }

// ClearFlag clears f, called once the flag's one-shot effect (forcing the
// next XFER to be a full AXFR) has been applied.
func (z *Zone) ClearFlag(f Flags) { z.Flags &^= f }

// SetFlag sets f, e.g. the control protocol's retransfer command setting
// FlagForceAXFR before scheduling an immediate XFER.
func (z *Zone) SetFlag(f Flags) { z.Flags |= f }

// Schedule requests an event of kind at due (or immediately if force),
// thread-safe for cross-zone callers (e.g. the control protocol).
func (z *Zone) Schedule(kind EventKind, due time.Time, force bool) {
	z.eventMu.Lock()
	defer z.eventMu.Unlock()
	z.Events.Schedule(kind, due, force)
}

// PendingEvents returns a snapshot of currently scheduled events sorted by
// due time, used by the control protocol's zonestatus report.
func (z *Zone) PendingEvents() []Event {
	z.eventMu.Lock()
	defer z.eventMu.Unlock()
	return z.Events.All()
}
