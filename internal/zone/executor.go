/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package zone

import (
	"context"
	"log"
	"time"

	"github.com/nsd-project/nsd/internal/journal"
)

// The executor dispatches to transfer, signing and DDNS-batching logic that
// live in sibling packages (internal/xfr, internal/dnssec, internal/ddns).
// To avoid an import cycle (those packages need zone.Contents/zone.Apply),
// the executor depends only on these narrow interfaces; internal/server
// wires the concrete implementations in at startup — "accept interfaces,
// return structs" applied at the package-boundary level.

// Transferer performs a REFRESH (SOA probe) or XFER (AXFR/IXFR) against the
// zone's configured master.
type Transferer interface {
	ProbeSerial(ctx context.Context, z *Zone) (uint32, error)
	Transfer(ctx context.Context, z *Zone) (*Contents, []*journal.Changeset, error)
}

// Signer computes a signing changeset for a zone transition, per spec §4.4.
// forceFull mirrors the control protocol's signzone command (zone.FlagForceResign):
// when true, the signer must do a full resign regardless of what it would
// otherwise infer from comparing old and new.
type Signer interface {
	SignUpdate(old, new *Contents, forceFull bool) (sec *journal.Changeset, refreshAt time.Time, err error)
}

// NotifySender sends NOTIFY to all configured downstream slaves.
type NotifySender interface {
	Notify(z *Zone) error
}

// UpdateDrainer drains and applies the zone's pending DDNS queue into one
// batched changeset (spec §4.6), returning nil if nothing was pending or
// everything failed prerequisites.
type UpdateDrainer interface {
	DrainAndApply(z *Zone) (*journal.Changeset, error)
}

// FileWriter serializes current contents to a zone file (FLUSH handler).
type FileWriter interface {
	Flush(z *Zone) error
}

// Executor runs the single-threaded cooperative per-zone loop from spec
// §4.5, grounded on tdns/refreshengine.go's RefreshEngine select-loop and
// tdns/resigner.go's ResignerEngine, generalized from "one engine for all
// zones" into "one executor goroutine per zone".
type Executor struct {
	Zone     *Zone
	Xfr      Transferer
	Signer   Signer
	Notifier NotifySender
	Updates  UpdateDrainer
	Files    FileWriter

	wake chan struct{}
}

func NewExecutor(z *Zone, xfr Transferer, signer Signer, notifier NotifySender, updates UpdateDrainer, files FileWriter) *Executor {
	return &Executor{Zone: z, Xfr: xfr, Signer: signer, Notifier: notifier, Updates: updates, Files: files, wake: make(chan struct{}, 1)}
}

// Wake signals the executor to re-check its queue immediately, used when an
// external actor (control protocol, query thread pushing an UPDATE) needs
// prompt attention without waiting for the sleep timer.
func (e *Executor) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run is the executor's main loop (spec §4.5 steps 1-3). It exits when ctx
// is cancelled.
func (e *Executor) Run(ctx context.Context) {
	z := e.Zone
	z.Schedule(EventRefresh, time.Now(), true)
	if z.DnssecEnabled {
		// A primary zone loaded straight from a zone file never goes
		// through handleXfer/handleUpdate, so without this the apex
		// DNSKEY would never get published until the first XFER or
		// UPDATE. Run without a pre-change baseline, like a periodic
		// refresh_at tick: handleDnssec falls back to comparing the
		// current snapshot against itself.
		z.Schedule(EventDnssec, time.Now(), true)
	}

	for {
		now := time.Now()
		z.eventMu.Lock()
		ev, ok := z.Events.Next(now)
		if ok {
			z.Events.Remove(ev.Kind)
		}
		earliest, hasEarliest := z.Events.EarliestDue()
		z.eventMu.Unlock()

		if ok {
			e.dispatch(ctx, ev)
			continue
		}

		var sleep time.Duration
		if hasEarliest {
			sleep = time.Until(earliest)
			if sleep < 0 {
				sleep = 0
			}
		} else {
			sleep = time.Minute
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-e.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (e *Executor) dispatch(ctx context.Context, ev Event) {
	z := e.Zone
	switch ev.Kind {
	case EventRefresh:
		e.handleRefresh(ctx)
	case EventXfer:
		e.handleXfer(ctx)
	case EventUpdate:
		e.handleUpdate(ctx)
	case EventDnssec:
		e.handleDnssec(ctx)
	case EventFlush:
		e.handleFlush(ctx)
	case EventNotify:
		e.handleNotify(ctx)
	case EventExpire:
		e.handleExpire(ctx)
	default:
		log.Printf("executor %s: unknown event kind %v", z.Name, ev.Kind)
	}
}

// handleRefresh implements spec §4.5 REFRESH: SOA query to master, compare
// serials, schedule XFER or retry with backoff. Grounded on
// tdns/refreshengine.go's FindSoaRefresh/RefreshCounter logic.
func (e *Executor) handleRefresh(ctx context.Context) {
	z := e.Zone
	if e.Xfr == nil {
		return
	}
	master, err := e.Xfr.ProbeSerial(ctx, z)
	if err != nil {
		e.retry(EventRefresh)
		log.Printf("zone %s: REFRESH probe failed: %v", z.Name, err)
		return
	}
	e.resetBackoff(EventRefresh)
	if journal.SerialGreater(master, z.Serial()) {
		z.Schedule(EventXfer, time.Now(), true)
	} else {
		z.Schedule(EventRefresh, time.Now().Add(defaultRefreshInterval), false)
	}
}

// handleXfer implements spec §4.5 XFER: IXFR-if-known-serial else AXFR, with
// automatic AXFR fallback, journal+swap on success, downstream NOTIFY/DNSSEC
// scheduling. Grounded on tdns/dnsutils.go's ZoneTransferIn and
// tdns/ixfr/ixfr.go's differential parser, via internal/xfr.
func (e *Executor) handleXfer(ctx context.Context) {
	z := e.Zone
	if e.Xfr == nil {
		return
	}
	old := z.Contents()
	newContents, changesets, err := e.Xfr.Transfer(ctx, z)
	if err != nil {
		e.retry(EventXfer)
		log.Printf("zone %s: XFER failed: %v", z.Name, err)
		return
	}
	e.resetBackoff(EventXfer)
	z.ClearFlag(FlagForceAXFR)

	if z.Journal != nil {
		if len(changesets) == 0 {
			// A full AXFR (no differential available) carries no incremental
			// history to append: rebase the journal to start fresh at the
			// transferred serial, matching scenario S3 ("journal is
			// truncated and rebased") rather than attempting to synthesize
			// a single whole-zone changeset.
			if err := z.Journal.Truncate(newContents.Serial()); err != nil {
				log.Printf("zone %s: journal rebase failed: %v", z.Name, err)
			}
		} else {
			for _, cs := range changesets {
				if err := z.Journal.AppendChangeset(cs); err != nil {
					log.Printf("zone %s: journal append failed: %v", z.Name, err)
				}
			}
		}
	}
	if z.DnssecEnabled {
		z.SetPreDnssecBase(old)
	}
	z.Publish(newContents)

	z.Schedule(EventNotify, time.Now(), true)
	if z.DnssecEnabled {
		z.Schedule(EventDnssec, time.Now(), true)
	}
}

// handleUpdate implements spec §4.5 UPDATE and §4.6 DDNS applier: drain the
// pending queue into one batched changeset, apply it to the published
// snapshot, journal and publish, then schedule the downstream FLUSH/NOTIFY
// (and DNSSEC re-sign, if enabled) that a successful batch triggers.
func (e *Executor) handleUpdate(ctx context.Context) {
	z := e.Zone
	if e.Updates == nil {
		return
	}
	cs, err := e.Updates.DrainAndApply(z)
	if err != nil {
		log.Printf("zone %s: UPDATE batch failed: %v", z.Name, err)
		return
	}
	if cs == nil || cs.IsEmpty() {
		return
	}

	old := z.Contents()
	nc, err := Apply(old, []*journal.Changeset{cs}, ApplyOptions{AllowMissingRemove: true, OverwriteTTL: true})
	if err != nil {
		log.Printf("zone %s: UPDATE apply failed: %v", z.Name, err)
		return
	}
	if z.Journal != nil {
		if err := z.Journal.AppendChangeset(cs); err != nil {
			log.Printf("zone %s: journal append failed: %v", z.Name, err)
		}
	}
	if z.DnssecEnabled {
		z.SetPreDnssecBase(old)
	}
	z.Publish(nc)

	z.Schedule(EventFlush, time.Now(), false)
	z.Schedule(EventNotify, time.Now(), true)
	if z.DnssecEnabled {
		z.Schedule(EventDnssec, time.Now(), true)
	}
}

// handleDnssec implements spec §4.5 DNSSEC: compute signatures, treat
// output as an UPDATE-like transaction. It diffs against the Contents that
// was current right before the triggering publish (z.TakeDnssecBase()),
// not against the just-published Contents, so the signer's incremental path
// can actually see which RRsets changed; when no such baseline is pending
// (a periodic refresh_at tick or an explicit signzone), it falls back to
// the current Contents and relies on FlagForceResign/forceFull instead.
func (e *Executor) handleDnssec(ctx context.Context) {
	z := e.Zone
	if e.Signer == nil {
		return
	}
	current := z.Contents()
	old := z.TakeDnssecBase()
	if old == nil {
		old = current
	}
	force := z.HasFlag(FlagForceResign)
	z.ClearFlag(FlagForceResign)

	secCh, refreshAt, err := e.Signer.SignUpdate(old, current, force)
	if err != nil {
		e.retry(EventDnssec)
		log.Printf("zone %s: DNSSEC signing failed: %v", z.Name, err)
		return
	}
	e.resetBackoff(EventDnssec)
	if secCh != nil && !secCh.IsEmpty() {
		nc, err := Apply(current, []*journal.Changeset{secCh}, ApplyOptions{OverwriteTTL: true})
		if err != nil {
			log.Printf("zone %s: DNSSEC apply failed: %v", z.Name, err)
			return
		}
		if z.Journal != nil {
			z.Journal.AppendChangeset(secCh)
		}
		z.Publish(nc)
	}
	if !refreshAt.IsZero() {
		z.Schedule(EventDnssec, refreshAt, false)
	}
}

// handleFlush implements spec §4.5 FLUSH: serialize to zone file, truncate
// journal. On failure, the journal truncation is explicitly skipped (spec
// §4.5 failure semantics).
func (e *Executor) handleFlush(ctx context.Context) {
	z := e.Zone
	if e.Files == nil {
		return
	}
	if err := e.Files.Flush(z); err != nil {
		log.Printf("zone %s: FLUSH failed: %v", z.Name, err)
		return
	}
	if z.Journal != nil {
		if err := z.Journal.Truncate(z.Serial()); err != nil {
			log.Printf("zone %s: journal truncate failed: %v", z.Name, err)
		}
	}
}

// handleNotify implements spec §4.5 NOTIFY: send to all slaves, retry on
// timeout. Grounded on tdns/notifier.go's Notifier/SendNotify.
func (e *Executor) handleNotify(ctx context.Context) {
	z := e.Zone
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.Notify(z); err != nil {
		e.retry(EventNotify)
		log.Printf("zone %s: NOTIFY failed: %v", z.Name, err)
	}
}

// handleExpire implements spec §4.5 EXPIRE: drop contents to empty, schedule
// REFRESH.
func (e *Executor) handleExpire(ctx context.Context) {
	z := e.Zone
	z.Publish(NewEmptyContents(z.Name))
	z.Schedule(EventRefresh, time.Now(), true)
}

const defaultRefreshInterval = 3 * time.Minute

func (e *Executor) retry(kind EventKind) {
	z := e.Zone
	z.backoffMu.Lock()
	cur := time.Duration(z.backoff[kind])
	next := NextBackoff(kind, cur)
	z.backoff[kind] = int64(next)
	z.backoffMu.Unlock()
	z.Schedule(kind, time.Now().Add(next), false)
}

func (e *Executor) resetBackoff(kind EventKind) {
	z := e.Zone
	z.backoffMu.Lock()
	delete(z.backoff, kind)
	z.backoffMu.Unlock()
}
