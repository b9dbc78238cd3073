/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package ddns

import (
	"github.com/miekg/dns"

	"github.com/nsd-project/nsd/internal/journal"
	"github.com/nsd-project/nsd/internal/zone"
)

// Applier implements zone.UpdateDrainer, grounded on tdns/zone_updater.go's
// ApplyUpdateToZoneData batching loop, reworked into the scratch-then-merge
// form spec §4.6 requires: a per-query failure rolls back only that query's
// own contribution, never the whole batch (DESIGN.md OQ-1).
type Applier struct{}

func NewApplier() *Applier { return &Applier{} }

// DrainAndApply drains z's pending queue and folds every query that passes
// its own prerequisites into one changeset spanning the zone's current
// serial to serial+1. It does not itself apply, sign, journal or publish —
// that orchestration belongs to the zone executor (spec §4.5 UPDATE),
// mirroring how Signer.SignUpdate only computes a changeset for
// handleDnssec to apply.
func (a *Applier) DrainAndApply(z *zone.Zone) (*journal.Changeset, error) {
	items := z.Pending.Drain()
	if len(items) == 0 {
		return nil, nil
	}

	old := z.Contents()
	working := zone.NewWorkingCopy(old)
	batch := journal.NewChangeset(old.Serial(), old.Serial())
	changed := false

	for _, it := range items {
		req, ok := it.(*Request)
		if !ok {
			continue
		}
		if !req.Zone.Equal(z.Name) {
			reply(req, dns.RcodeNotZone, nil)
			continue
		}

		scratch := journal.NewChangeset(working.Serial(), working.Serial())
		rcode, err := applyQuery(working, scratch, req.Msg)
		if rcode != dns.RcodeSuccess || err != nil {
			reply(req, rcode, err)
			continue
		}
		if scratch.IsEmpty() {
			// A no-op UPDATE (e.g. deleting an RRset that's already gone)
			// still succeeds but contributes nothing to the batch.
			reply(req, dns.RcodeSuccess, nil)
			continue
		}

		if err := zone.ApplyDirectly(working, scratch, zone.ApplyOptions{AllowMissingRemove: true, OverwriteTTL: true}); err != nil {
			reply(req, dns.RcodeServerFailure, err)
			continue
		}
		batch.Removes = append(batch.Removes, scratch.Removes...)
		batch.Adds = append(batch.Adds, scratch.Adds...)
		changed = true
		reply(req, dns.RcodeSuccess, nil)
	}

	if !changed {
		return nil, nil
	}
	if err := bumpSOA(old, batch); err != nil {
		return nil, err
	}
	return batch, nil
}
