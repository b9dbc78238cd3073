/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package zone

import (
	"errors"
	"fmt"

	"github.com/miekg/dns"
	"github.com/nsd-project/nsd/internal/journal"
	"github.com/nsd-project/nsd/internal/wire"
)

// Errors returned by Apply, part of the spec §7 "State" error taxonomy.
var (
	ErrNotFound     = errors.New("zone: removed RR not found")
	ErrTTLMismatch  = errors.New("zone: add introduces conflicting TTL")
	ErrApexLost     = errors.New("zone: apex invariant violated")
)

// ApplyOptions configures edge-case behavior that varies between ordinary
// apply and a DDNS-merge apply (spec §4.3 step 2).
type ApplyOptions struct {
	// AllowMissingRemove permits a changeset to list a remove for an RR
	// that is already absent without aborting — the DDNS-merge case.
	AllowMissingRemove bool
	// OverwriteTTL permits an add to change an existing RRset's TTL rather
	// than aborting with ErrTTLMismatch.
	OverwriteTTL bool
}

// Apply computes a new Contents from old plus an ordered list of changesets,
// per spec §4.3. It shallow-clones only the nodes on paths that change,
// sharing the rest of the tree with old — grounded on the teacher's
// ApplyZoneUpdateToZoneData/ApplyChildUpdateToZoneData (tdns/zone_updater.go)
// dedup-on-add logic, restructured from in-place mutation into construction
// of an independent new snapshot.
func Apply(old *Contents, changesets []*journal.Changeset, opts ApplyOptions) (*Contents, error) {
	nc := NewWorkingCopy(old)

	var lastSoaTo uint32
	for _, cs := range changesets {
		if err := applyOne(nc, cs, opts); err != nil {
			return nil, err
		}
		lastSoaTo = cs.SoaTo
	}

	if err := nc.Validate(lastSoaTo, len(changesets) > 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrApexLost, err)
	}
	return nc, nil
}

// NewWorkingCopy returns a Contents sharing old's node map by value (a
// shallow copy of the map itself, not its entries): mutating it via
// ApplyDirectly clones nodes on first write (cloneNodeFor) without ever
// touching old, the same "clone only nodes on paths that change" strategy
// Apply uses internally. Exported for internal/ddns, which needs to build
// up a sequence of per-query scratch changesets against a running working
// copy before any of them are known to be part of the final published
// batch (spec §4.6, DESIGN.md OQ-1).
func NewWorkingCopy(old *Contents) *Contents {
	nc := &Contents{
		Origin:        old.Origin,
		Nodes:         make(map[string]*Node, len(old.Nodes)),
		Nsec3Params:   old.Nsec3Params,
		DnssecEnabled: old.DnssecEnabled,
	}
	for k, n := range old.Nodes {
		nc.Nodes[k] = n
	}
	nc.Apex = nc.Nodes[old.Origin.Canonical]
	return nc
}

func cloneNodeFor(nc *Contents, name wire.Name) *Node {
	if n, ok := nc.Nodes[name.Canonical]; ok {
		cn := n.Clone()
		nc.Nodes[name.Canonical] = cn
		if name.Equal(nc.Origin) {
			nc.Apex = cn
		}
		return cn
	}
	cn := NewNode(name)
	nc.Nodes[name.Canonical] = cn
	return cn
}

func applyOne(nc *Contents, cs *journal.Changeset, opts ApplyOptions) error {
	// Removes first, then adds (spec §4.3 step 2).
	for _, rset := range cs.Removes {
		n := cloneNodeFor(nc, rset.Name)
		existing, ok := n.RRSets[rset.Type]
		if !ok {
			if opts.AllowMissingRemove {
				continue
			}
			return fmt.Errorf("%w: %s/%d", ErrNotFound, rset.Name, rset.Type)
		}
		clone := existing.Clone()
		for _, rr := range rset.RRs {
			if !clone.Remove(rr) && !opts.AllowMissingRemove {
				return fmt.Errorf("%w: %s %s", ErrNotFound, rset.Name, rr.String())
			}
		}
		if clone.Len() == 0 {
			delete(n.RRSets, rset.Type)
		} else {
			n.RRSets[rset.Type] = clone
		}
	}

	for _, rset := range cs.Adds {
		n := cloneNodeFor(nc, rset.Name)
		existing, ok := n.RRSets[rset.Type]
		if !ok {
			n.RRSets[rset.Type] = rset.Clone()
			continue
		}
		if !opts.OverwriteTTL && existing.Len() > 0 && existing.TTL != rset.TTL && rset.Type != dns.TypeRRSIG {
			return fmt.Errorf("%w: %s/%d has TTL %d, add wants %d", ErrTTLMismatch, rset.Name, rset.Type, existing.TTL, rset.TTL)
		}
		clone := existing.Clone()
		for _, rr := range rset.RRs {
			if err := clone.Add(rr); err != nil {
				return err
			}
		}
		// rset.RRs that were already present are no-ops for Add, so a
		// re-signing add (the RRs unchanged, only rset.RRSIGs refreshed)
		// would otherwise vanish silently. Carry the incoming RRSIGs onto
		// the merged RRset explicitly rather than relying on Add to do it.
		if len(rset.RRSIGs) > 0 {
			clone.RRSIGs = rset.RRSIGs
		}
		n.RRSets[rset.Type] = clone
	}
	return nil
}

// ApplyDirectly is the direct variant from spec §4.3 used only during the
// two-phase DDNS-then-DNSSEC compose, operating on a Contents that has not
// yet been published (so in-place mutation is safe: no reader can observe
// it).
func ApplyDirectly(contentsMut *Contents, cs *journal.Changeset, opts ApplyOptions) error {
	return applyOne(contentsMut, cs, opts)
}

// Rollback discards a partially-built snapshot. In Go this is a no-op beyond
// dropping the reference: there is no exclusive-node bookkeeping to release
// because cloned nodes were never linked into any published Contents and
// become garbage once unreferenced.
func Rollback(_ []*journal.Changeset, _ *Contents) {}
