/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package journal implements the changeset type (spec §3) and its on-disk
// append-only persistence (spec §6), grounded on Knot DNS's
// libknot/updates/changesets.c changeset-list model, adapted from a
// mempool-backed C list into a plain Go slice-backed type.
package journal

import (
	"fmt"

	"github.com/nsd-project/nsd/internal/wire"
)

// Changeset is a forward delta (soa_from, removes, adds, soa_to) per spec §3.
// An RR appears in at most one of Removes/Adds for a given owner/type.
type Changeset struct {
	SoaFrom uint32
	SoaTo   uint32
	Removes []*wire.RRSet
	Adds    []*wire.RRSet
}

// NewChangeset creates an empty changeset for the given serial transition.
func NewChangeset(from, to uint32) *Changeset {
	return &Changeset{SoaFrom: from, SoaTo: to}
}

// IsEmpty reports whether removes ∪ adds = ∅, the spec's definition of an
// empty changeset.
func (c *Changeset) IsEmpty() bool {
	return len(c.Removes) == 0 && len(c.Adds) == 0
}

// IsForward reports soa_from.serial < soa_to.serial under RFC 1982 serial
// arithmetic.
func (c *Changeset) IsForward() bool {
	return SerialLess(c.SoaFrom, c.SoaTo)
}

// AddRRSet appends an RRset to Adds, enforcing the supplemented precondition
// from Knot's changeset_add_rrset: the RRset must be internally consistent
// (all members share owner/type/class, already guaranteed by wire.RRSet)
// and must not duplicate a set already present for the same owner+type in
// Removes, which would make the delta ambiguous.
func (c *Changeset) AddRRSet(s *wire.RRSet) error {
	for _, r := range c.Removes {
		if r.Name.Equal(s.Name) && r.Type == s.Type {
			return fmt.Errorf("journal: %s/%d appears in both removes and adds", s.Name, s.Type)
		}
	}
	c.Adds = append(c.Adds, s)
	return nil
}

// RemoveRRSet appends an RRset to Removes, with the same cross-list check
// as AddRRSet.
func (c *Changeset) RemoveRRSet(s *wire.RRSet) error {
	for _, a := range c.Adds {
		if a.Name.Equal(s.Name) && a.Type == s.Type {
			return fmt.Errorf("journal: %s/%d appears in both removes and adds", s.Name, s.Type)
		}
	}
	c.Removes = append(c.Removes, s)
	return nil
}

// Merge appends another changeset's removes/adds into c, rebasing SoaTo.
// The zone executor does not call it: a DNSSEC signing changeset is
// journaled as its own entry after the DDNS changeset.
func (c *Changeset) Merge(other *Changeset) {
	c.Removes = append(c.Removes, other.Removes...)
	c.Adds = append(c.Adds, other.Adds...)
	c.SoaTo = other.SoaTo
}

// SerialLess implements RFC 1982 serial number arithmetic's "a < b" test.
func SerialLess(a, b uint32) bool {
	return a != b && (b-a) < (1<<31)
}

// SerialGreater implements RFC 1982 "a > b".
func SerialGreater(a, b uint32) bool {
	return a != b && (a-b) < (1<<31)
}
