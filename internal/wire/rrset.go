/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package wire

import (
	"fmt"

	"github.com/miekg/dns"
)

// RRSet is an ordered collection of RRs sharing owner, type and class, with
// a single TTL (the minimum seen on insertion) per spec §3.
type RRSet struct {
	Name  Name
	Type  uint16
	Class uint16
	TTL   uint32
	RRs   []dns.RR
	// RRSIGs covering this RRset, if any. Attached, not a separate RRset.
	RRSIGs []*dns.RRSIG
}

// NewRRSet creates an RRset from its first member.
func NewRRSet(rr dns.RR) (*RRSet, error) {
	n, err := NewName(rr.Header().Name)
	if err != nil {
		return nil, err
	}
	return &RRSet{
		Name:  n,
		Type:  rr.Header().Rrtype,
		Class: rr.Header().Class,
		TTL:   rr.Header().Ttl,
		RRs:   []dns.RR{rr},
	}, nil
}

// Add appends rr to the set, narrowing TTL to the minimum and rejecting
// members that don't share owner/type/class. Duplicate RRs (by wire
// equality) are not appended twice.
func (s *RRSet) Add(rr dns.RR) error {
	if err := s.checkCompatible(rr); err != nil {
		return err
	}
	for _, existing := range s.RRs {
		if dns.IsDuplicate(existing, rr) {
			return nil
		}
	}
	if rr.Header().Ttl < s.TTL {
		s.TTL = rr.Header().Ttl
	}
	s.RRs = append(s.RRs, rr)
	return nil
}

// checkCompatible supplements the spec's RRset description with Knot DNS's
// changeset_add_rrset boundary check: an RRset add must share owner, type
// and class with the set it is joining.
func (s *RRSet) checkCompatible(rr dns.RR) error {
	n, err := NewName(rr.Header().Name)
	if err != nil {
		return err
	}
	if !n.Equal(s.Name) || rr.Header().Rrtype != s.Type || rr.Header().Class != s.Class {
		return fmt.Errorf("wire: RR %s/%d/%d does not match RRset %s/%d/%d",
			rr.Header().Name, rr.Header().Rrtype, rr.Header().Class, s.Name, s.Type, s.Class)
	}
	return nil
}

// Remove deletes rr (by wire equality) from the set. Reports whether a
// member was removed.
func (s *RRSet) Remove(rr dns.RR) bool {
	for i, existing := range s.RRs {
		if dns.IsDuplicate(existing, rr) {
			s.RRs = append(s.RRs[:i], s.RRs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *RRSet) Len() int { return len(s.RRs) }

// Clone returns a deep-enough copy suitable for the apply engine's
// shallow-clone-on-write strategy: the RR slice is copied, individual RRs
// (immutable once parsed) are shared.
func (s *RRSet) Clone() *RRSet {
	c := &RRSet{Name: s.Name, Type: s.Type, Class: s.Class, TTL: s.TTL}
	c.RRs = append(c.RRs, s.RRs...)
	c.RRSIGs = append(c.RRSIGs, s.RRSIGs...)
	return c
}
