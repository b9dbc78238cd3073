/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package ddns

import (
	"fmt"

	"github.com/miekg/dns"

	"github.com/nsd-project/nsd/internal/journal"
	"github.com/nsd-project/nsd/internal/wire"
	"github.com/nsd-project/nsd/internal/zone"
)

// applyQuery evaluates one UPDATE query's prerequisites (RFC 2136 §3.2)
// against working, then — only if every prerequisite is satisfied — builds
// its update-section contribution (§3.4) into scratch. working is never
// mutated here; the caller applies scratch to working only after this
// returns RcodeSuccess (spec §4.6's scratch-then-merge resolution of the
// flagged "rollback is incomplete" ambiguity, DESIGN.md OQ-1).
//
// In miekg/dns's Msg, an UPDATE message's prerequisite section is carried
// in Answer and the update section in Ns, matching tdns/updateresponder.go's
// own use of r.Ns as "the update section".
func applyQuery(working *zone.Contents, scratch *journal.Changeset, msg *dns.Msg) (uint16, error) {
	zname := working.Origin

	for _, rr := range msg.Answer {
		rcode, err := checkPrerequisite(working, zname, rr)
		if rcode != dns.RcodeSuccess || err != nil {
			return rcode, err
		}
	}

	for _, rr := range msg.Ns {
		rcode, err := applyUpdateRR(working, scratch, zname, rr)
		if rcode != dns.RcodeSuccess || err != nil {
			return rcode, err
		}
	}

	return dns.RcodeSuccess, nil
}

func checkPrerequisite(working *zone.Contents, zname wire.Name, rr dns.RR) (uint16, error) {
	h := rr.Header()
	name, err := wire.NewName(h.Name)
	if err != nil {
		return dns.RcodeFormatError, err
	}
	if !name.IsSubdomainOf(zname) {
		return dns.RcodeNotZone, nil
	}

	node, hasNode := working.Nodes[name.Canonical]

	switch {
	case h.Class == dns.ClassANY && h.Rrtype == dns.TypeANY && h.Ttl == 0:
		// "Name is in use" (RFC 2136 §3.2.2).
		if !hasNode {
			return dns.RcodeNameError, nil
		}
	case h.Class == dns.ClassNONE && h.Rrtype == dns.TypeANY && h.Ttl == 0:
		// "Name is not in use" (RFC 2136 §3.2.4).
		if hasNode {
			return dns.RcodeYXDomain, nil
		}
	case h.Class == dns.ClassANY && h.Ttl == 0:
		// "RRset exists (value-independent)" (RFC 2136 §3.2.3).
		if !hasNode {
			return dns.RcodeNXRrset, nil
		}
		if _, ok := node.GetRRset(h.Rrtype); !ok {
			return dns.RcodeNXRrset, nil
		}
	case h.Class == dns.ClassNONE && h.Ttl == 0:
		// "RRset does not exist" (RFC 2136 §3.2.1).
		if hasNode {
			if _, ok := node.GetRRset(h.Rrtype); ok {
				return dns.RcodeYXRrset, nil
			}
		}
	default:
		// "RRset exists (value dependent)" (RFC 2136 §3.2.3): the exact RR
		// presented must be a member of the matching RRset.
		if !hasNode {
			return dns.RcodeNXRrset, nil
		}
		set, ok := node.GetRRset(h.Rrtype)
		if !ok || !rrsetContains(set, rr) {
			return dns.RcodeNXRrset, nil
		}
	}
	return dns.RcodeSuccess, nil
}

func applyUpdateRR(working *zone.Contents, scratch *journal.Changeset, zname wire.Name, rr dns.RR) (uint16, error) {
	h := rr.Header()
	name, err := wire.NewName(h.Name)
	if err != nil {
		return dns.RcodeFormatError, err
	}
	if !name.IsSubdomainOf(zname) {
		return dns.RcodeNotZone, nil
	}

	switch {
	case h.Class == dns.ClassANY && h.Rrtype == dns.TypeANY && h.Ttl == 0:
		// Delete all RRsets at name (RFC 2136 §3.4.2.3). The apex SOA is
		// never a candidate: it is bumped separately by the batch, never
		// individually deleted by a client.
		if node, ok := working.Nodes[name.Canonical]; ok {
			for t, s := range node.RRSets {
				if t == dns.TypeSOA && name.Equal(zname) {
					continue
				}
				scratch.Removes = append(scratch.Removes, s)
			}
		}
	case h.Class == dns.ClassANY && h.Ttl == 0:
		// Delete an RRset (RFC 2136 §3.4.2.2).
		if node, ok := working.Nodes[name.Canonical]; ok {
			if s, ok := node.GetRRset(h.Rrtype); ok {
				scratch.Removes = append(scratch.Removes, s)
			}
		}
	case h.Class == dns.ClassNONE:
		// Delete an RR from an RRset (RFC 2136 §3.4.2.4). The stored RR is
		// class IN and removal matches on class, so the remove carries IN.
		del := dns.Copy(rr)
		del.Header().Class = dns.ClassINET
		one, err := wire.NewRRSet(del)
		if err != nil {
			return dns.RcodeFormatError, err
		}
		scratch.Removes = append(scratch.Removes, one)
	default:
		// Add to an RRset (RFC 2136 §3.4.2.1).
		one, err := wire.NewRRSet(rr)
		if err != nil {
			return dns.RcodeFormatError, err
		}
		scratch.Adds = append(scratch.Adds, one)
	}
	return dns.RcodeSuccess, nil
}

func rrsetContains(set *wire.RRSet, rr dns.RR) bool {
	for _, existing := range set.RRs {
		if dns.IsDuplicate(existing, rr) {
			return true
		}
	}
	return false
}

// bumpSOA appends the SOA remove/add pair that advances the zone's serial
// by one for the whole batch, regardless of how many queries contributed —
// the standard single-increment-per-transaction DDNS convention.
func bumpSOA(old *zone.Contents, cs *journal.Changeset) error {
	set, ok := old.Apex.GetRRset(dns.TypeSOA)
	if !ok || set.Len() == 0 {
		return fmt.Errorf("ddns: zone %s has no apex SOA", old.Origin)
	}
	oldSoa, ok := set.RRs[0].(*dns.SOA)
	if !ok {
		return fmt.Errorf("ddns: zone %s apex SOA RR has wrong type", old.Origin)
	}
	newSoa := dns.Copy(oldSoa).(*dns.SOA)
	newSoa.Serial = oldSoa.Serial + 1

	newSet, err := wire.NewRRSet(newSoa)
	if err != nil {
		return err
	}
	cs.Removes = append(cs.Removes, set)
	cs.Adds = append(cs.Adds, newSet)
	cs.SoaTo = newSoa.Serial
	return nil
}
