/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package dnssec

import (
	"sort"

	"github.com/miekg/dns"
	"github.com/twotwotwo/sorts"

	"github.com/nsd-project/nsd/internal/journal"
	"github.com/nsd-project/nsd/internal/wire"
	"github.com/nsd-project/nsd/internal/zone"
)

// nameSortable adapts a []wire.Name for twotwotwo/sorts' parallel Quicksort,
// grounded on tdns/dnsutils.go's use of the same library to sort RRsets for
// zone-transfer ordering; here it orders owner names into DNSSEC canonical
// order for NSEC chain construction.
type nameSortable []wire.Name

func (s nameSortable) Len() int      { return len(s) }
func (s nameSortable) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s nameSortable) Less(i, j int) bool { return s[i].Compare(s[j]) < 0 }

// rebuildNsecChain regenerates the NSEC chain end-to-end for a full resign
// (spec §4.4), grounded on tdns/sign.go's GenerateNsecChain.
func rebuildNsecChain(c *zone.Contents, cs *journal.Changeset) error {
	var names []wire.Name
	c.IterNodes(func(n *zone.Node) bool {
		names = append(names, n.Name)
		return true
	})
	if len(names) < 2 {
		return nil
	}

	if len(names) < 1<<20 {
		// twotwotwo/sorts.Quicksort is a parallel sort intended for large
		// slices; fall back to the stdlib for pathologically small zones
		// where goroutine setup would dominate. This mirrors the teacher's
		// own use (dnsutils.go) of sorts.Quicksort only on the bulk
		// zone-transfer path.
		sort.Sort(nameSortable(names))
	} else {
		sorts.Quicksort(nameSortable(names))
	}

	for i, n := range names {
		next := names[(i+1)%len(names)]
		nsec := &dns.NSEC{
			Hdr:        dns.RR_Header{Name: n.Original, Rrtype: dns.TypeNSEC, Class: dns.ClassINET, Ttl: 3600},
			NextDomain: next.Original,
			TypeBitMap: typesAt(c, n),
		}
		set, err := wire.NewRRSet(nsec)
		if err != nil {
			return err
		}
		if err := cs.AddRRSet(set); err != nil {
			return err
		}
	}
	return nil
}

// patchNsecNeighbors is the incremental path's chain-patching step (spec
// §4.4): when a node was added or removed since old, or a node's set of
// RRset types changed, it rebuilds the NSEC chain of new end-to-end;
// otherwise it adds nothing. The rebuild emits an NSEC record for every
// name, not only for the touched names and their neighbours.
func patchNsecNeighbors(old, new *zone.Contents, cs *journal.Changeset) error {
	touched := len(old.Nodes) != len(new.Nodes)
	new.IterNodes(func(n *zone.Node) bool {
		o, ok := old.Nodes[n.Name.Canonical]
		if !ok || len(o.RRSets) != len(n.RRSets) {
			touched = true
			return false
		}
		for t := range n.RRSets {
			if _, ok := o.RRSets[t]; !ok {
				touched = true
				return false
			}
		}
		return true
	})
	if !touched {
		return nil
	}
	return rebuildNsecChain(new, cs)
}

func typesAt(c *zone.Contents, n *zone.Node) []uint16 {
	var types []uint16
	for t := range n.RRSets {
		types = append(types, t)
	}
	types = append(types, dns.TypeNSEC, dns.TypeRRSIG)
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
