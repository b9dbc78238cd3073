/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package zone

import (
	"fmt"
	"os"

	"github.com/miekg/dns"
	"github.com/nsd-project/nsd/internal/wire"
)

// ReadZoneFile parses RFC 1035 master-file syntax from path into a fresh
// Contents, grounded on tdns/dnsutils.go's ReadZoneFile/ParseZoneFromReader
// (which itself wraps dns.NewZoneParser rather than hand-parsing zone file
// syntax).
func ReadZoneFile(origin wire.Name, path string) (*Contents, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("zone: open zone file %q: %w", path, err)
	}
	defer f.Close()

	c := NewEmptyContents(origin)
	zp := dns.NewZoneParser(f, origin.Original, path)
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		if err := addRR(c, rr); err != nil {
			return nil, err
		}
	}
	if err := zp.Err(); err != nil {
		return nil, fmt.Errorf("zone: parse zone file %q: %w", path, err)
	}
	if err := c.Validate(c.Serial(), false); err != nil {
		return nil, err
	}
	return c, nil
}

func addRR(c *Contents, rr dns.RR) error {
	n, err := wire.NewName(rr.Header().Name)
	if err != nil {
		return err
	}
	node, ok := c.Nodes[n.Canonical]
	if !ok {
		node = NewNode(n)
		c.Nodes[n.Canonical] = node
		if n.Equal(c.Origin) {
			c.Apex = node
		}
	}
	t := rr.Header().Rrtype
	set, ok := node.RRSets[t]
	if !ok {
		s, err := wire.NewRRSet(rr)
		if err != nil {
			return err
		}
		node.RRSets[t] = s
		return nil
	}
	return set.Add(rr)
}

// FromRRs builds a fresh Contents from a flat list of RRs in transfer order,
// grounded on the same addRR helper ReadZoneFile uses — the AXFR ingestion
// path (internal/xfr) needs exactly the zone-file path's "accumulate RRs
// into a node tree" step, just fed from a transfer stream instead of a file.
func FromRRs(origin wire.Name, rrs []dns.RR) (*Contents, error) {
	c := NewEmptyContents(origin)
	for _, rr := range rrs {
		if err := addRR(c, rr); err != nil {
			return nil, err
		}
	}
	if err := c.Validate(c.Serial(), false); err != nil {
		return nil, err
	}
	return c, nil
}

// WriteZoneFile serializes contents to path in RFC 1035 master-file syntax,
// the FLUSH handler's persistence step (spec §4.5).
func WriteZoneFile(c *Contents, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("zone: create zone file %q: %w", path, err)
	}
	defer f.Close()

	fmt.Fprintf(f, "$ORIGIN %s\n", c.Origin.Original)
	for _, n := range c.Nodes {
		for _, set := range n.RRSets {
			for _, rr := range set.RRs {
				fmt.Fprintln(f, rr.String())
			}
		}
	}
	return nil
}
