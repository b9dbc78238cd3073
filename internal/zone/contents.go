/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package zone

import (
	"fmt"

	"github.com/miekg/dns"
	"github.com/nsd-project/nsd/internal/wire"
)

// FindResult tags the outcome of Contents.Find, mirroring the spec §4.2
// Node | Delegation(node) | Nxdomain | CNAME(target) union.
type FindResultKind int

const (
	FindExact FindResultKind = iota
	FindDelegation
	FindNxdomain
	FindCNAME
)

type FindResult struct {
	Kind  FindResultKind
	Node  *Node
	Target wire.Name // set when Kind == FindCNAME
}

// Contents is an immutable zone snapshot (spec §4.2). Once published via
// Zone.Publish, a Contents value is never mutated; new snapshots are built
// by the apply engine (apply.go) and swapped in wholesale. Grounded on
// tdns/structs.go's ZoneData.Owners/OwnerIndex, reworked from one big
// mutable cmap into a plain immutable map now that mutation always produces
// a fresh value.
type Contents struct {
	Origin        wire.Name
	Apex          *Node
	Nodes         map[string]*Node // keyed by canonical name
	Nsec3Params   *dns.NSEC3PARAM
	DnssecEnabled bool
}

// NewEmptyContents returns the zero-RR snapshot for a freshly created zone
// (serial 0), the starting point for scenario S1.
func NewEmptyContents(origin wire.Name) *Contents {
	apex := NewNode(origin)
	return &Contents{
		Origin: origin,
		Apex:   apex,
		Nodes:  map[string]*Node{origin.Canonical: apex},
	}
}

// Serial returns the apex SOA's SERIAL field, the zone's serial per spec §3.
func (c *Contents) Serial() uint32 {
	s, ok := c.Apex.GetRRset(dns.TypeSOA)
	if !ok || s.Len() == 0 {
		return 0
	}
	soa, ok := s.RRs[0].(*dns.SOA)
	if !ok {
		return 0
	}
	return soa.Serial
}

// Find walks the node tree per spec §4.2: on encountering an NS record at or
// below (but not at) the apex, returns Delegation. CNAME/DNAME chasing is
// explicitly left to the query layer, not this API.
func (c *Contents) Find(name wire.Name) FindResult {
	if !name.IsSubdomainOf(c.Origin) {
		return FindResult{Kind: FindNxdomain}
	}

	// Walk from the queried name up towards the apex, checking each
	// ancestor (excluding the apex itself) for a delegation point, per
	// "NS record below the apex" in spec §4.2.
	labels := dns.SplitDomainName(name.Canonical)
	originLabels := dns.SplitDomainName(c.Origin.Canonical)
	for i := 0; i < len(labels)-len(originLabels); i++ {
		ancestor := dns.Fqdn(joinLabels(labels[i:]))
		if n, ok := c.Nodes[ancestor]; ok && n.HasNS() && ancestor != c.Origin.Canonical {
			return FindResult{Kind: FindDelegation, Node: n}
		}
	}

	n, ok := c.Nodes[name.Canonical]
	if !ok {
		return FindResult{Kind: FindNxdomain}
	}
	if cn, ok := n.GetRRset(dns.TypeCNAME); ok && cn.Len() > 0 {
		target, err := wire.NewName(cn.RRs[0].(*dns.CNAME).Target)
		if err == nil {
			return FindResult{Kind: FindCNAME, Node: n, Target: target}
		}
	}
	return FindResult{Kind: FindExact, Node: n}
}

func joinLabels(labels []string) string {
	out := ""
	for _, l := range labels {
		out += l + "."
	}
	return out
}

// IterNodes yields every node in the snapshot; iteration order is undefined
// except where callers (e.g. the signer) impose their own ordering.
func (c *Contents) IterNodes(fn func(*Node) bool) {
	for _, n := range c.Nodes {
		if !fn(n) {
			return
		}
	}
}

// Validate checks the apex invariants from spec §4.3 step 3: exactly one
// SOA, serial matches expectation, every non-apex node is a descendant.
func (c *Contents) Validate(expectSerial uint32, checkSerial bool) error {
	soaSet, ok := c.Apex.GetRRset(dns.TypeSOA)
	if !ok || soaSet.Len() != 1 {
		return fmt.Errorf("zone: apex %s must hold exactly one SOA, found %d", c.Origin, soaCount(soaSet))
	}
	if checkSerial && c.Serial() != expectSerial {
		return fmt.Errorf("zone: apex serial %d does not match expected %d", c.Serial(), expectSerial)
	}
	if _, ok := c.Apex.GetRRset(dns.TypeNS); !ok {
		return fmt.Errorf("zone: apex %s must hold one or more NS", c.Origin)
	}
	for name, n := range c.Nodes {
		nn, err := wire.NewName(name)
		if err != nil {
			return err
		}
		if !nn.IsSubdomainOf(c.Origin) {
			return fmt.Errorf("zone: node %s is not a descendant of apex %s", name, c.Origin)
		}
		_ = n
	}
	return nil
}

func soaCount(s *wire.RRSet) int {
	if s == nil {
		return 0
	}
	return s.Len()
}
