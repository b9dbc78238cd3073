/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package ddns

import (
	"testing"

	"github.com/miekg/dns"

	"github.com/nsd-project/nsd/internal/journal"
	"github.com/nsd-project/nsd/internal/wire"
	"github.com/nsd-project/nsd/internal/zone"
)

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	if err != nil {
		t.Fatalf("parse RR %q: %v", s, err)
	}
	return rr
}

// newApexZone builds a freshly-created zone holding only the apex SOA+NS
// pair at serial 0, the minimal legal starting point for Validate — scenario
// S1's "empty zone" (no data beyond the apex markers).
func newApexZone(t *testing.T) (*zone.Zone, wire.Name) {
	t.Helper()
	origin, err := wire.NewName("example.")
	if err != nil {
		t.Fatal(err)
	}
	z := zone.NewZone(origin, zone.RolePrimary)
	c := zone.NewEmptyContents(origin)
	soa := mustRR(t, "example. 3600 IN SOA ns1.example. hostmaster.example. 0 3600 600 604800 3600")
	ns := mustRR(t, "example. 3600 IN NS ns1.example.")
	soaSet, _ := wire.NewRRSet(soa)
	nsSet, _ := wire.NewRRSet(ns)
	c.Apex.RRSets[dns.TypeSOA] = soaSet
	c.Apex.RRSets[dns.TypeNS] = nsSet
	z.Publish(c)
	return z, origin
}

func updateMsg(zone wire.Name, ns []dns.RR) *dns.Msg {
	m := new(dns.Msg)
	m.SetUpdate(zone.Original)
	m.Ns = ns
	return m
}

// TestDrainAndApplySingleAdd covers scenario S1: an UPDATE adding an A
// record to an otherwise-empty zone advances the serial by one and the new
// record is visible in the batched changeset.
func TestDrainAndApplySingleAdd(t *testing.T) {
	z, origin := newApexZone(t)
	a := mustRR(t, "www.example. 3600 IN A 192.0.2.1")

	resultCh := make(chan Result, 1)
	z.Pending.Push(&Request{Msg: updateMsg(origin, []dns.RR{a}), Zone: origin, Result: resultCh})

	applier := NewApplier()
	cs, err := applier.DrainAndApply(z)
	if err != nil {
		t.Fatalf("DrainAndApply: %v", err)
	}
	if cs == nil {
		t.Fatal("expected non-nil changeset")
	}
	if cs.SoaTo != 1 {
		t.Fatalf("expected SoaTo 1, got %d", cs.SoaTo)
	}

	select {
	case res := <-resultCh:
		if res.Rcode != dns.RcodeSuccess {
			t.Fatalf("expected NOERROR, got %d", res.Rcode)
		}
	default:
		t.Fatal("expected a result to be posted")
	}

	nc, err := zone.Apply(z.Contents(), []*journal.Changeset{cs}, zone.ApplyOptions{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if nc.Serial() != 1 {
		t.Fatalf("expected serial 1, got %d", nc.Serial())
	}
	node, ok := nc.Nodes["www.example."]
	if !ok {
		t.Fatal("expected www.example. node to exist")
	}
	if _, ok := node.GetRRset(dns.TypeA); !ok {
		t.Fatal("expected A RRset at www.example.")
	}
}

// TestDrainAndApplyConcurrentPrerequisiteFailure covers scenario S2: two
// UPDATEs targeting the same zone are batched together; one carries a
// prerequisite that the zone (as amended by the other query in the batch)
// does not satisfy, and gets YXRRSET while the other's contribution still
// lands in the published batch.
func TestDrainAndApplyConcurrentPrerequisiteFailure(t *testing.T) {
	z, origin := newApexZone(t)
	a := mustRR(t, "www.example. 3600 IN A 192.0.2.1")

	okCh := make(chan Result, 1)
	z.Pending.Push(&Request{Msg: updateMsg(origin, []dns.RR{a}), Zone: origin, Result: okCh})

	// This query asserts "www.example./A does not exist" as a prerequisite;
	// by the time it is evaluated the first query (processed earlier in the
	// same batch, against the shared working copy) has already added it, so
	// this one must fail with YXRRSET without undoing the first query's add.
	failMsg := updateMsg(origin, nil)
	failMsg.Answer = []dns.RR{
		&dns.ANY{Hdr: dns.RR_Header{Name: "www.example.", Rrtype: dns.TypeA, Class: dns.ClassNONE, Ttl: 0}},
	}
	failCh := make(chan Result, 1)
	z.Pending.Push(&Request{Msg: failMsg, Zone: origin, Result: failCh})

	applier := NewApplier()
	cs, err := applier.DrainAndApply(z)
	if err != nil {
		t.Fatalf("DrainAndApply: %v", err)
	}
	if cs == nil {
		t.Fatal("expected non-nil changeset from the surviving query")
	}

	select {
	case res := <-okCh:
		if res.Rcode != dns.RcodeSuccess {
			t.Fatalf("expected first query to succeed, got rcode %d", res.Rcode)
		}
	default:
		t.Fatal("expected a result for the first query")
	}

	select {
	case res := <-failCh:
		if res.Rcode != dns.RcodeYXRrset {
			t.Fatalf("expected YXRRSET for the second query, got rcode %d", res.Rcode)
		}
	default:
		t.Fatal("expected a result for the second query")
	}

	nc, err := zone.Apply(z.Contents(), []*journal.Changeset{cs}, zone.ApplyOptions{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	node, ok := nc.Nodes["www.example."]
	if !ok {
		t.Fatal("expected the surviving query's add to remain in the batch")
	}
	if _, ok := node.GetRRset(dns.TypeA); !ok {
		t.Fatal("expected A RRset at www.example. to remain")
	}
}
