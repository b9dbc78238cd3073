/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package xfr

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"

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

func TestParseIxfrAnswerSingleSequence(t *testing.T) {
	final := mustRR(t, "example. 3600 IN SOA ns1.example. hostmaster.example. 6 3600 600 604800 3600")
	start := mustRR(t, "example. 3600 IN SOA ns1.example. hostmaster.example. 5 3600 600 604800 3600")
	removed := mustRR(t, "old.example. 3600 IN A 192.0.2.9")
	mid := mustRR(t, "example. 3600 IN SOA ns1.example. hostmaster.example. 6 3600 600 604800 3600")
	added := mustRR(t, "new.example. 3600 IN A 192.0.2.10")

	answer := []dns.RR{final, start, removed, mid, added, final}
	seqs, isAxfr, err := parseIxfrAnswer(answer)
	if err != nil {
		t.Fatalf("parseIxfrAnswer: %v", err)
	}
	if isAxfr {
		t.Fatal("expected differential form, got isAxfr")
	}
	if len(seqs) != 1 {
		t.Fatalf("expected 1 sequence, got %d", len(seqs))
	}
	if seqs[0].StartSerial != 5 || seqs[0].EndSerial != 6 {
		t.Fatalf("unexpected serial bounds: %+v", seqs[0])
	}
	if len(seqs[0].Removed) != 1 || len(seqs[0].Added) != 1 {
		t.Fatalf("unexpected section sizes: %+v", seqs[0])
	}
}

func TestParseIxfrAnswerDetectsAxfrForm(t *testing.T) {
	soa := mustRR(t, "example. 3600 IN SOA ns1.example. hostmaster.example. 6 3600 600 604800 3600")
	ns := mustRR(t, "example. 3600 IN NS ns1.example.")
	answer := []dns.RR{soa, ns, soa}
	_, isAxfr, err := parseIxfrAnswer(answer)
	if err != nil {
		t.Fatalf("parseIxfrAnswer: %v", err)
	}
	if !isAxfr {
		t.Fatal("expected AXFR-form detection when second RR isn't a SOA")
	}
}

func TestParseIxfrAnswerRejectsShort(t *testing.T) {
	if _, _, err := parseIxfrAnswer(nil); err != ErrMalformedIxfr {
		t.Fatalf("expected ErrMalformedIxfr, got %v", err)
	}
}

func TestGroupRRs(t *testing.T) {
	rrs := []dns.RR{
		mustRR(t, "a.example. 3600 IN A 192.0.2.1"),
		mustRR(t, "a.example. 3600 IN A 192.0.2.2"),
		mustRR(t, "b.example. 3600 IN A 192.0.2.3"),
	}
	sets, err := groupRRs(rrs)
	if err != nil {
		t.Fatalf("groupRRs: %v", err)
	}
	if len(sets) != 2 {
		t.Fatalf("expected 2 RRsets, got %d", len(sets))
	}
}

// axfrHandler serves a tiny zone (apex SOA and NS plus one A record) as AXFR
// and always refuses IXFR, the server side of scenario S3 ("master replies
// IXFR REFUSED; client falls back to AXFR").
func axfrHandler(t *testing.T, origin string) dns.HandlerFunc {
	soa := mustRR(t, origin+" 3600 IN SOA ns1."+origin+" hostmaster."+origin+" 9 3600 600 604800 3600")
	ns := mustRR(t, origin+" 3600 IN NS ns1."+origin)
	a := mustRR(t, "www."+origin+" 3600 IN A 192.0.2.42")
	return func(w dns.ResponseWriter, r *dns.Msg) {
		if r.Question[0].Qtype == dns.TypeIXFR {
			m := new(dns.Msg)
			m.SetRcode(r, dns.RcodeRefused)
			w.WriteMsg(m)
			w.Close()
			return
		}
		ch := make(chan *dns.Envelope, 1)
		tr := new(dns.Transfer)
		go func() {
			ch <- &dns.Envelope{RR: []dns.RR{soa, ns, a, soa}}
			close(ch)
		}()
		if err := tr.Out(w, r, ch); err != nil {
			t.Logf("transfer out: %v", err)
		}
		w.Close()
	}
}

func TestClientTransferFallsBackFromRefusedIxfr(t *testing.T) {
	origin, err := wire.NewName("example.")
	if err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := &dns.Server{Listener: ln, Handler: axfrHandler(t, "example.")}
	go srv.ActivateAndServe()
	defer srv.Shutdown()

	z := zone.NewZone(origin, zone.RoleSecondary)
	// Local serial 5 (scenario S3's starting point) forces an IXFR attempt
	// first.
	old := zone.NewEmptyContents(origin)
	soa5 := mustRR(t, "example. 3600 IN SOA ns1.example. hostmaster.example. 5 3600 600 604800 3600")
	set, _ := wire.NewRRSet(soa5)
	old.Apex.RRSets[dns.TypeSOA] = set
	z.Publish(old)
	z.Master = &zone.MasterPeer{Address: ln.Addr().String()}

	c := NewClient()
	c.Timeout = 5 * time.Second
	nc, changesets, err := c.Transfer(context.Background(), z)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if changesets != nil {
		t.Fatalf("expected nil changesets (full AXFR rebases the journal), got %d", len(changesets))
	}
	if nc.Serial() != 9 {
		t.Fatalf("expected serial 9 after AXFR fallback, got %d", nc.Serial())
	}
}
