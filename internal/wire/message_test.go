package wire

import (
	"testing"

	"github.com/miekg/dns"
)

func TestMessageRoundtrip(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("example.", dns.TypeSOA)
	b, err := BuildMessage(m)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	parsed, err := ParseMessage(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b2, err := BuildMessage(parsed.Msg)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if string(b) != string(b2) {
		t.Fatalf("roundtrip mismatch: %x != %x", b, b2)
	}
}

func TestRRRoundtrip(t *testing.T) {
	rr, err := ParseRR("a.example. 3600 IN A 192.0.2.1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rr.String() == "" {
		t.Fatal("expected non-empty presentation form")
	}
}

func TestNameLengthRejected(t *testing.T) {
	long := ""
	for i := 0; i < 5; i++ {
		long += "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa."
	}
	if _, err := NewName(long); err == nil {
		t.Fatal("expected error for oversized name")
	}
}

func TestNameCanonicalOrder(t *testing.T) {
	a, _ := NewName("b.example.")
	b, _ := NewName("a.example.")
	if a.Compare(b) <= 0 {
		t.Fatalf("expected a.example. to compare lower? got %d", a.Compare(b))
	}
}

func TestTsigBadPosition(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("example.", dns.TypeSOA)
	tsigRR := &dns.TSIG{Hdr: dns.RR_Header{Name: "key.", Rrtype: dns.TypeTSIG, Class: dns.ClassANY}}
	extra := &dns.A{Hdr: dns.RR_Header{Name: "a.example.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300}}
	m.Extra = append(m.Extra, tsigRR, extra)
	b, err := m.Pack()
	if err != nil {
		t.Skipf("miekg refuses to pack malformed fixture: %v", err)
	}
	if _, err := ParseMessage(b); err == nil {
		t.Fatal("expected error for TSIG not last")
	}
}
