/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package ctrl

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/nsd-project/nsd/internal/wire"
	"github.com/nsd-project/nsd/internal/zone"
)

type fakeHost struct {
	reg     *zone.Registry
	woken   chan string
	reloads int
	stopped bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{reg: zone.NewRegistry(), woken: make(chan string, 16)}
}

func (h *fakeHost) Zones() *zone.Registry { return h.reg }
func (h *fakeHost) Wake(name string)      { h.woken <- name }
func (h *fakeHost) Reload() error         { h.reloads++; return nil }
func (h *fakeHost) Stop()                 { h.stopped = true }

func mustName(t *testing.T, s string) wire.Name {
	t.Helper()
	n, err := wire.NewName(s)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

// TestControlRefreshDefaultACL covers scenario S5: an unauthenticated
// "refresh.knot." CHAOS query matches the default (empty) ACL and schedules
// REFRESH for every loaded zone within 100ms.
func TestControlRefreshDefaultACL(t *testing.T) {
	host := newFakeHost()
	origin := mustName(t, "example.")
	z := zone.NewZone(origin, zone.RolePrimary)
	host.reg.Add(z)

	srv := NewServer(host, ACL{}, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	dsrv := &dns.Server{Listener: ln, Net: "tcp", Handler: dns.HandlerFunc(srv.ServeDNS)}
	go dsrv.ActivateAndServe()
	defer dsrv.Shutdown()

	m := new(dns.Msg)
	m.SetQuestion("refresh.knot.", dns.TypeNS)
	m.Question[0].Qclass = dns.ClassCHAOS

	c := new(dns.Client)
	c.Net = "tcp"
	resp, _, err := c.Exchange(m, ln.Addr().String())
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		t.Fatalf("expected NOERROR, got %s", dns.RcodeToString[resp.Rcode])
	}

	select {
	case name := <-host.woken:
		if name != origin.Canonical {
			t.Fatalf("woke unexpected zone %q", name)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected zone to be woken within 100ms")
	}

	deadline := time.Now().Add(100 * time.Millisecond)
	var found bool
	for time.Now().Before(deadline) {
		for _, ev := range z.PendingEvents() {
			if ev.Kind == zone.EventRefresh {
				found = true
			}
		}
		if found {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !found {
		t.Fatal("expected REFRESH to be scheduled within 100ms")
	}
}

// TestControlDeniedByACL covers the "access denied -> REFUSED" exit code:
// an unauthenticated query is rejected once the ACL names specific keys.
func TestControlDeniedByACL(t *testing.T) {
	host := newFakeHost()
	srv := NewServer(host, ACL{Keys: []string{"ctrl-key."}}, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	dsrv := &dns.Server{Listener: ln, Net: "tcp", Handler: dns.HandlerFunc(srv.ServeDNS)}
	go dsrv.ActivateAndServe()
	defer dsrv.Shutdown()

	m := new(dns.Msg)
	m.SetQuestion("status.knot.", dns.TypeNS)
	m.Question[0].Qclass = dns.ClassCHAOS

	c := new(dns.Client)
	c.Net = "tcp"
	resp, _, err := c.Exchange(m, ln.Addr().String())
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if resp.Rcode != dns.RcodeRefused {
		t.Fatalf("expected REFUSED, got %s", dns.RcodeToString[resp.Rcode])
	}
}

// TestControlBadFormat covers the "bad format -> FORMERR" exit code: an
// unrecognized command label under .knot. is rejected outright.
func TestControlBadFormat(t *testing.T) {
	host := newFakeHost()
	srv := NewServer(host, ACL{}, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	dsrv := &dns.Server{Listener: ln, Net: "tcp", Handler: dns.HandlerFunc(srv.ServeDNS)}
	go dsrv.ActivateAndServe()
	defer dsrv.Shutdown()

	m := new(dns.Msg)
	m.SetQuestion("bogus.knot.", dns.TypeNS)
	m.Question[0].Qclass = dns.ClassCHAOS

	c := new(dns.Client)
	c.Net = "tcp"
	resp, _, err := c.Exchange(m, ln.Addr().String())
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if resp.Rcode != dns.RcodeFormatError {
		t.Fatalf("expected FORMERR, got %s", dns.RcodeToString[resp.Rcode])
	}
}
