/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package server

import (
	"time"

	"github.com/miekg/dns"

	"github.com/nsd-project/nsd/internal/ddns"
	"github.com/nsd-project/nsd/internal/wire"
	"github.com/nsd-project/nsd/internal/zone"
)

// QueryHandler answers ordinary QCLASS=IN queries against the in-memory zone
// database and diverts OPCODE=UPDATE messages to the target zone's pending
// queue, grounded on tdns/dnshandler.go's per-request dispatch (QR vs
// UPDATE opcode branch) which the spec itself calls out as external
// acceptor plumbing (§1 "socket acceptors... out of scope"): this is the
// thin query-serving collaborator the spec assumes exists, kept minimal
// since the hard part it hands off to is the zone lifecycle core.
type QueryHandler struct {
	Zones *zone.Registry
	Wake  func(zoneName string)
}

func NewQueryHandler(zones *zone.Registry, wake func(string)) *QueryHandler {
	return &QueryHandler{Zones: zones, Wake: wake}
}

// ServeDNS implements dns.Handler for ordinary query and UPDATE traffic
// (everything that isn't CHAOS-class control, which ctrl.Server handles on
// its own listener).
func (h *QueryHandler) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	if r.Opcode == dns.OpcodeUpdate {
		h.serveUpdate(w, r)
		return
	}
	h.serveQuery(w, r)
}

func (h *QueryHandler) serveUpdate(w dns.ResponseWriter, r *dns.Msg) {
	resp := new(dns.Msg)
	resp.SetReply(r)

	if len(r.Question) != 1 {
		resp.SetRcode(r, dns.RcodeFormatError)
		_ = w.WriteMsg(resp)
		return
	}
	zname, err := wire.NewName(r.Question[0].Name)
	if err != nil {
		resp.SetRcode(r, dns.RcodeFormatError)
		_ = w.WriteMsg(resp)
		return
	}
	z, ok := h.Zones.Get(zname.Canonical)
	if !ok || z.Role != zone.RolePrimary {
		resp.SetRcode(r, dns.RcodeNotAuth)
		_ = w.WriteMsg(resp)
		return
	}

	result := make(chan ddns.Result, 1)
	if !z.Pending.Push(&ddns.Request{Msg: r, Zone: zname, Result: result}) {
		resp.SetRcode(r, dns.RcodeServerFailure)
		_ = w.WriteMsg(resp)
		return
	}
	z.Schedule(zone.EventUpdate, time.Now(), true)
	if h.Wake != nil {
		h.Wake(zname.Canonical)
	}

	res := <-result
	resp.SetRcode(r, int(res.Rcode))
	_ = w.WriteMsg(resp)
}

func (h *QueryHandler) serveQuery(w dns.ResponseWriter, r *dns.Msg) {
	resp := new(dns.Msg)
	resp.SetReply(r)
	resp.Authoritative = true

	if len(r.Question) != 1 {
		resp.SetRcode(r, dns.RcodeFormatError)
		_ = w.WriteMsg(resp)
		return
	}
	q := r.Question[0]
	qname, err := wire.NewName(q.Name)
	if err != nil {
		resp.SetRcode(r, dns.RcodeFormatError)
		_ = w.WriteMsg(resp)
		return
	}

	z, ok := h.Zones.Find(qname.Canonical)
	if !ok {
		resp.Authoritative = false
		resp.SetRcode(r, dns.RcodeRefused)
		_ = w.WriteMsg(resp)
		return
	}
	contents := z.Contents()

	res := contents.Find(qname)
	switch res.Kind {
	case zone.FindNxdomain:
		resp.SetRcode(r, dns.RcodeNameError)
		appendSOA(resp, contents)
	case zone.FindDelegation:
		resp.Authoritative = false
		if ns, ok := res.Node.GetRRset(dns.TypeNS); ok {
			resp.Ns = append(resp.Ns, ns.RRs...)
		}
	case zone.FindCNAME:
		if cn, ok := res.Node.GetRRset(dns.TypeCNAME); ok {
			resp.Answer = append(resp.Answer, cn.RRs...)
		}
	case zone.FindExact:
		if set, ok := res.Node.GetRRset(q.Qtype); ok {
			resp.Answer = append(resp.Answer, set.RRs...)
			for _, sig := range set.RRSIGs {
				resp.Answer = append(resp.Answer, sig)
			}
		} else {
			appendSOA(resp, contents)
		}
	}
	_ = w.WriteMsg(resp)
}

func appendSOA(resp *dns.Msg, c *zone.Contents) {
	if soa, ok := c.Apex.GetRRset(dns.TypeSOA); ok && soa.Len() > 0 {
		resp.Ns = append(resp.Ns, soa.RRs[0])
	}
}
