/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package ctrl

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/nsd-project/nsd/internal/zone"
)

// DefaultReadTimeout is the control session's short I/O deadline (spec
// §4.5 "Control sessions use a short I/O deadline (default 5s per read)").
const DefaultReadTimeout = 5 * time.Second

// Host is the narrow surface internal/server wires in at startup: zone
// lookup/enumeration, waking a zone's executor after scheduling one of its
// events out of band, config reload, and process shutdown. Unlike
// internal/zone's executor interfaces, ctrl importing zone directly creates
// no cycle (zone never imports ctrl), so this depends on zone.Zone and
// zone.Registry concretely rather than through further indirection.
type Host interface {
	Zones() *zone.Registry
	Wake(zoneName string)
	Reload() error
	Stop()
}

// Server answers DNS-over-CHAOS control queries (spec §4.8), grounded on the
// teacher's dns.Server-per-engine idiom (tdns/dnshandler.go, tdns/do53.go),
// generalized to CH-class command framing instead of ordinary query
// handling.
type Server struct {
	Host Host
	ACL  ACL

	// TsigSecret maps key name (FQDN form) -> base64 secret, passed straight
	// through to dns.Server per the teacher's notifyreporter.go idiom: TSIG
	// verification itself is delegated to miekg/dns (r.IsTsig/w.TsigStatus),
	// never reimplemented here.
	TsigSecret map[string]string
}

func NewServer(host Host, acl ACL, tsigSecret map[string]string) *Server {
	return &Server{Host: host, ACL: acl, TsigSecret: tsigSecret}
}

// NewDNSServer wraps s into a *dns.Server bound to addr over net ("unix" or
// "tcp"), per spec §6 ("AF_UNIX stream socket... or AF_INET{,6} TCP").
func (s *Server) NewDNSServer(net, addr string) *dns.Server {
	return &dns.Server{
		Net:         net,
		Addr:        addr,
		Handler:     dns.HandlerFunc(s.ServeDNS),
		TsigSecret:  s.TsigSecret,
		ReadTimeout: DefaultReadTimeout,
	}
}

// ServeDNS implements dns.Handler, dispatching one control query per spec
// §4.8's exit-code summary: bad format → FORMERR, TSIG failure → NOTAUTH,
// access denied → REFUSED, success → NOERROR with TXT-chunked text.
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	if len(r.Question) != 1 || r.Question[0].Qclass != dns.ClassCHAOS {
		s.writeRcode(w, r, dns.RcodeFormatError)
		return
	}
	q := r.Question[0]
	cmd, ok := parseCommand(q.Name)
	if !ok {
		s.writeRcode(w, r, dns.RcodeFormatError)
		return
	}
	zones := zoneTargets(r.Ns)
	if cmd.requiresZones() && len(zones) == 0 {
		s.writeRcode(w, r, dns.RcodeFormatError)
		return
	}

	authenticated := false
	var tsigName string
	if tsig := r.IsTsig(); tsig != nil {
		if err := w.TsigStatus(); err != nil {
			s.writeRcode(w, r, dns.RcodeNotAuth)
			return
		}
		authenticated = true
		tsigName = strings.ToLower(dns.Fqdn(tsig.Hdr.Name))
	}
	if !s.ACL.Allows(tsigName, authenticated) {
		s.writeRcode(w, r, dns.RcodeRefused)
		return
	}

	lines, terminate := s.dispatch(cmd, zones)
	for _, body := range buildReplies(q.Name, lines) {
		resp := new(dns.Msg)
		resp.SetReply(r)
		resp.Ns = body
		if err := w.WriteMsg(resp); err != nil {
			return
		}
	}
	if terminate {
		s.Host.Stop()
	}
}

func (s *Server) writeRcode(w dns.ResponseWriter, r *dns.Msg, rcode int) {
	resp := new(dns.Msg)
	resp.SetRcode(r, rcode)
	_ = w.WriteMsg(resp)
}

// dispatch runs cmd against the named zones (or every registered zone, when
// the list is empty and the command doesn't require one) and returns the
// reply's text lines plus whether the caller should terminate the host
// process (stop).
func (s *Server) dispatch(cmd Command, zones []string) ([]string, bool) {
	reg := s.Host.Zones()

	targets := func() []*zone.Zone {
		if len(zones) == 0 {
			return reg.All()
		}
		var out []*zone.Zone
		for _, name := range zones {
			if z, ok := reg.Get(name); ok {
				out = append(out, z)
			}
		}
		return out
	}

	switch cmd {
	case CmdStop:
		return []string{"terminating"}, true

	case CmdReload:
		if err := s.Host.Reload(); err != nil {
			return []string{fmt.Sprintf("reload failed: %v", err)}, false
		}
		return []string{"reloaded"}, false

	case CmdRefresh:
		var lines []string
		for _, z := range targets() {
			z.Schedule(zone.EventRefresh, time.Now(), true)
			s.Host.Wake(z.Name.Canonical)
			lines = append(lines, fmt.Sprintf("%s: REFRESH scheduled", z.Name))
		}
		return lines, false

	case CmdRetransfer:
		var lines []string
		for _, z := range targets() {
			z.SetFlag(zone.FlagForceAXFR)
			z.Schedule(zone.EventXfer, time.Now(), true)
			s.Host.Wake(z.Name.Canonical)
			lines = append(lines, fmt.Sprintf("%s: forced AXFR scheduled", z.Name))
		}
		return lines, false

	case CmdFlush:
		var lines []string
		for _, z := range targets() {
			z.Schedule(zone.EventFlush, time.Now(), true)
			s.Host.Wake(z.Name.Canonical)
			lines = append(lines, fmt.Sprintf("%s: FLUSH scheduled", z.Name))
		}
		return lines, false

	case CmdSignZone:
		var lines []string
		for _, z := range targets() {
			z.SetFlag(zone.FlagForceResign)
			z.Schedule(zone.EventDnssec, time.Now(), true)
			s.Host.Wake(z.Name.Canonical)
			lines = append(lines, fmt.Sprintf("%s: resign scheduled", z.Name))
		}
		return lines, false

	case CmdStatus:
		return []string{fmt.Sprintf("ok, %d zones loaded", reg.Count())}, false

	case CmdZoneStatus:
		var lines []string
		for _, z := range targets() {
			lines = append(lines, zoneStatusLine(z))
		}
		return lines, false

	default:
		return []string{"unknown command"}, false
	}
}

// zoneStatusLine formats one zonestatus reply line per spec §4.8:
// "name\ttype=… | serial=N | <next-event> <when> | <dnssec-info>".
func zoneStatusLine(z *zone.Zone) string {
	next := "idle"
	if evs := z.PendingEvents(); len(evs) > 0 {
		next = fmt.Sprintf("%s %s", evs[0].Kind, evs[0].Due.Format(time.RFC3339))
	}
	dnssecInfo := "dnssec=off"
	if z.DnssecEnabled {
		dnssecInfo = "dnssec=on"
	}
	return fmt.Sprintf("%s\ttype=%s | serial=%s | %s | %s",
		z.Name, z.Role, strconv.FormatUint(uint64(z.Serial()), 10), next, dnssecInfo)
}
