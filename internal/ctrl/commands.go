/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package ctrl implements the DNS-over-CHAOS control protocol (spec §4.8):
// administrative commands encoded as CH-class queries with QNAME
// "<cmd>.knot.", authenticated against an ACL via TSIG, answered with
// TXT-chunked text in the authority section. No direct teacher analogue —
// the teacher pack exposes control via an HTTP API (gorilla/mux), out of
// this spec's scope — so this package is built directly against
// miekg/dns's dns.Server the same way the teacher's query-handling engines
// (tdns/dnshandler.go-family) set one up, generalized from UDP/TCP query
// traffic to a CHAOS-class command channel.
package ctrl

import (
	"strings"

	"github.com/miekg/dns"
)

// Command is the sealed variant set of control operations, per the spec §9
// "dynamic command dispatch table" redesign note applied here the same way
// it was applied to internal/zone's EventKind.
type Command int

const (
	CmdStop Command = iota
	CmdReload
	CmdRefresh
	CmdRetransfer
	CmdStatus
	CmdZoneStatus
	CmdFlush
	CmdSignZone
)

func (c Command) String() string {
	switch c {
	case CmdStop:
		return "stop"
	case CmdReload:
		return "reload"
	case CmdRefresh:
		return "refresh"
	case CmdRetransfer:
		return "retransfer"
	case CmdStatus:
		return "status"
	case CmdZoneStatus:
		return "zonestatus"
	case CmdFlush:
		return "flush"
	case CmdSignZone:
		return "signzone"
	default:
		return "unknown"
	}
}

var commandsByLabel = map[string]Command{
	"stop":       CmdStop,
	"reload":     CmdReload,
	"refresh":    CmdRefresh,
	"retransfer": CmdRetransfer,
	"status":     CmdStatus,
	"zonestatus": CmdZoneStatus,
	"flush":      CmdFlush,
	"signzone":   CmdSignZone,
}

// requiresZones reports whether a command is meaningless without an
// explicit zone list, per spec §4.8 ("signzone... requires listed zones").
func (c Command) requiresZones() bool { return c == CmdSignZone }

// parseCommand decodes QNAME "<cmd>.knot." into its Command, reporting false
// for any other shape (unknown command, wrong suffix, wrong label count).
func parseCommand(qname string) (Command, bool) {
	labels := dns.SplitDomainName(dns.Fqdn(strings.ToLower(qname)))
	if len(labels) != 2 || labels[1] != "knot" {
		return 0, false
	}
	cmd, ok := commandsByLabel[labels[0]]
	return cmd, ok
}

// zoneTargets extracts the optional zone list from a command query's
// authority section: NS records whose RDATA names the target zone, per spec
// §4.8 ("Optional zone list is encoded as NS records in the authority
// section whose RDATA name each targets a zone").
func zoneTargets(ns []dns.RR) []string {
	var out []string
	for _, rr := range ns {
		if n, ok := rr.(*dns.NS); ok {
			out = append(out, strings.ToLower(dns.Fqdn(n.Ns)))
		}
	}
	return out
}
