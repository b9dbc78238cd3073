/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package ddns implements the dynamic-update applier (spec §4.6): batching
// authenticated UPDATE queries targeting the same zone into one changeset,
// evaluating RFC 2136 §3 prerequisites, and applying the update section
// with per-query scratch-then-merge semantics. Grounded on
// tdns/updateresponder.go's UpdateHandler/UpdateResponder dispatch and
// tdns/zone_updater.go's UpdateRequest batching.
package ddns

import (
	"github.com/miekg/dns"

	"github.com/nsd-project/nsd/internal/wire"
)

// Request is one authenticated UPDATE query pushed onto a zone's
// PendingUpdateQueue (spec §5), grounded on tdns/updateresponder.go's
// DnsUpdateRequest generalized from a typed channel element into the plain
// interface{} the queue carries.
type Request struct {
	Msg    *dns.Msg
	Zone   wire.Name
	Result chan Result // optional; nil if the caller doesn't want a reply
}

// Result reports one query's outcome back to its query-handling goroutine,
// per spec §4.6 step 3: "on per-query error, set that query's RCODE".
type Result struct {
	Rcode uint16
	Err   error
}

func reply(req *Request, rcode uint16, err error) {
	if req.Result == nil {
		return
	}
	select {
	case req.Result <- Result{Rcode: rcode, Err: err}:
	default:
	}
}
