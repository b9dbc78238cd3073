/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package server

import (
	"errors"
	"fmt"

	"github.com/miekg/dns"

	"github.com/nsd-project/nsd/internal/zone"
)

// Notifier implements zone.NotifySender (spec §4.5 NOTIFY), grounded on
// tdns/notifier.go's SendNotify SOA branch: send to each downstream target in
// turn and collect the failures. The teacher's SendNotify also
// handles CSYNC/CDS/DNSKEY notify types for parent/child coordination; this
// spec's notify surface is scoped to "tell slaves the SOA changed", so only
// that branch survives here.
type Notifier struct {
	Client dns.Client
}

func NewNotifier() *Notifier {
	return &Notifier{Client: dns.Client{Net: "udp"}}
}

// Notify sends a NOTIFY(SOA) to every configured downstream target,
// returning an error naming each target that failed or did not reply
// NOERROR. Grounded on tdns/notifier.go's target loop.
func (n *Notifier) Notify(z *zone.Zone) error {
	if len(z.Downstream) == 0 {
		return nil
	}

	var errs []error
	for _, dst := range z.Downstream {
		m := new(dns.Msg)
		m.SetNotify(z.Name.Original)

		res, _, err := n.Client.Exchange(m, dst)
		if err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", dst, err))
			continue
		}
		if res.Rcode != dns.RcodeSuccess {
			errs = append(errs, fmt.Errorf("notify %s: rcode %s", dst, dns.RcodeToString[res.Rcode]))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("zone %s: NOTIFY failed for %d of %d targets: %w", z.Name, len(errs), len(z.Downstream), errors.Join(errs...))
	}
	return nil
}
