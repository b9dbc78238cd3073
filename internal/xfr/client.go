/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package xfr

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/nsd-project/nsd/internal/journal"
	"github.com/nsd-project/nsd/internal/wire"
	"github.com/nsd-project/nsd/internal/zone"
)

// DefaultTimeout is the soft transfer deadline from spec §5: on expiry the
// TCP socket is closed, the in-progress transfer discarded, and XFER is
// rescheduled with backoff by the executor.
const DefaultTimeout = 60 * time.Second

// Client implements zone.Transferer (spec §4.7), grounded on
// tdns/dnsutils.go's ZoneTransferIn (which wraps dns.Transfer{}.In rather
// than hand-rolling the AXFR/IXFR wire protocol) and tdns/ixfr/ixfr.go's
// differential-sequence parser.
type Client struct {
	// Timeout bounds one Transfer call; zero uses DefaultTimeout.
	Timeout time.Duration
	// SourceAddr, if set, binds the outgoing connection's local address
	// (spec §4.7: "optional source-address bind").
	SourceAddr string
}

func NewClient() *Client { return &Client{} }

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// ProbeSerial issues the REFRESH handler's SOA query against the zone's
// master and returns the master's current serial (spec §4.5 REFRESH).
func (c *Client) ProbeSerial(ctx context.Context, z *zone.Zone) (uint32, error) {
	if z.Master == nil {
		return 0, fmt.Errorf("xfr: zone %s has no configured master", z.Name)
	}
	m := new(dns.Msg)
	m.SetQuestion(z.Name.Original, dns.TypeSOA)

	cl := &dns.Client{Timeout: c.timeout(), Net: "udp"}
	if z.Master.TsigKey != nil {
		cl.TsigSecret = map[string]string{dns.Fqdn(z.Master.TsigKey.Name): z.Master.TsigKey.Secret}
		m.SetTsig(z.Master.TsigKey.Name, algoConst(z.Master.TsigKey.Algorithm), uint16(wire.DefaultFudge.Seconds()), time.Now().Unix())
	}

	in, _, err := cl.ExchangeContext(ctx, m, z.Master.Address)
	if err != nil {
		return 0, fmt.Errorf("xfr: SOA probe to %s: %w", z.Master.Address, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return 0, fmt.Errorf("xfr: SOA probe to %s: %s", z.Master.Address, dns.RcodeToString[in.Rcode])
	}
	for _, rr := range in.Answer {
		if soa, ok := rr.(*dns.SOA); ok {
			return soa.Serial, nil
		}
	}
	return 0, fmt.Errorf("xfr: SOA probe to %s: no SOA in response", z.Master.Address)
}

// Transfer implements spec §4.5 XFER / §4.7: IXFR if the current serial is
// known, else AXFR; automatic fallback to AXFR on REFUSED or a malformed
// differential sequence. Returns the new snapshot ready for publication and
// the changesets to journal — an empty changeset list signals "this was a
// full transfer, rebase the journal" rather than "nothing changed" (the
// caller only reaches Transfer when a XFER was already scheduled because a
// newer serial was seen).
func (c *Client) Transfer(ctx context.Context, z *zone.Zone) (*zone.Contents, []*journal.Changeset, error) {
	if z.Master == nil {
		return nil, nil, fmt.Errorf("xfr: zone %s has no configured master", z.Name)
	}
	cctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	old := z.Contents()
	useIxfr := old.Serial() > 0 && !z.HasFlag(zone.FlagForceAXFR)

	state := newState(WaitSOA)
	state.Kind = transferKind(useIxfr)

	answer, refused, err := c.run(cctx, z, useIxfr)
	if err != nil {
		return nil, nil, err
	}
	if refused && useIxfr {
		log.Printf("xfr: zone %s: IXFR refused, falling back to AXFR", z.Name)
		answer, _, err = c.run(cctx, z, false)
		if err != nil {
			return nil, nil, err
		}
		useIxfr = false
		state.Kind = RunningAXFR
	}

	if !useIxfr {
		state.Partial = answer
		nc, err := zone.FromRRs(z.Name, answer)
		if err != nil {
			return nil, nil, fmt.Errorf("xfr: AXFR materialize: %w", err)
		}
		state.Kind, state.NewContents = Finalizing, nc
		return nc, nil, nil
	}

	seqs, isAxfrForm, err := parseIxfrAnswer(answer)
	if err != nil {
		// Malformed differential: fall back to AXFR, per spec §4.7.
		log.Printf("xfr: zone %s: malformed IXFR differential, falling back to AXFR: %v", z.Name, err)
		state.Kind = RunningAXFR
		answer, _, ferr := c.run(cctx, z, false)
		if ferr != nil {
			return nil, nil, ferr
		}
		nc, ferr := zone.FromRRs(z.Name, answer)
		if ferr != nil {
			return nil, nil, ferr
		}
		state.Kind, state.NewContents = Finalizing, nc
		return nc, nil, nil
	}
	if isAxfrForm {
		nc, err := zone.FromRRs(z.Name, answer)
		if err != nil {
			return nil, nil, err
		}
		state.Kind, state.NewContents = Finalizing, nc
		return nc, nil, nil
	}

	state.Sequences = seqs
	changesets := make([]*journal.Changeset, 0, len(seqs))
	for _, s := range seqs {
		cs := journal.NewChangeset(s.StartSerial, s.EndSerial)
		removes, err := groupRRs(s.Removed)
		if err != nil {
			return nil, nil, err
		}
		adds, err := groupRRs(s.Added)
		if err != nil {
			return nil, nil, err
		}
		for _, r := range removes {
			if err := cs.RemoveRRSet(r); err != nil {
				return nil, nil, err
			}
		}
		for _, a := range adds {
			if err := cs.AddRRSet(a); err != nil {
				return nil, nil, err
			}
		}
		changesets = append(changesets, cs)
	}

	nc, err := zone.Apply(old, changesets, zone.ApplyOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("xfr: IXFR apply: %w", err)
	}
	state.Kind, state.NewContents = Finalizing, nc
	return nc, changesets, nil
}

func transferKind(ixfr bool) Kind {
	if ixfr {
		return RunningIXFR
	}
	return RunningAXFR
}

// run performs one AXFR or IXFR transfer attempt over TCP and collects the
// full answer section, reporting whether the master answered REFUSED
// (triggering the caller's AXFR fallback).
func (c *Client) run(ctx context.Context, z *zone.Zone, ixfr bool) (answer []dns.RR, refused bool, err error) {
	msg := new(dns.Msg)
	if ixfr {
		msg.SetIxfr(z.Name.Original, z.Contents().Serial(), "", "")
	} else {
		msg.SetAxfr(z.Name.Original)
	}

	tr := &dns.Transfer{}
	if z.Master.TsigKey != nil {
		tr.TsigSecret = map[string]string{dns.Fqdn(z.Master.TsigKey.Name): z.Master.TsigKey.Secret}
		msg.SetTsig(z.Master.TsigKey.Name, algoConst(z.Master.TsigKey.Algorithm), uint16(wire.DefaultFudge.Seconds()), time.Now().Unix())
	}

	envCh, err := tr.In(msg, z.Master.Address)
	if err != nil {
		return nil, false, fmt.Errorf("xfr: transfer to %s: %w", z.Master.Address, err)
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil, false, fmt.Errorf("xfr: transfer to %s: %w", z.Master.Address, ctx.Err())
		case env, ok := <-envCh:
			if !ok {
				return answer, false, nil
			}
			if env.Error != nil {
				// miekg/dns reports a non-NOERROR first reply as
				// "dns: bad xfr rcode: N", with the rcode as a number.
				if strings.Contains(env.Error.Error(), dns.RcodeToString[dns.RcodeRefused]) ||
					strings.HasSuffix(env.Error.Error(), fmt.Sprintf("rcode: %d", dns.RcodeRefused)) {
					return nil, true, nil
				}
				return nil, false, fmt.Errorf("xfr: transfer to %s: %w", z.Master.Address, env.Error)
			}
			answer = append(answer, env.RR...)
		}
	}
}

// groupRRs groups a flat RR list (as carried in one IXFR differential
// section) into RRsets by owner/type/class, grounded on the same
// group-by-key approach internal/journal's codec uses to decode a
// wire-packed changeset section.
func groupRRs(rrs []dns.RR) ([]*wire.RRSet, error) {
	var sets []*wire.RRSet
	index := map[string]*wire.RRSet{}
	for _, rr := range rrs {
		key := fmt.Sprintf("%s/%d/%d", rr.Header().Name, rr.Header().Rrtype, rr.Header().Class)
		s, ok := index[key]
		if !ok {
			ns, err := wire.NewRRSet(rr)
			if err != nil {
				return nil, err
			}
			index[key] = ns
			sets = append(sets, ns)
			continue
		}
		if err := s.Add(rr); err != nil {
			return nil, err
		}
	}
	return sets, nil
}

func algoConst(alg string) string {
	switch alg {
	case "hmac-sha1", dns.HmacSHA1:
		return dns.HmacSHA1
	case "hmac-sha512", dns.HmacSHA512:
		return dns.HmacSHA512
	default:
		return dns.HmacSHA256
	}
}
