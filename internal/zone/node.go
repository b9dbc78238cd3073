/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package zone implements the in-memory zone database: immutable content
// snapshots (§4.2), the apply engine that derives a new snapshot from an old
// one plus a changeset list (§4.3), and the per-zone event executor (§4.5).
package zone

import (
	"github.com/miekg/dns"
	"github.com/nsd-project/nsd/internal/wire"
)

// Node holds every RRset sharing one owner name, keyed by RR type, mirroring
// the teacher's OwnerData (tdns/structs.go) generalized from a
// mutation-in-place map to an immutable value cloned on write by the apply
// engine.
type Node struct {
	Name   wire.Name
	RRSets map[uint16]*wire.RRSet
}

func NewNode(name wire.Name) *Node {
	return &Node{Name: name, RRSets: make(map[uint16]*wire.RRSet)}
}

// Clone performs the shallow node-level copy the apply engine needs: a new
// map, with RRsets themselves copy-on-write only when actually mutated.
func (n *Node) Clone() *Node {
	c := &Node{Name: n.Name, RRSets: make(map[uint16]*wire.RRSet, len(n.RRSets))}
	for t, s := range n.RRSets {
		c.RRSets[t] = s
	}
	return c
}

// IsEmptyNonTerminal reports whether the node holds no RRsets (spec §3: a
// node with no RRsets but with descendants).
func (n *Node) IsEmptyNonTerminal() bool { return len(n.RRSets) == 0 }

// HasNS reports whether the node carries an NS RRset, the delegation marker
// used by Contents.Find.
func (n *Node) HasNS() bool {
	_, ok := n.RRSets[dns.TypeNS]
	return ok
}

// HasSOA reports whether the node carries an SOA RRset (apex marker).
func (n *Node) HasSOA() bool {
	_, ok := n.RRSets[dns.TypeSOA]
	return ok
}

// GetRRset returns the RRset of the given type at this node, if any.
func (n *Node) GetRRset(t uint16) (*wire.RRSet, bool) {
	s, ok := n.RRSets[t]
	return s, ok
}
