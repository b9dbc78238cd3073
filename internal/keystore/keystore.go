/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package keystore persists DNSSEC signing keys and TSIG/SIG(0) trust
// material in a sqlite-backed store, grounded on tdns/db.go's KeyDB/Tx.
// This is the ambient persistence layer the spec's DNSSEC signer and
// control-protocol ACL checks build on; the journal itself (spec §6) uses
// its own bespoke binary file format instead, since the spec pins that
// layout explicitly (see DESIGN.md).
package keystore

import (
	"crypto"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/miekg/dns"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nsd-project/nsd/internal/dnssec"
)

// DefaultTables mirrors tdns/db.go's DefaultTables: one table per key
// material class, narrowed to what a signer and TSIG/SIG(0) verifier
// actually need (child-zone DNSKEY trust tracking, a DNSSEC key store, and
// a SIG(0)/TSIG trust store).
var DefaultTables = map[string]string{
	"DnssecKeyStore": `CREATE TABLE IF NOT EXISTS DnssecKeyStore (
id		INTEGER PRIMARY KEY,
zonename	TEXT,
state		TEXT,
keyid		INTEGER,
flags		INTEGER,
algorithm	TEXT,
privatekey	TEXT,
keyrr		TEXT,
UNIQUE (zonename, keyid)
)`,
	"Sig0TrustStore": `CREATE TABLE IF NOT EXISTS Sig0TrustStore (
id		INTEGER PRIMARY KEY,
zonename	TEXT,
keyid		INTEGER,
trusted		INTEGER,
keyrr		TEXT,
UNIQUE (zonename, keyid)
)`,
	"TsigKeyStore": `CREATE TABLE IF NOT EXISTS TsigKeyStore (
id		INTEGER PRIMARY KEY,
name		TEXT UNIQUE,
algorithm	TEXT,
secret		TEXT
)`,
}

// Tx wraps *sql.Tx to add the teacher's logging-on-every-statement idiom
// (tdns/db.go's Tx), which proved useful for debugging sqlite lock
// contention under concurrent zone executors.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Exec(query string, args ...interface{}) (sql.Result, error) {
	log.Printf("keystore: exec: %s %v", query, args)
	return t.tx.Exec(query, args...)
}

func (t *Tx) Query(query string, args ...interface{}) (*sql.Rows, error) {
	log.Printf("keystore: query: %s %v", query, args)
	return t.tx.Query(query, args...)
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// KeyDB is the sqlite-backed store, grounded on tdns/db.go's KeyDB.
type KeyDB struct {
	db *sql.DB
}

// NewKeyDB opens (creating if absent) the sqlite database at path and
// ensures DefaultTables exist, mirroring tdns/db.go's NewKeyDB.
func NewKeyDB(path string) (*KeyDB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("keystore: open %q: %w", path, err)
	}
	for name, ddl := range DefaultTables {
		if _, err := db.Exec(ddl); err != nil {
			return nil, fmt.Errorf("keystore: create table %s: %w", name, err)
		}
	}
	return &KeyDB{db: db}, nil
}

func (k *KeyDB) Begin() (*Tx, error) {
	tx, err := k.db.Begin()
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (k *KeyDB) Close() error { return k.db.Close() }

// StoreTsigKey persists a TSIG key, used by internal/server when loading
// the configured TSIG material.
func (k *KeyDB) StoreTsigKey(name, algorithm, secret string) error {
	_, err := k.db.Exec(`INSERT OR REPLACE INTO TsigKeyStore (name, algorithm, secret) VALUES (?, ?, ?)`,
		name, algorithm, secret)
	return err
}

// LoadTsigKeys returns every stored TSIG key.
func (k *KeyDB) LoadTsigKeys() (map[string]string, error) {
	rows, err := k.db.Query(`SELECT name, secret FROM TsigKeyStore`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var name, secret string
		if err := rows.Scan(&name, &secret); err != nil {
			return nil, err
		}
		out[name] = secret
	}
	return out, rows.Err()
}

// StoreDnssecKey persists one zone signing key, grounded on tdns/db.go's
// PrivateKeyCache (K crypto.PrivateKey, PrivateKey string, RR *dns.DNSKEY):
// the DNSKEY RR and its BIND-format private key are both kept in
// presentation form so LoadDnssecKeys can reconstruct a crypto.Signer on load.
func (k *KeyDB) StoreDnssecKey(zonename string, flags uint16, algorithm, keyrr, privatekey string) error {
	_, err := k.db.Exec(`INSERT OR REPLACE INTO DnssecKeyStore (zonename, state, keyid, flags, algorithm, privatekey, keyrr) VALUES (?, 'active', 0, ?, ?, ?, ?)`,
		zonename, flags, algorithm, privatekey, keyrr)
	return err
}

// LoadDnssecKeys reconstructs zonename's active signing keys into a
// dnssec.KeySet, parsing each stored DNSKEY RR and BIND-format private key
// via miekg/dns (dns.NewRR, (*dns.DNSKEY).NewPrivateKey), grounded on
// tdns/sign.go's key-loading path ahead of SignZone.
func (k *KeyDB) LoadDnssecKeys(zonename string) (*dnssec.KeySet, error) {
	rows, err := k.db.Query(`SELECT flags, privatekey, keyrr, state FROM DnssecKeyStore WHERE zonename = ?`, zonename)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ks := &dnssec.KeySet{}
	for rows.Next() {
		var flags int
		var privatekey, keyrr, state string
		if err := rows.Scan(&flags, &privatekey, &keyrr, &state); err != nil {
			return nil, err
		}
		rr, err := dns.NewRR(keyrr)
		if err != nil {
			return nil, fmt.Errorf("keystore: zone %s: parse stored DNSKEY: %w", zonename, err)
		}
		dnskey, ok := rr.(*dns.DNSKEY)
		if !ok {
			return nil, fmt.Errorf("keystore: zone %s: stored RR is not a DNSKEY", zonename)
		}
		priv, err := dnskey.NewPrivateKey(strings.ReplaceAll(privatekey, "\\n", "\n"))
		if err != nil {
			return nil, fmt.Errorf("keystore: zone %s: parse private key: %w", zonename, err)
		}
		signer, ok := priv.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("keystore: zone %s: private key does not implement crypto.Signer", zonename)
		}
		ks.Keys = append(ks.Keys, &dnssec.SigningKey{
			DNSKEY: dnskey,
			Signer: signer,
			Active: state == "active",
			KSK:    flags&dns.SEP != 0,
		})
	}
	return ks, rows.Err()
}
