package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Fingerprint identifies a normalized query. It keys both the candidate
// cache and the assignment ledger, so two spellings of the same search
// must produce the same fingerprint.
type Fingerprint string

var lowerCaser = cases.Lower(language.Und)

// NewFingerprint hashes the normalized (name, title, region) triple.
func NewFingerprint(q Query) Fingerprint {
	key := normalizeTerm(q.Name) + "|" + normalizeTerm(q.Title) + "|" + normalizeTerm(q.Region)
	sum := sha256.Sum256([]byte(key))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// normalizeTerm lowercases, NFKC-normalizes, and collapses internal
// whitespace so cosmetic differences don't split the cache.
func normalizeTerm(s string) string {
	s = norm.NFKC.String(s)
	s = lowerCaser.String(s)
	return strings.Join(strings.Fields(s), " ")
}
