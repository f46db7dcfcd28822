// Package resolve implements cross-source entity resolution: name
// normalization, fuzzy similarity scoring, candidate matching, and
// store-backed resolution with alias learning.
package resolve

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/biter777/countries"
)

var (
	parentheticalRe = regexp.MustCompile(`\([^)]*\)`)
	nonNameRuneRe   = regexp.MustCompile(`[^a-z0-9æøå\s-]`)
	nonKeyRuneRe    = regexp.MustCompile(`[^a-z0-9æøå\s]`)
	multiSpaceRe    = regexp.MustCompile(`\s+`)
	nonSlugRuneRe   = regexp.MustCompile(`[^a-z0-9]+`)
	refCountryRe    = regexp.MustCompile(`^[A-Za-z]{2}-`)
)

// NormalizeName standardizes an entity name for matching by:
//  1. Lowercasing
//  2. Expanding "&" to "and"
//  3. Dropping parenthetical qualifiers
//  4. Keeping only [a-z0-9æøå], hyphens, and spaces
//  5. Collapsing whitespace
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "&", " and ")
	name = parentheticalRe.ReplaceAllString(name, " ")
	name = nonNameRuneRe.ReplaceAllString(name, " ")
	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// NormalizeRef canonicalizes an IATI organization reference: uppercase with
// all whitespace removed. Returns "" for blank refs.
func NormalizeRef(ref string) string {
	ref = strings.ToUpper(strings.TrimSpace(ref))
	return strings.Join(strings.Fields(ref), "")
}

// SlugKey derives a stable URL-safe key from a display name. Norwegian
// vowels fold to ASCII before the non-alphanumeric collapse so that
// "Børge" and "Borge" land on the same slug.
func SlugKey(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.NewReplacer("æ", "ae", "ø", "o", "å", "a").Replace(s)
	s = nonSlugRuneRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// ExternalRecipientKey groups unresolved recipient names. Hyphens flatten
// to spaces so "Al-Quds" and "Al Quds" share a key. Falls back to "unknown"
// when nothing survives normalization.
func ExternalRecipientKey(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = nonKeyRuneRe.ReplaceAllString(s, " ")
	s = multiSpaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return s
}

// CountryFromRef extracts the ISO-3166 alpha-2 country prefix from an IATI
// organization ref like "NO-BRC-971277882". The prefix must be a real
// country code; registrar prefixes like "XI-" or "XM-" are rejected.
func CountryFromRef(ref string) *string {
	ref = strings.TrimSpace(ref)
	if !refCountryRe.MatchString(ref) {
		return nil
	}
	code := strings.ToUpper(ref[:2])
	if countries.ByName(code) == countries.Unknown {
		return nil
	}
	return &code
}

// EventKey derives the sha256 identity of a staged event from its immutable
// parts. Nil-equivalent (empty) parts still occupy a position so the key is
// stable across reruns.
func EventKey(parts []string) string {
	trimmed := make([]string, len(parts))
	for i, p := range parts {
		trimmed[i] = strings.TrimSpace(p)
	}
	sum := sha256.Sum256([]byte(strings.Join(trimmed, "|")))
	return hex.EncodeToString(sum[:])
}
