package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// ResolvedFilter is the structured output of query resolution. It is
// immutable; it only drives the deal-cache query and cache-key computation.
type ResolvedFilter struct {
	// GeoCodes is the set of concrete GEO codes after group expansion,
	// deduplicated. Empty means all GEOs.
	GeoCodes []string
	// Partner is the canonical partner name, or empty for all partners.
	Partner string
	// Constraint is free-form text applied as a final predicate.
	Constraint string
	// Confidence is the fraction of recognized tokens over total tokens.
	Confidence float64
	// RefVersion is the reference-data version the filter was resolved under.
	RefVersion uint64
}

// Key returns a stable cache key for the filter. The serialization is
// canonical and order-independent so identical filters always hash
// identically regardless of construction order. The reference version is
// part of the key, which makes entries from before a reference refresh
// unreachable without explicit cross-cache invalidation.
func (f ResolvedFilter) Key() string {
	geos := append([]string(nil), f.GeoCodes...)
	sort.Strings(geos)
	payload := fmt.Sprintf("geo=%s|partner=%s|constraint=%s|ref=%d",
		strings.Join(geos, ","),
		strings.ToLower(f.Partner),
		strings.ToLower(strings.TrimSpace(f.Constraint)),
		f.RefVersion,
	)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
