package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// ReferenceData is a versioned snapshot of the slowly-changing reference
// dataset: partner aliases and GEO codes/groups. A snapshot is replaced
// atomically on refresh and never mutated in place, so sessions holding an
// older version stay internally consistent until their next search.
type ReferenceData struct {
	// Aliases maps a lowercased alias to the canonical partner name.
	// Canonical names map to themselves.
	Aliases map[string]string
	// GeoGroups maps a lowercased GEO code or group name to its member
	// codes. Plain codes map to a single-element slice.
	GeoGroups map[string][]string
	// TrafficSources and Funnels are known values used as extractor context.
	TrafficSources []string
	Funnels        []string

	Version   uint64
	FetchedAt time.Time
}

// CanonicalPartner resolves an alias to its canonical name.
// The empty string means no match.
func (r *ReferenceData) CanonicalPartner(alias string) string {
	return r.Aliases[strings.ToLower(strings.TrimSpace(alias))]
}

// ExpandGeo returns the member codes for a GEO code or group name,
// or nil when unknown.
func (r *ReferenceData) ExpandGeo(name string) []string {
	return r.GeoGroups[strings.ToLower(strings.TrimSpace(name))]
}

// ContentHash returns a stable hash of the snapshot content, independent of
// map iteration order. Two snapshots with equal content hash equally; the
// reference cache uses this to avoid bumping the version when a refresh
// produced identical data.
func (r *ReferenceData) ContentHash() string {
	var b strings.Builder

	aliases := make([]string, 0, len(r.Aliases))
	for k, v := range r.Aliases {
		aliases = append(aliases, k+"="+v)
	}
	sort.Strings(aliases)
	b.WriteString(strings.Join(aliases, ";"))
	b.WriteByte('\n')

	groups := make([]string, 0, len(r.GeoGroups))
	for k, v := range r.GeoGroups {
		members := append([]string(nil), v...)
		sort.Strings(members)
		groups = append(groups, k+"="+strings.Join(members, ","))
	}
	sort.Strings(groups)
	b.WriteString(strings.Join(groups, ";"))
	b.WriteByte('\n')

	sources := append([]string(nil), r.TrafficSources...)
	sort.Strings(sources)
	b.WriteString(strings.Join(sources, ";"))
	b.WriteByte('\n')

	funnels := append([]string(nil), r.Funnels...)
	sort.Strings(funnels)
	b.WriteString(strings.Join(funnels, ";"))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
