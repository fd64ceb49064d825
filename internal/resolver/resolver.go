package resolver

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/affstack/deal-search-bot/internal/ai"
	"github.com/affstack/deal-search-bot/internal/models"
)

// Extractor is the external natural-language collaborator. Its output is
// never trusted directly; everything is validated against reference data.
type Extractor interface {
	Extract(ctx context.Context, raw string, ref *models.ReferenceData) (*ai.Extraction, error)
}

// Resolver turns free text into a ResolvedFilter using the reference
// snapshot for exact matching and the extractor for whatever remains.
type Resolver struct {
	extractor Extractor
	threshold float64
	timeout   time.Duration
}

// New creates a Resolver. extractor may be nil, in which case resolution
// uses exact matching only. threshold is the minimum partner-name similarity
// accepted when no alias matches exactly.
func New(extractor Extractor, threshold float64, timeout time.Duration) *Resolver {
	return &Resolver{extractor: extractor, threshold: threshold, timeout: timeout}
}

// Resolve parses raw text into a structured filter. It never fails on
// ambiguity: unknown names are dropped and reflected in the confidence
// score, and an extractor error degrades to the exact-match result.
//
// Inputs fully covered by the exact-match pass (e.g. "UK FR") never invoke
// the extractor.
func (r *Resolver) Resolve(ctx context.Context, raw string, ref *models.ReferenceData) models.ResolvedFilter {
	filter := models.ResolvedFilter{RefVersion: ref.Version}

	tokens := tokenize(raw)
	if len(tokens) == 0 {
		return filter
	}

	geoSet := make(map[string]bool)
	recognized := make([]bool, len(tokens))

	// Exact-match pass. Adjacent token pairs are tried against the alias
	// table first so multi-word partner names win over their pieces.
	for i := 0; i+1 < len(tokens); i++ {
		if recognized[i] || recognized[i+1] || filter.Partner != "" {
			continue
		}
		if name := ref.CanonicalPartner(tokens[i] + " " + tokens[i+1]); name != "" {
			filter.Partner = name
			recognized[i], recognized[i+1] = true, true
		}
	}
	for i, tok := range tokens {
		if recognized[i] {
			continue
		}
		if codes := ref.ExpandGeo(tok); codes != nil {
			for _, c := range codes {
				geoSet[c] = true
			}
			recognized[i] = true
			continue
		}
		if filter.Partner == "" {
			if name := ref.CanonicalPartner(tok); name != "" {
				filter.Partner = name
				recognized[i] = true
			}
		}
	}

	var unresolved []string
	for i, tok := range tokens {
		if !recognized[i] {
			unresolved = append(unresolved, tok)
		}
	}

	if len(unresolved) > 0 && r.extractor != nil {
		r.applyExtraction(ctx, raw, ref, &filter, geoSet, tokens, recognized)
		unresolved = unresolved[:0]
		for i, tok := range tokens {
			if !recognized[i] {
				unresolved = append(unresolved, tok)
			}
		}
	}

	if filter.Constraint == "" && len(unresolved) > 0 {
		filter.Constraint = strings.Join(unresolved, " ")
	}

	filter.GeoCodes = sortedKeys(geoSet)

	var count int
	for _, ok := range recognized {
		if ok {
			count++
		}
	}
	filter.Confidence = float64(count) / float64(len(tokens))
	return filter
}

// applyExtraction invokes the extractor once for the whole request and folds
// its validated output into the filter. Unknown GEOs are dropped rather than
// failing; an extractor error leaves the exact-match result untouched.
func (r *Resolver) applyExtraction(ctx context.Context, raw string, ref *models.ReferenceData,
	filter *models.ResolvedFilter, geoSet map[string]bool, tokens []string, recognized []bool) {

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	extraction, err := r.extractor.Extract(ctx, raw, ref)
	if err != nil {
		slog.Warn("Extractor failed, using exact matches only", "error", err)
		return
	}

	for _, name := range extraction.Geos {
		codes := ref.ExpandGeo(name)
		if codes == nil {
			slog.Debug("Dropping unknown GEO from extractor", "geo", name)
			continue
		}
		for _, c := range codes {
			geoSet[c] = true
		}
		markRecognized(tokens, recognized, name)
	}

	if filter.Partner == "" && extraction.Partner != "" {
		if name := r.matchPartner(extraction.Partner, ref); name != "" {
			filter.Partner = name
			markRecognized(tokens, recognized, extraction.Partner)
		}
	}

	if c := strings.TrimSpace(extraction.Constraint); c != "" {
		filter.Constraint = c
		markRecognized(tokens, recognized, c)
	}
}

// matchPartner maps a candidate name through the alias table; when nothing
// matches exactly it falls back to the closest alias above the similarity
// threshold. Below the threshold the partner stays unset (all partners).
func (r *Resolver) matchPartner(candidate string, ref *models.ReferenceData) string {
	if name := ref.CanonicalPartner(candidate); name != "" {
		return name
	}
	lower := strings.ToLower(strings.TrimSpace(candidate))
	var best string
	var bestScore float64
	for alias, canonical := range ref.Aliases {
		if s := similarity(lower, alias); s > bestScore {
			bestScore = s
			best = canonical
		}
	}
	if bestScore >= r.threshold {
		return best
	}
	return ""
}

// similarity is a normalized Levenshtein ratio in [0,1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}
	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, min(cur[j-1]+1, prev[j-1]+cost))
		}
		prev, cur = cur, prev
	}
	maxLen := max(la, lb)
	return 1 - float64(prev[lb])/float64(maxLen)
}

// markRecognized flags every query token that appears in the matched name.
func markRecognized(tokens []string, recognized []bool, name string) {
	words := tokenize(name)
	for i, tok := range tokens {
		if recognized[i] {
			continue
		}
		for _, w := range words {
			if tok == w {
				recognized[i] = true
				break
			}
		}
	}
}

func tokenize(raw string) []string {
	return strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', ',', ';':
			return true
		}
		return false
	})
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
