package identity

import (
	"math"
	"sort"
	"strings"

	"github.com/starford/a11yledger/internal/checksum"
	"github.com/starford/a11yledger/internal/models"
)

const fingerprintDomain = "a11yledger/fingerprint/v1"

// Defaults for Resolver.
const (
	DefaultThreshold = 0.6
	DefaultMargin    = 0.05
)

// Key holds the identity-relevant parts of a record.
type Key struct {
	Page       string
	PrimaryRef string
	Criterion  string
	Signature  string
	Base       string
}

// Of computes the identity key of rec.
func Of(rec models.DefectRecord) Key {
	criterion, sig := NormalizeTitle(rec.Title)
	k := Key{
		Page:       NormalizePage(rec.Page),
		PrimaryRef: PrimaryRef(criterion, rec.WCAGRefs),
		Criterion:  criterion,
		Signature:  sig,
	}
	k.Base = checksum.Domain(fingerprintDomain, k.Page, k.PrimaryRef, k.Signature)[:16]
	return k
}

// PrimaryRef prefers the title criterion when the record references it and
// falls back to the lowest reference otherwise.
func PrimaryRef(criterion string, refs []string) string {
	if len(refs) == 0 {
		return criterion
	}
	for _, r := range refs {
		if r == criterion {
			return r
		}
	}
	sorted := append([]string(nil), refs...)
	sort.Strings(sorted)
	return sorted[0]
}

// Similarity is the Jaccard index of the word token sets of a and b.
func Similarity(a, b string) float64 {
	sa, sb := tokenSet(a), tokenSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 1
	}
	inter := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, t := range Tokens(s) {
		out[t] = struct{}{}
	}
	return out
}

// Action is the outcome of resolving an incoming record.
type Action int

const (
	// ActionInsert creates a canonical record under a new fingerprint.
	ActionInsert Action = iota
	// ActionMerge folds the record into Decision.Match.
	ActionMerge
	// ActionConflict routes the record to the conflicts queue.
	ActionConflict
)

func (a Action) String() string {
	switch a {
	case ActionInsert:
		return "insert"
	case ActionMerge:
		return "merge"
	case ActionConflict:
		return "conflict"
	}
	return "unknown"
}

// Decision describes how an incoming record relates to existing ones.
type Decision struct {
	Action      Action
	Fingerprint models.Fingerprint
	Match       *models.Canonical
	Score       float64
}

// Resolver decides record identity among canonicals sharing a base
// fingerprint by comparing actual-result observations.
type Resolver struct {
	Threshold float64
	Margin    float64
}

// NewResolver returns a Resolver. A non-positive threshold or negative
// margin selects the default.
func NewResolver(threshold, margin float64) Resolver {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if margin < 0 {
		margin = DefaultMargin
	}
	return Resolver{Threshold: threshold, Margin: margin}
}

// Decide resolves rec against candidates, all of which share base. With no
// candidates the record is new. Otherwise the best-scoring candidate wins,
// ties going to the lower variant. Scores within Margin of Threshold are
// ambiguous.
func (r Resolver) Decide(base string, rec models.DefectRecord, candidates []models.Canonical) Decision {
	if len(candidates) == 0 {
		return Decision{Action: ActionInsert, Fingerprint: models.Fingerprint{Base: base}}
	}
	sorted := append([]models.Canonical(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Fingerprint.Variant < sorted[j].Fingerprint.Variant
	})

	incoming := strings.Join(rec.ActualResult, " ")
	best, bestScore := -1, -1.0
	maxVariant := 0
	for i, c := range sorted {
		if c.Fingerprint.Variant > maxVariant {
			maxVariant = c.Fingerprint.Variant
		}
		score := 0.0
		for _, obs := range c.Record.ActualResult {
			if s := Similarity(incoming, obs); s > score {
				score = s
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}

	match := sorted[best]
	switch {
	case math.Abs(bestScore-r.Threshold) < r.Margin:
		return Decision{Action: ActionConflict, Fingerprint: match.Fingerprint, Match: &match, Score: bestScore}
	case bestScore >= r.Threshold:
		return Decision{Action: ActionMerge, Fingerprint: match.Fingerprint, Match: &match, Score: bestScore}
	default:
		return Decision{
			Action:      ActionInsert,
			Fingerprint: models.Fingerprint{Base: base, Variant: maxVariant + 1},
			Score:       bestScore,
		}
	}
}
