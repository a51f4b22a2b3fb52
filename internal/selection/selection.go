package selection

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/nao1215/dysdera/internal/model"
)

// ErrUnknownPolicy is returned by ByName for an unrecognized name.
var ErrUnknownPolicy = errors.New("unknown selection policy")

// Policy orders frontier entries. Higher scores are fetched sooner.
// Compare breaks ties between equal scores and returns a negative number
// when a should be fetched before b.
//
// Implementations must be pure functions of their arguments.
type Policy interface {
	Name() string
	Score(r *model.URLRecord, h model.HostView) float64
	Compare(a, b *model.URLRecord) int
}

// DefaultCompare orders earlier discoveries first.
func DefaultCompare(a, b *model.URLRecord) int {
	if !a.DiscoveredAt.Equal(b.DiscoveredAt) {
		if a.DiscoveredAt.Before(b.DiscoveredAt) {
			return -1
		}
		return 1
	}
	switch {
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	default:
		return 0
	}
}

// Before reports whether a should be fetched before b under p, given the
// scores already computed for both.
func Before(p Policy, a *model.URLRecord, scoreA float64, b *model.URLRecord, scoreB float64) bool {
	if scoreA != scoreB {
		return scoreA > scoreB
	}
	return p.Compare(a, b) < 0
}

// BreadthFirst prefers shallow URLs: score = -depth.
type BreadthFirst struct{}

func (BreadthFirst) Name() string { return "bfs" }

func (BreadthFirst) Score(r *model.URLRecord, _ model.HostView) float64 {
	return -float64(r.Depth)
}

func (BreadthFirst) Compare(a, b *model.URLRecord) int { return DefaultCompare(a, b) }

// DepthFirst prefers deep URLs: score = depth, newest first on ties.
type DepthFirst struct{}

func (DepthFirst) Name() string { return "dfs" }

func (DepthFirst) Score(r *model.URLRecord, _ model.HostView) float64 {
	return float64(r.Depth)
}

func (DepthFirst) Compare(a, b *model.URLRecord) int { return -DefaultCompare(a, b) }

// FIFO fetches in discovery order.
type FIFO struct{}

func (FIFO) Name() string { return "fifo" }

func (FIFO) Score(*model.URLRecord, model.HostView) float64 { return 0 }

func (FIFO) Compare(a, b *model.URLRecord) int { return DefaultCompare(a, b) }

// LIFO fetches the most recent discovery first.
type LIFO struct{}

func (LIFO) Name() string { return "lifo" }

func (LIFO) Score(*model.URLRecord, model.HostView) float64 { return 0 }

func (LIFO) Compare(a, b *model.URLRecord) int { return -DefaultCompare(a, b) }

// Keyword scores a URL by the summed weights of terms it contains.
// Matching is case-insensitive against the full URL.
type Keyword struct {
	terms []weightedTerm
}

type weightedTerm struct {
	term   string
	weight float64
}

// NewKeyword creates a keyword policy. Terms are matched in sorted order so
// the float sum is the same on every call.
func NewKeyword(weights map[string]float64) Keyword {
	w := make(map[string]float64, len(weights))
	for term, weight := range weights {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" {
			w[term] = weight
		}
	}
	terms := make([]weightedTerm, 0, len(w))
	for _, term := range slices.Sorted(maps.Keys(w)) {
		terms = append(terms, weightedTerm{term: term, weight: w[term]})
	}
	return Keyword{terms: terms}
}

func (Keyword) Name() string { return "keyword" }

func (k Keyword) Score(r *model.URLRecord, _ model.HostView) float64 {
	lower := strings.ToLower(r.URL)
	var score float64
	for _, t := range k.terms {
		if strings.Contains(lower, t.term) {
			score += t.weight
		}
	}
	return score
}

func (Keyword) Compare(a, b *model.URLRecord) int { return DefaultCompare(a, b) }

// neverServed is the idle time credited to hosts that were never fetched.
const neverServed = 1e9

// HostInterleaved favours the host that has waited longest since it was last
// served, so that one large site cannot starve the others.
type HostInterleaved struct{}

func (HostInterleaved) Name() string { return "interleaved" }

func (HostInterleaved) Score(_ *model.URLRecord, h model.HostView) float64 {
	if h.LastFetch.IsZero() {
		return neverServed
	}
	idle := h.Now.Sub(h.LastFetch).Seconds()
	return math.Max(idle, 0)
}

func (HostInterleaved) Compare(a, b *model.URLRecord) int { return DefaultCompare(a, b) }

// Hinted uses the discoverer's priority hint (for example sitemap priority).
type Hinted struct{}

func (Hinted) Name() string { return "hinted" }

func (Hinted) Score(r *model.URLRecord, _ model.HostView) float64 { return r.Hint }

func (Hinted) Compare(a, b *model.URLRecord) int { return DefaultCompare(a, b) }

// Term is one weighted component of a Weighted policy.
type Term struct {
	Policy Policy
	Weight float64
}

// Weighted combines several policies as a weighted sum of their scores.
// Ties fall back to the first component's Compare.
type Weighted struct {
	terms []Term
}

// NewWeighted creates a weighted combination. Terms with a nil policy or a
// zero weight are dropped.
func NewWeighted(terms ...Term) Weighted {
	w := Weighted{}
	for _, t := range terms {
		if t.Policy != nil && t.Weight != 0 {
			w.terms = append(w.terms, t)
		}
	}
	return w
}

func (w Weighted) Name() string {
	names := make([]string, len(w.terms))
	for i, t := range w.terms {
		names[i] = fmt.Sprintf("%s*%g", t.Policy.Name(), t.Weight)
	}
	return "weighted(" + strings.Join(names, "+") + ")"
}

func (w Weighted) Score(r *model.URLRecord, h model.HostView) float64 {
	var score float64
	for _, t := range w.terms {
		score += t.Weight * t.Policy.Score(r, h)
	}
	return score
}

func (w Weighted) Compare(a, b *model.URLRecord) int {
	if len(w.terms) == 0 {
		return DefaultCompare(a, b)
	}
	return w.terms[0].Policy.Compare(a, b)
}

// ByName returns the policy registered under name. The keyword weights are
// only used by "keyword". Every policy except fifo/lifo also adds the
// sitemap priority hint with a small weight so that sitemap ordering
// survives as a tie-breaker.
func ByName(name string, keywords map[string]float64) (Policy, error) {
	var base Policy
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "bfs", "breadth-first":
		base = BreadthFirst{}
	case "dfs", "depth-first":
		base = DepthFirst{}
	case "fifo":
		return FIFO{}, nil
	case "lifo":
		return LIFO{}, nil
	case "keyword":
		base = NewKeyword(keywords)
	case "interleaved", "round-robin":
		base = HostInterleaved{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return NewWeighted(Term{Policy: base, Weight: 1}, Term{Policy: Hinted{}, Weight: 0.01}), nil
}
