// Package fusion merges the candidate lists of several queries into one
// deduplicated ranking.
package fusion

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/ragd/internal/retrieval"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultRRFK is the reciprocal rank fusion smoothing constant.
const DefaultRRFK = 60

// ErrUnknownPolicy is returned by ParsePolicy and Fuse.
var ErrUnknownPolicy = errors.New("unknown fusion policy")

// Policy selects how lists are merged.
type Policy string

const (
	// PolicyRRF scores each passage by reciprocal rank across lists.
	PolicyRRF Policy = "rrf"
	// PolicyUnion pools passages and keeps their raw similarity score.
	PolicyUnion Policy = "union"
)

// ParsePolicy parses a policy name. Empty selects RRF.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyRRF:
		return PolicyRRF, nil
	case PolicyUnion:
		return PolicyUnion, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

var (
	fusionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "fusion",
			Name:      "operations_total",
			Help:      "Total number of fusions by policy",
		},
		[]string{"policy"},
	)

	duplicatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "fusion",
			Name:      "duplicates_total",
			Help:      "Total number of candidates merged into an earlier passage",
		},
		[]string{"policy"},
	)
)

// Fused is a deduplicated passage with its fused score.
type Fused struct {
	retrieval.Candidate
	FusedScore float64 `json:"fused_score"`
}

// Result is unique by SourceID and ordered by descending FusedScore.
type Result []Fused

// Contents returns the passage texts in order.
func (r Result) Contents() []string {
	out := make([]string, len(r))
	for i, f := range r {
		out[i] = f.Content
	}
	return out
}

// Pages returns the non-empty page labels in order.
func (r Result) Pages() []string {
	out := make([]string, 0, len(r))
	for _, f := range r {
		if f.Page != "" {
			out = append(out, f.Page)
		}
	}
	return out
}

// Fuse merges lists with policy. rrfK <= 0 uses DefaultRRFK.
func Fuse(policy Policy, lists [][]retrieval.Candidate, rrfK int) (Result, error) {
	switch policy {
	case PolicyRRF, "":
		return RRF(lists, rrfK), nil
	case PolicyUnion:
		return Union(lists), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
}

// pool groups candidates by SourceID. order is first-seen; the kept
// candidate is the last one seen.
type pool struct {
	order  []string
	latest map[string]retrieval.Candidate
	total  int
}

func newPool(lists [][]retrieval.Candidate, visit func(c retrieval.Candidate, rank int)) *pool {
	p := &pool{latest: make(map[string]retrieval.Candidate)}
	for _, list := range lists {
		for i, c := range list {
			p.total++
			if _, seen := p.latest[c.SourceID]; !seen {
				p.order = append(p.order, c.SourceID)
			}
			p.latest[c.SourceID] = c
			if visit != nil {
				visit(c, i+1)
			}
		}
	}
	return p
}

func (p *pool) record(policy Policy) {
	fusionsTotal.WithLabelValues(string(policy)).Inc()
	if dup := p.total - len(p.order); dup > 0 {
		duplicatesTotal.WithLabelValues(string(policy)).Add(float64(dup))
	}
}

// Union pools every candidate, keeping one per SourceID in first-seen order.
// The kept candidate is the last one encountered and FusedScore is its raw
// score.
func Union(lists [][]retrieval.Candidate) Result {
	p := newPool(lists, nil)
	p.record(PolicyUnion)

	out := make(Result, 0, len(p.order))
	for _, id := range p.order {
		c := p.latest[id]
		out = append(out, Fused{Candidate: c, FusedScore: c.Score})
	}
	return out
}

// RRF scores each SourceID as the sum of 1/(rrfK + rank) over every list it
// appears in, with rank being the 1-based position in that list. Results are
// sorted by descending score; ties keep first-seen order. The kept candidate
// is the last one encountered across all lists.
func RRF(lists [][]retrieval.Candidate, rrfK int) Result {
	if rrfK <= 0 {
		rrfK = DefaultRRFK
	}
	scores := make(map[string]float64)
	p := newPool(lists, func(c retrieval.Candidate, rank int) {
		scores[c.SourceID] += 1.0 / float64(rrfK+rank)
	})
	p.record(PolicyRRF)

	out := make(Result, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, Fused{Candidate: p.latest[id], FusedScore: scores[id]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FusedScore > out[j].FusedScore
	})
	return out
}
