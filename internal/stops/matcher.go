package stops

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
)

const (
	// DefaultTopK is used when FindMatches is called with a non-positive topK.
	DefaultTopK = 5

	exactCodeScore    = 1.0
	containsScore     = 0.9
	wordBoostWeight   = 0.8
	wordSimilarityMin = 0.8
	minWordLength     = 3
	minScore          = 0.1
)

// Candidate is a scored stop for a free-text query.
type Candidate struct {
	Stop   StopRecord
	Score  float64
	Reason string
}

// Matcher resolves free-text place names to stops. It is safe for concurrent use.
type Matcher struct {
	entries []entry
}

// entry caches the normalized text of one stop.
type entry struct {
	stop     StopRecord
	code     string
	road     string
	desc     string
	combined string
	words    []string
}

// NewMatcher indexes the catalog. A nil or empty catalog matches nothing.
func NewMatcher(c *Catalog) *Matcher {
	m := &Matcher{}
	if c == nil {
		return m
	}

	m.entries = make([]entry, 0, c.Len())
	for _, s := range c.Stops() {
		road := Normalize(s.RoadName)
		desc := Normalize(s.Description)
		combined := strings.TrimSpace(road + " " + desc)
		m.entries = append(m.entries, entry{
			stop:     s,
			code:     strings.ToLower(s.Code),
			road:     road,
			desc:     desc,
			combined: combined,
			words:    strings.Fields(combined),
		})
	}
	return m
}

// FindMatches returns up to topK candidates, highest score first. Ties keep
// catalog order. Candidates scoring 0.1 or less are not returned.
func (m *Matcher) FindMatches(query string, topK int) []Candidate {
	if strings.TrimSpace(query) == "" || len(m.entries) == 0 {
		return nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	q := Normalize(query)
	if q == "" {
		return nil
	}
	qWords := strings.Fields(q)

	matches := make([]Candidate, 0, topK)
	for i := range m.entries {
		score, reason := m.entries[i].score(query, q, qWords)
		if score > minScore {
			matches = append(matches, Candidate{
				Stop:   m.entries[i].stop,
				Score:  score,
				Reason: reason,
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// score applies the three tiers to one stop. raw is the query as typed, used in
// the match reason.
func (e *entry) score(raw, q string, qWords []string) (float64, string) {
	if q == e.code {
		return exactCodeScore, "Exact code match: " + e.stop.Code
	}

	if strings.Contains(e.combined, q) {
		return containsScore, fmt.Sprintf("Contains '%s' in %s - %s", raw, e.road, e.desc)
	}

	roadRatio := Ratio(q, e.road)
	descRatio := Ratio(q, e.desc)

	best := descRatio
	field := "description"
	if roadRatio > descRatio {
		best = roadRatio
		field = "road name"
	}

	matched := 0
	for _, qw := range qWords {
		if len([]rune(qw)) < minWordLength {
			continue
		}
		for _, cw := range e.words {
			if strings.Contains(cw, qw) || Ratio(qw, cw) > wordSimilarityMin {
				matched++
				break
			}
		}
	}

	if len(qWords) > 0 {
		boost := float64(matched) / float64(len(qWords)) * wordBoostWeight
		if boost > best {
			best = boost
		}
	}

	return best, fmt.Sprintf("Best match in %s (score: %.2f)", field, best)
}

// Normalize lowercases s, turns punctuation into spaces and collapses whitespace.
func Normalize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

// Ratio is the Ratcliff/Obershelp similarity of a and b in [0, 1], computed
// over characters.
func Ratio(a, b string) float64 {
	return difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, "")).Ratio()
}
