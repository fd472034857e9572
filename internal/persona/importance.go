package persona

import (
	"math"
	"strings"
	"time"
)

// fallbackImportance computes the rule-based importance score used when a
// caller does not supply one at insertion, per spec.md §4.5: a weighted
// combination of recency, access frequency, emotional significance, and
// contextual relevance, weighted 0.3/0.3/0.2/0.2.
//
// Grounded on ob-labs-powermem-go's ImportanceEvaluator keyword-scan idiom
// (pkg/intelligence/importance.go's evaluateEmotionalImpact/evaluateRelevance),
// adapted to this system's four-factor split rather than its six.
func fallbackImportance(content string, createdAt time.Time, accessCount int, queryContext string) float64 {
	recency := recencyScore(createdAt)
	frequency := accessFrequencyScore(accessCount)
	emotional := emotionalSignificance(content)
	contextual := contextualRelevance(content, queryContext)

	score := 0.3*recency + 0.3*frequency + 0.2*emotional + 0.2*contextual
	return math.Min(math.Max(score, 0), 1)
}

// recencyScore decays exponentially with age, halving roughly every 3 days.
func recencyScore(createdAt time.Time) float64 {
	ageHours := time.Since(createdAt).Hours()
	const halfLifeHours = 72.0
	lambda := math.Ln2 / halfLifeHours
	return math.Exp(-lambda * ageHours)
}

// accessFrequencyScore bounds access count contribution at 10 accesses, per
// spec.md's "bounded by 10 accesses" clause.
func accessFrequencyScore(accessCount int) float64 {
	const cap = 10
	if accessCount >= cap {
		return 1.0
	}
	return float64(accessCount) / cap
}

var emotionalWords = []string{
	"happy", "sad", "angry", "excited", "worried", "scared",
	"love", "hate", "fear", "joy", "sorrow", "anxious", "grateful",
}

// emotionalSignificance is a stub sentiment-magnitude heuristic: a keyword
// scan, since no sentiment analyzer is wired in. spec.md explicitly allows
// stubbing this to 0.5 when unwired; here a cheap heuristic does slightly
// better than a constant without pulling in an NLP dependency. Text with no
// keyword scores the neutral 0.5, and each keyword found adds 0.15 on top
// of it, capped at 1.0.
func emotionalSignificance(content string) float64 {
	lower := strings.ToLower(content)
	score := 0.0
	for _, w := range emotionalWords {
		if strings.Contains(lower, w) {
			score += 0.15
		}
	}
	if score == 0 {
		return 0.5
	}
	return math.Min(0.5+score, 1.0)
}

// contextualRelevance scores word overlap between content and queryContext
// (e.g. the persona's system prompt or the originating query). Empty
// context falls back to the neutral 0.5 the spec allows.
func contextualRelevance(content, queryContext string) float64 {
	if strings.TrimSpace(queryContext) == "" {
		return 0.5
	}
	contentWords := wordSet(content)
	if len(contentWords) == 0 {
		return 0.5
	}
	overlap := 0
	for _, w := range strings.Fields(strings.ToLower(queryContext)) {
		if contentWords[w] {
			overlap++
		}
	}
	return math.Min(float64(overlap)/float64(len(contentWords)), 1.0)
}

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[w] = true
	}
	return out
}
