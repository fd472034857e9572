package persona

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFallbackImportanceIsBounded(t *testing.T) {
	score := fallbackImportance("a perfectly ordinary sentence", time.Now(), 0, "")
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestRecencyScoreDecaysWithAge(t *testing.T) {
	fresh := recencyScore(time.Now())
	old := recencyScore(time.Now().Add(-30 * 24 * time.Hour))
	assert.Greater(t, fresh, old)
}

func TestAccessFrequencyScoreBoundedAtCap(t *testing.T) {
	assert.Equal(t, 0.0, accessFrequencyScore(0))
	assert.Equal(t, 0.5, accessFrequencyScore(5))
	assert.Equal(t, 1.0, accessFrequencyScore(10))
	assert.Equal(t, 1.0, accessFrequencyScore(1000), "access count above the cap must not exceed 1.0")
}

func TestEmotionalSignificanceDetectsKeywords(t *testing.T) {
	neutral := emotionalSignificance("the meeting is scheduled for tuesday")
	assert.Equal(t, 0.5, neutral)

	charged := emotionalSignificance("I am so happy and grateful today")
	assert.Greater(t, charged, neutral)
}

func TestContextualRelevanceFallsBackToNeutralWhenEmpty(t *testing.T) {
	score := contextualRelevance("some content", "")
	assert.Equal(t, 0.5, score)
}

func TestContextualRelevanceRewardsWordOverlap(t *testing.T) {
	high := contextualRelevance("the user likes mountain hiking trips", "mountain hiking")
	low := contextualRelevance("the user likes mountain hiking trips", "unrelated topic entirely")
	assert.Greater(t, high, low)
}

func TestFallbackImportanceWeightsFourFactors(t *testing.T) {
	createdAt := time.Now()
	got := fallbackImportance("a plain fact with no emotional weight", createdAt, 10, "")

	recency := recencyScore(createdAt)
	frequency := accessFrequencyScore(10)
	emotional := emotionalSignificance("a plain fact with no emotional weight")
	contextual := contextualRelevance("a plain fact with no emotional weight", "")
	want := 0.3*recency + 0.3*frequency + 0.2*emotional + 0.2*contextual

	assert.InDelta(t, want, got, 1e-9)
}
