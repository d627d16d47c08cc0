package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPopulatesExpectedValues(t *testing.T) {
	c := Default()
	assert.Equal(t, 0.8, c.ScoreThreshold)
	assert.Equal(t, 3, c.MaxIterations)
	assert.Equal(t, 0.90, c.FilterSimilarityThreshold)
	assert.Contains(t, c.BoilerplateSections, "references")
	assert.Equal(t, 3, c.CircuitBreakerThreshold)
	assert.Equal(t, 0.15, c.AuditPenalty)
	assert.False(t, c.RecallBoostIncludesInferred)
}

func TestThresholdsForFallsBackWhenFieldNotDeclared(t *testing.T) {
	c := Default()
	c.ConfidenceThresholdMid = 0.6
	row := c.ThresholdsFor("unknown_field")
	assert.Equal(t, 0.6, row[0])
}

func TestThresholdsForUsesDeclaredRow(t *testing.T) {
	c := Default()
	c.TierThresholds["sample_size"] = [5]float64{0.1, 0.2, 0.3, 0.4, 0.5}
	row := c.ThresholdsFor("sample_size")
	assert.Equal(t, [5]float64{0.1, 0.2, 0.3, 0.4, 0.5}, row)
}
