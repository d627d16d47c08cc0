package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scireview/extractcore/schema"
)

func intPtr(v int) *int { return &v }

func TestNewFinding(t *testing.T) {
	f, err := NewFinding(StatusPresent, intPtr(3), intPtr(5), schema.AggregationPatient)
	require.NoError(t, err)
	assert.Equal(t, 3, *f.N)
}

func TestNewFindingRejectsNGreaterThanNTotal(t *testing.T) {
	_, err := NewFinding(StatusPresent, intPtr(6), intPtr(5), schema.AggregationPatient)
	assert.Error(t, err)
}

func TestCoerceQuote(t *testing.T) {
	assert.Equal(t, "", CoerceQuote(nil))
	assert.Equal(t, "42", CoerceQuote(42))
	assert.Equal(t, "hello", CoerceQuote("hello"))
}

func TestClampUnit(t *testing.T) {
	assert.Equal(t, 0.0, ClampUnit(-1))
	assert.Equal(t, 1.0, ClampUnit(1.5))
	assert.Equal(t, 0.5, ClampUnit(0.5))
}

func TestNewEvidenceItem(t *testing.T) {
	item := NewEvidenceItem("doi", "10.1/x", 10, 1.2)
	assert.Equal(t, "10", item.ExactQuote)
	assert.Equal(t, 1.0, item.Confidence)
}

func TestNewExtractionPopulatesAllKeys(t *testing.T) {
	s := &schema.Schema{Fields: []schema.FieldSpec{{Key: "a"}, {Key: "b"}}}
	ext := NewExtraction(s)
	assert.Len(t, ext.Data, 2)
	assert.Nil(t, ext.Data["a"])
	assert.Nil(t, ext.Data["b"])
}

func TestSetAndGetTierUsed(t *testing.T) {
	s := &schema.Schema{Fields: []schema.FieldSpec{{Key: "a"}}}
	ext := NewExtraction(s)
	ext.SetTierUsed("a", "cloud")
	tier, ok := ext.TierUsed("a")
	assert.True(t, ok)
	assert.Equal(t, "cloud", tier)

	_, ok = ext.TierUsed("missing")
	assert.False(t, ok)
}
