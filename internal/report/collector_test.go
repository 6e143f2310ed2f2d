package report

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climatehealth/fusion-cli/internal/model"
	"github.com/climatehealth/fusion-cli/internal/normalize"
)

func sampleBatch() *normalize.Batch {
	return &normalize.Batch{
		Records: []model.NormalizedRecord{
			{Variables: map[string]float64{model.VarTAVG: 20, model.VarPRCP: 90}},
			{Variables: map[string]float64{model.VarDEATHS: 10}},
		},
		Stats: normalize.Stats{
			SourceRows: 4, Normalized: 2, ParseErrors: 1, OutOfScope: 1,
		},
	}
}

func TestCollector_Summary(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	SetClock(fake)
	t.Cleanup(func() { SetClock(nil) })

	c := NewCollector()
	c.AddBatch(sampleBatch())
	c.AddFused(5)
	c.AddValidation(4, []model.Rejection{
		{Err: &model.ValidationError{Rule: "negative_mortality"}},
		{Err: &model.ValidationError{Rule: "plausibility"}},
		{Err: &model.ValidationError{Rule: "plausibility"}},
	})
	fake.Advance(90 * time.Second)

	s := c.Summary()
	assert.Equal(t, int64(4), s.SourceRows)
	assert.Equal(t, int64(2), s.Normalized)
	assert.Equal(t, int64(1), s.ParseErrors)
	assert.Equal(t, int64(1), s.OutOfScope)
	assert.Equal(t, int64(5), s.Fused)
	assert.Equal(t, int64(4), s.Accepted)
	assert.Equal(t, int64(3), s.Rejected)
	assert.Equal(t, int64(2), s.RejectReasons["plausibility"])
	assert.Equal(t, int64(1), s.RejectReasons["negative_mortality"])
	assert.Equal(t, int64(1), s.VariableRows[model.VarTAVG])
	assert.Equal(t, int64(1), s.VariableRows[model.VarDEATHS])
	assert.Equal(t, 90*time.Second, s.Elapsed)
}

func TestCollector_EmptyMapsOmitted(t *testing.T) {
	c := NewCollector()
	s := c.Summary()
	assert.Nil(t, s.RejectReasons)
	assert.Nil(t, s.VariableRows)
}

func TestCollector_ConcurrentAdds(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.AddBatch(sampleBatch())
			c.AddFused(1)
			c.AddValidation(1, []model.Rejection{{Err: &model.ValidationError{Rule: "coverage"}}})
		}()
	}
	wg.Wait()

	s := c.Summary()
	require.Equal(t, int64(64), s.SourceRows)
	assert.Equal(t, int64(32), s.Normalized)
	assert.Equal(t, int64(16), s.Fused)
	assert.Equal(t, int64(16), s.RejectReasons["coverage"])
	assert.Equal(t, int64(16), s.VariableRows[model.VarTAVG])
}
