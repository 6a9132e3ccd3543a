package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scorecard/ml"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "scorecard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scorecard.db")
	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestOpenInMemory(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.SaveTrainingRun(context.Background(), TrainingRun{ModelName: "mem"})
	require.NoError(t, err)
	runs, err := store.LoadTrainingLog(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSaveAndLoadTrainingRuns(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, name := range []string{"first", "second", "third"} {
		_, err := store.SaveTrainingRun(ctx, TrainingRun{
			ModelName:    name,
			AUC:          0.6 + float64(i)/10,
			TrainSamples: 700,
			TestSamples:  300,
			FeatureCount: 5,
			TrainedAt:    base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	runs, err := store.LoadTrainingLog(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "third", runs[0].ModelName)
	assert.Equal(t, "second", runs[1].ModelName)
	assert.InDelta(t, 0.8, runs[0].AUC, 1e-12)
	assert.True(t, runs[0].TrainedAt.Equal(base.Add(2*time.Hour)))

	all, err := store.LoadTrainingLog(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFeatureIVs(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	id, err := store.SaveTrainingRun(ctx, TrainingRun{
		ModelName: "iv",
		Features: []FeatureIV{
			{Feature: "purpose", IV: 0.01},
			{Feature: "int_rate", IV: 0.45, Selected: true},
			{Feature: "annual_inc", IV: 0.05, Selected: true},
		},
	})
	require.NoError(t, err)

	features, err := store.FeatureIVs(ctx, id)
	require.NoError(t, err)
	require.Len(t, features, 3)
	assert.Equal(t, "int_rate", features[0].Feature)
	assert.True(t, features[0].Selected)
	assert.Equal(t, "purpose", features[2].Feature)
	assert.False(t, features[2].Selected)

	run, err := store.TrainingRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "iv", run.ModelName)
	assert.Len(t, run.Features, 3)

	_, err = store.TrainingRun(ctx, id+100)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDuplicateFeatureRollsBack(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, err := store.SaveTrainingRun(ctx, TrainingRun{
		ModelName: "dup",
		Features:  []FeatureIV{{Feature: "x", IV: 1}, {Feature: "x", IV: 2}},
	})
	require.Error(t, err)

	runs, err := store.LoadTrainingLog(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunFromBundle(t *testing.T) {
	b := ml.NotebookBundle()
	trained := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	b.TrainedAt = &trained
	b.Metrics = &ml.TrainingMetrics{
		AUC:          0.71,
		TrainSamples: 7000,
		TestSamples:  3000,
		IVScores:     map[string]float64{"int_rate": 0.4, "purpose": 0.03, "term": 0.01},
	}

	run, err := RunFromBundle(b, "models/scorecard.json")
	require.NoError(t, err)
	assert.Equal(t, "notebook_scorecard", run.ModelName)
	assert.Equal(t, 9, run.FeatureCount)
	assert.Equal(t, 7000, run.TrainSamples)
	assert.Len(t, run.Fingerprint, 64)
	assert.True(t, run.TrainedAt.Equal(trained))
	require.Len(t, run.Features, 3)
	assert.Equal(t, FeatureIV{Feature: "int_rate", IV: 0.4, Selected: true}, run.Features[0])
	assert.Equal(t, FeatureIV{Feature: "term", IV: 0.01, Selected: false}, run.Features[2])

	store := openStore(t)
	id, err := store.SaveTrainingRun(context.Background(), run)
	require.NoError(t, err)
	saved, err := store.TrainingRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, run.Fingerprint, saved.Fingerprint)
	assert.Equal(t, run.Features, saved.Features)
}
