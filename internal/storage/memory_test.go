package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreAgeDirectory(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, ok := store.LoadUserAge(ctx, "unknown")
	assert.False(t, ok)

	store.SetUserAge("child-1", 12)
	age, ok := store.LoadUserAge(ctx, "child-1")
	assert.True(t, ok)
	assert.Equal(t, 12, age)
}

func TestMemoryStoreAnalyses(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	record := &AnalysisRecord{
		ID:        "a-1",
		SessionID: "s-1",
		RiskLevel: "high",
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, store.PersistAnalysis(ctx, record))

	analyses := store.Analyses()
	require.Len(t, analyses, 1)
	assert.Equal(t, "a-1", analyses[0].ID)
}

func TestMemoryStoreAlertUpsert(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	record := &AlertRecord{AlertID: "al-1", SessionID: "s-1", Status: "active"}
	require.NoError(t, store.PersistAlert(ctx, record))

	updated := &AlertRecord{AlertID: "al-1", SessionID: "s-1", Status: "resolved"}
	require.NoError(t, store.PersistAlert(ctx, updated))

	got, ok := store.Alert("al-1")
	require.True(t, ok)
	assert.Equal(t, "resolved", got.Status)

	_, ok = store.Alert("missing")
	assert.False(t, ok)
}
