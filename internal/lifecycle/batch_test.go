package lifecycle

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"kanban/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayScans_FailingItemDoesNotStopTheBatch(t *testing.T) {
	env := newScanEnv(t, model.LoopProcurement, model.StageCreated, true)
	s := env.store
	s.addCard(model.Card{ID: "card-2", TenantID: tenantA, LoopID: "loop-1", CardNumber: 2, CurrentStage: model.StageCreated, IsActive: true})
	s.addCard(model.Card{ID: "card-3", TenantID: tenantA, LoopID: "loop-1", CardNumber: 3, CurrentStage: model.StageOrdered, IsActive: true})
	s.addCard(model.Card{ID: "card-b", TenantID: tenantB, LoopID: "loop-1", CurrentStage: model.StageCreated, IsActive: true})

	scannedAt := time.Date(2026, 3, 9, 8, 30, 0, 0, time.UTC)
	items := []ReplayItem{
		{CardID: "card-1", IdempotencyKey: "off-1", ScannedAt: &scannedAt},
		{CardID: "card-3", IdempotencyKey: "off-2"},
		{CardID: "card-b", IdempotencyKey: "off-3"},
		{CardID: "card-2", IdempotencyKey: ""},
		{CardID: "card-2", IdempotencyKey: "off-4"},
		{CardID: "card-1", IdempotencyKey: "off-1"},
	}
	out := env.svc.ReplayScans(context.Background(), tenantA, "device-user", items)
	require.Len(t, out, len(items))

	for i, r := range out {
		assert.Equal(t, items[i].CardID, r.CardID, "order preserved")
		assert.Equal(t, items[i].IdempotencyKey, r.IdempotencyKey)
		assert.True(t, r.WasReplay)
	}

	assert.True(t, out[0].Success)
	require.NotNil(t, out[0].Result)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(out[0].Result.Transition.Metadata, &meta))
	assert.Equal(t, true, meta["offlineReplay"])
	assert.Equal(t, "2026-03-09T08:30:00Z", meta["scannedAt"])

	assert.False(t, out[1].Success)
	assert.Equal(t, CodeScanConflict, out[1].ErrorCode)

	assert.False(t, out[2].Success)
	assert.Equal(t, CodeTenantMismatch, out[2].ErrorCode)

	assert.False(t, out[3].Success)
	assert.Equal(t, CodeValidation, out[3].ErrorCode)

	assert.True(t, out[4].Success, "items after a failure still run")
	assert.Equal(t, model.StageTriggered, s.card("card-2").CurrentStage)

	assert.True(t, out[5].Success)
	assert.True(t, out[5].Result.Replayed)
	assert.Len(t, s.transitionsFor("card-1"), 1)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, CodeDuplicateScan, classify(&Error{Code: CodeDuplicateScan}))
	assert.Equal(t, CodeUnknown, classify(assert.AnError))
}
