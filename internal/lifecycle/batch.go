package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ReplayItem is one scan queued by an offline device.
type ReplayItem struct {
	CardID         string     `json:"card_id"`
	IdempotencyKey string     `json:"idempotency_key"`
	ScannedAt      *time.Time `json:"scanned_at,omitempty"`
}

// ReplayItemResult is the outcome for one ReplayItem, at the same index as the input.
type ReplayItemResult struct {
	CardID         string      `json:"card_id"`
	IdempotencyKey string      `json:"idempotency_key"`
	Success        bool        `json:"success"`
	Result         *ScanResult `json:"result,omitempty"`
	ErrorCode      Code        `json:"error_code,omitempty"`
	Error          string      `json:"error,omitempty"`
	WasReplay      bool        `json:"was_replay"`
}

// ReplayScans pushes an offline scan queue through TriggerCardByScan strictly in order.
// A failing item is recorded and the next one still runs.
func (s *ScanService) ReplayScans(ctx context.Context, tenantID, userID string, items []ReplayItem) []ReplayItemResult {
	out := make([]ReplayItemResult, len(items))
	for i, item := range items {
		out[i] = s.replayOne(ctx, tenantID, userID, item)
	}

	failed := 0
	for _, r := range out {
		if !r.Success {
			failed++
		}
	}
	s.log.Info("scan replay finished",
		zap.String("tenant_id", tenantID),
		zap.Int("items", len(items)),
		zap.Int("failed", failed),
	)
	return out
}

func (s *ScanService) replayOne(ctx context.Context, tenantID, userID string, item ReplayItem) (res ReplayItemResult) {
	res = ReplayItemResult{CardID: item.CardID, IdempotencyKey: item.IdempotencyKey, WasReplay: true}
	defer func() {
		if r := recover(); r != nil {
			res.Success, res.Result = false, nil
			res.ErrorCode, res.Error = CodeUnknown, fmt.Sprintf("panic: %v", r)
		}
	}()

	if item.IdempotencyKey == "" {
		res.ErrorCode, res.Error = CodeValidation, "idempotencyKey is required for replayed scans"
		return res
	}

	meta := map[string]any{"offlineReplay": true}
	if item.ScannedAt != nil {
		meta["scannedAt"] = item.ScannedAt.UTC().Format(time.RFC3339)
	}
	scan, err := s.TriggerCardByScan(ctx, ScanRequest{
		CardID:         item.CardID,
		IdempotencyKey: item.IdempotencyKey,
		TenantHint:     tenantID,
		UserID:         userID,
		Metadata:       meta,
	})
	if err != nil {
		res.ErrorCode = classify(err)
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.Result = scan
	return res
}

// classify maps an error to duplicate / domain / unknown.
func classify(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeUnknown
}
