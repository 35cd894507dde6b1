package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	// ClaimPending means a scan holding this key is in flight.
	ClaimPending = "pending"
	// ClaimCompleted means the scan finished and its result is stored.
	ClaimCompleted = "completed"
	// ClaimFailed is terminal for that attempt; the key may be claimed again.
	ClaimFailed = "failed"
)

// DefaultPendingTTL bounds how long an unfinished claim blocks its key.
const DefaultPendingTTL = 2 * time.Minute

// luaClaim atomically takes the claim when the key is absent or its last attempt failed.
// KEYS[1]=claim key, ARGV[1]=tenant id, ARGV[2]=pending ttl seconds, ARGV[3]=now (unix ms)
// Returns {1, "pending"} on success, otherwise {0, <existing status>}.
const luaClaim = `
local key = KEYS[1]
local status = redis.call('HGET', key, 'status')
if (not status) or status == 'failed' then
  redis.call('HSET', key, 'status', 'pending', 'tenant_id', ARGV[1], 'result', '', 'reason', '', 'claimed_at', ARGV[3])
  redis.call('EXPIRE', key, tonumber(ARGV[2]))
  return {1, 'pending'}
end
return {0, status}
`

// ClaimResult is the outcome of Claim.
type ClaimResult struct {
	Allowed        bool
	ExistingStatus string
}

// claimState is the stored content of a claim.
type claimState struct {
	Status   string
	TenantID string
	Result   json.RawMessage
	Reason   string
}

// ClaimStore implements scan idempotency claims on Redis hashes with a per-key TTL.
// A pending claim lives for pendingTTL; completing or failing it extends the key to ttl.
type ClaimStore struct {
	rdb        *rd.Client
	ttl        time.Duration
	pendingTTL time.Duration
}

func NewClaimStore(rdb *rd.Client, ttl time.Duration) *ClaimStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ClaimStore{rdb: rdb, ttl: ttl, pendingTTL: min(ttl, DefaultPendingTTL)}
}

// Claim takes (cardID, key) for this caller. Allowed=false carries the status of whoever holds it.
func (s *ClaimStore) Claim(ctx context.Context, cardID, idemKey, tenantID string) (ClaimResult, error) {
	res, err := s.rdb.Eval(ctx, luaClaim, []string{ScanClaimKey(cardID, idemKey)},
		tenantID, int64(s.pendingTTL/time.Second), time.Now().UnixMilli()).Slice()
	if err != nil {
		return ClaimResult{}, err
	}
	if len(res) != 2 {
		return ClaimResult{}, fmt.Errorf("unexpected claim reply %v", res)
	}
	allowed, _ := res[0].(int64)
	status, _ := res[1].(string)
	return ClaimResult{Allowed: allowed == 1, ExistingStatus: status}, nil
}

// MarkCompleted stores the result summary and refreshes the TTL.
func (s *ClaimStore) MarkCompleted(ctx context.Context, cardID, idemKey string, result any) error {
	b, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.put(ctx, cardID, idemKey, "status", ClaimCompleted, "result", string(b), "reason", "")
}

// MarkFailed releases the claim for a later retry and keeps the reason for inspection.
func (s *ClaimStore) MarkFailed(ctx context.Context, cardID, idemKey, reason string) error {
	return s.put(ctx, cardID, idemKey, "status", ClaimFailed, "reason", reason)
}

// get reads a claim. found=false means the key is absent or expired.
func (s *ClaimStore) get(ctx context.Context, cardID, idemKey string) (claimState, bool, error) {
	m, err := s.rdb.HGetAll(ctx, ScanClaimKey(cardID, idemKey)).Result()
	if err != nil {
		return claimState{}, false, err
	}
	if len(m) == 0 {
		return claimState{}, false, nil
	}
	out := claimState{
		Status:   m["status"],
		TenantID: m["tenant_id"],
		Reason:   m["reason"],
	}
	if r := m["result"]; r != "" {
		out.Result = json.RawMessage(r)
	}
	if out.Status == "" {
		out.Status = ClaimPending
	}
	return out, true, nil
}

func (s *ClaimStore) put(ctx context.Context, cardID, idemKey string, fields ...any) error {
	key := ScanClaimKey(cardID, idemKey)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields...)
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}
