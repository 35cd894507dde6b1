package redis

import "fmt"

// ScanClaimKey is the idempotency claim for one (card, key) pair.
func ScanClaimKey(cardID, idemKey string) string {
	return fmt.Sprintf("kanban:scan:claim:%s:%s", cardID, idemKey)
}

// ScanRateLimitKey scopes the public scan limiter to a card and caller IP.
func ScanRateLimitKey(cardID, clientIP string) string {
	return fmt.Sprintf("rate_limit:kanban:scan:%s:%s", cardID, clientIP)
}

// QueueRiskLockKey serializes periodic risk scans for one tenant across replicas.
func QueueRiskLockKey(tenantID string) string {
	return fmt.Sprintf("lock:queue_risk:%s", tenantID)
}
