package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventValidate(t *testing.T) {
	ok := NewEvent(EventTransition, "tenant-1", "card-1", "loop-1", nil)
	assert.NoError(t, ok.Validate())
	assert.NotEmpty(t, ok.ID)
	assert.Equal(t, time.UTC, ok.OccurredAt.Location())

	bad := ok
	bad.Type = "card.deleted"
	assert.Error(t, bad.Validate())

	bad = ok
	bad.TenantID = ""
	assert.Error(t, bad.Validate())

	bad = ok
	bad.OccurredAt = time.Time{}
	assert.Error(t, bad.Validate())
}

func TestPartitionKey(t *testing.T) {
	assert.Equal(t, "card-1", NewEvent(EventQueueEntry, "tenant-1", "card-1", "", nil).partitionKey())
	assert.Equal(t, "tenant-1", NewEvent(EventRiskDetected, "tenant-1", "", "", nil).partitionKey())
}
