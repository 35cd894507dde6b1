package queue

import (
	"context"
	"testing"

	"kanban/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestRecordReceiptDedupesRedeliveries(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.EventReceipt{}))
	ctx := context.Background()

	ev := NewEvent(EventTransition, "tenant-1", "card-1", "loop-1", nil)

	fresh, err := RecordReceipt(ctx, db, ev)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = RecordReceipt(ctx, db, ev)
	require.NoError(t, err)
	assert.False(t, fresh, "redelivery is recognised")

	other := NewEvent(EventTransition, "tenant-1", "card-1", "loop-1", nil)
	fresh, err = RecordReceipt(ctx, db, other)
	require.NoError(t, err)
	assert.True(t, fresh)

	var n int64
	require.NoError(t, db.Model(&model.EventReceipt{}).Count(&n).Error)
	assert.EqualValues(t, 2, n)
}
