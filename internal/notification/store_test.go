package notification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenNSW/pipeline/internal/database"
)

func TestStore_Outbox(t *testing.T) {
	db, err := database.OpenInMemory(&Notification{})
	require.NoError(t, err)
	defer database.Close(db)

	store := NewStore(db)
	ctx := context.Background()

	first := &Notification{Channel: "email", Recipients: []string{"ops@example.com"}, Subject: "Disposed", Body: "Asset disposed"}
	second := &Notification{Channel: "sms", Recipients: []string{"+94770000000"}, Body: "Asset lost"}
	require.NoError(t, store.CreateInTx(ctx, db, first))
	require.NoError(t, store.CreateInTx(ctx, db, second))
	assert.Equal(t, StatusPending, first.Status)

	require.NoError(t, store.MarkSent(ctx, first.ID))
	require.NoError(t, store.MarkFailed(ctx, second.ID))

	pending, err := store.ListPending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	var sent Notification
	require.NoError(t, db.First(&sent, "id = ?", first.ID).Error)
	assert.Equal(t, StatusSent, sent.Status)
	assert.NotNil(t, sent.SentAt)
	assert.Equal(t, []string{"ops@example.com"}, sent.Recipients)
}
