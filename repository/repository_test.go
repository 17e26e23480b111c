package repository

import (
	"testing"
	"time"

	"github.com/amirphl/wa-relay/models"
	testingutil "github.com/amirphl/wa-relay/testing"
	"github.com/amirphl/wa-relay/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTestDB(t *testing.T, fn func(t *testing.T, testDB *testingutil.TestDB)) {
	t.Helper()
	if testing.Short() || !testingutil.PostgresAvailable() {
		t.Skip("PostgreSQL is not reachable; set TEST_DB_* to run repository tests")
	}
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fn(t, testDB)
		return nil
	})
	require.NoError(t, err)
}

func TestWhatsAppSessionRepository(t *testing.T) {
	withTestDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		repo := NewWhatsAppSessionRepository(testDB.DB)
		ctx := testingutil.CreateTestContext()

		t.Run("ByName returns nil when absent", func(t *testing.T) {
			row, err := repo.ByName(ctx, "missing")
			require.NoError(t, err)
			assert.Nil(t, row)
		})

		t.Run("Upsert inserts then overwrites by name", func(t *testing.T) {
			qr := "data:image/png;base64,AAAA"
			require.NoError(t, repo.Upsert(ctx, &models.WhatsAppSession{
				SessionName: models.DefaultSessionName,
				Status:      models.SessionStatusQRReady,
				QRCode:      &qr,
				LastSeenAt:  utils.UTCNowPtr(),
			}))

			phone := "919876543210"
			require.NoError(t, repo.Upsert(ctx, &models.WhatsAppSession{
				SessionName: models.DefaultSessionName,
				Status:      models.SessionStatusReady,
				PhoneNumber: &phone,
				LastSeenAt:  utils.UTCNowPtr(),
			}))

			row, err := repo.ByName(ctx, models.DefaultSessionName)
			require.NoError(t, err)
			require.NotNil(t, row)
			assert.Equal(t, models.SessionStatusReady, row.Status)
			assert.Nil(t, row.QRCode, "qr code is cleared by the later write")
			require.NotNil(t, row.PhoneNumber)
			assert.Equal(t, phone, *row.PhoneNumber)

			count, err := repo.Count(ctx, models.WhatsAppSessionFilter{})
			require.NoError(t, err)
			assert.Equal(t, int64(1), count)
		})
	})
}

func TestOutboundMessageRepository(t *testing.T) {
	withTestDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		repo := NewOutboundMessageRepository(testDB.DB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		t.Run("MarkSent only applies once", func(t *testing.T) {
			msg, err := fixtures.CreatePendingMessage(models.DefaultSessionName, "hello")
			require.NoError(t, err)

			sentAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
			changed, err := repo.MarkSent(ctx, msg.UUID, "3EB0ABC", sentAt)
			require.NoError(t, err)
			assert.True(t, changed)

			changed, err = repo.MarkFailed(ctx, msg.UUID, models.SendErrorKindSendError, "late failure")
			require.NoError(t, err)
			assert.False(t, changed, "terminal rows are never rewritten")

			row, err := repo.ByUUID(ctx, msg.UUID)
			require.NoError(t, err)
			require.NotNil(t, row)
			assert.Equal(t, models.OutboundMessageStatusSent, row.Status)
			require.NotNil(t, row.SentAt)
			assert.True(t, sentAt.Equal(*row.SentAt))
			assert.Equal(t, "3EB0ABC", utils.StringValue(row.ProviderMessageID))
			assert.Nil(t, row.ErrorMessage)
		})

		t.Run("MarkFailed records the kind", func(t *testing.T) {
			msg, err := fixtures.CreatePendingMessage(models.DefaultSessionName, "hello")
			require.NoError(t, err)

			changed, err := repo.MarkFailed(ctx, msg.UUID, models.SendErrorKindTimeout, "send timed out")
			require.NoError(t, err)
			assert.True(t, changed)

			row, err := repo.ByUUID(ctx, msg.UUID)
			require.NoError(t, err)
			assert.Equal(t, models.OutboundMessageStatusFailed, row.Status)
			require.NotNil(t, row.ErrorKind)
			assert.Equal(t, models.SendErrorKindTimeout, *row.ErrorKind)
			assert.Nil(t, row.SentAt)
		})

		t.Run("unknown uuid", func(t *testing.T) {
			row, err := repo.ByUUID(ctx, uuid.New())
			require.NoError(t, err)
			assert.Nil(t, row)

			changed, err := repo.MarkSent(ctx, uuid.New(), "x", utils.UTCNow())
			require.NoError(t, err)
			assert.False(t, changed)
		})

		t.Run("ListPending is oldest first and scoped to the session", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())

			first, err := fixtures.CreatePendingMessage(models.DefaultSessionName, "first")
			require.NoError(t, err)
			second, err := fixtures.CreatePendingMessage(models.DefaultSessionName, "second")
			require.NoError(t, err)
			_, err = fixtures.CreatePendingMessage("other", "elsewhere")
			require.NoError(t, err)

			rows, err := repo.ListPending(ctx, models.DefaultSessionName, 10)
			require.NoError(t, err)
			require.Len(t, rows, 2)
			assert.Equal(t, first.UUID, rows[0].UUID)
			assert.Equal(t, second.UUID, rows[1].UUID)

			rows, err = repo.ListPending(ctx, models.DefaultSessionName, 1)
			require.NoError(t, err)
			assert.Len(t, rows, 1)
		})
	})
}
