package testing

import (
	"fmt"
	"math/rand"

	"github.com/amirphl/wa-relay/models"
	"github.com/google/uuid"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestSession creates a session row with the given status
func (tf *TestFixtures) CreateTestSession(name string, status models.SessionStatus) (*models.WhatsAppSession, error) {
	session := &models.WhatsAppSession{
		SessionName: name,
		Status:      status,
	}
	if err := tf.DB.DB.Create(session).Error; err != nil {
		return nil, fmt.Errorf("failed to create test session: %w", err)
	}
	return session, nil
}

// CreatePendingMessage enqueues a pending outbound message for the session
func (tf *TestFixtures) CreatePendingMessage(sessionName, content string) (*models.OutboundMessage, error) {
	msg := &models.OutboundMessage{
		UUID:           uuid.New(),
		SessionName:    sessionName,
		RecipientPhone: fmt.Sprintf("+9198%08d", rand.Intn(100000000)),
		MessageContent: content,
		Status:         models.OutboundMessageStatusPending,
	}
	if err := tf.DB.DB.Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to create pending message: %w", err)
	}
	return msg, nil
}
