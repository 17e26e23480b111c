package businessflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/wa-relay/app/services"
	"github.com/amirphl/wa-relay/models"
	"github.com/amirphl/wa-relay/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPhone      = "919876543210"
	testQR         = "data:image/png;base64,iVBORw0KGgo="
	eventuallyWait = 2 * time.Second
	eventuallyTick = 5 * time.Millisecond
)

type managerHarness struct {
	manager *SessionManagerImpl
	factory *fakeFactory
	repo    *fakeSessionRepo
	clock   *utils.ManualClock
}

func newManagerHarness(t *testing.T) *managerHarness {
	t.Helper()

	h := &managerHarness{
		factory: newFakeFactory(),
		repo:    &fakeSessionRepo{},
		clock:   utils.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	h.manager = NewSessionManager(SessionManagerConfig{
		SessionName:    models.DefaultSessionName,
		ReconnectDelay: 5 * time.Second,
		StoreTimeout:   time.Second,
		DestroyTimeout: time.Second,
	}, h.factory, h.repo, h.clock)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventuallyWait)
		defer cancel()
		_ = h.manager.Shutdown(ctx)
	})
	return h
}

// waitForClient waits until the n-th client (1-based) has been started by the manager
func (h *managerHarness) waitForClient(t *testing.T, n int) *fakeClient {
	t.Helper()
	require.Eventually(t, func() bool {
		if h.factory.clientCount() < n {
			return false
		}
		c := h.factory.client(n - 1)
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.started
	}, eventuallyWait, eventuallyTick)
	return h.factory.client(n - 1)
}

func (h *managerHarness) pair(t *testing.T, client *fakeClient) {
	t.Helper()
	client.emit(services.ClientEvent{Type: services.ClientEventQR, QRCode: testQR})
	client.emit(services.ClientEvent{Type: services.ClientEventAuthenticated})
	client.emit(services.ClientEvent{Type: services.ClientEventReady, PhoneNumber: testPhone})
	require.Equal(t, models.SessionStatusReady, h.manager.CurrentStatus())
}

func (h *managerHarness) connectToReady(t *testing.T) *fakeClient {
	t.Helper()
	n := h.factory.clientCount() + 1
	_, err := h.manager.Connect(context.Background())
	require.NoError(t, err)
	client := h.waitForClient(t, n)
	h.pair(t, client)
	return client
}

func TestSessionManagerColdStartToReady(t *testing.T) {
	h := newManagerHarness(t)
	ctx := context.Background()

	// Connect returns promptly in connecting
	resp, err := h.manager.Connect(ctx)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "connecting", resp.Status)
	assert.False(t, h.manager.IsReady())

	client := h.waitForClient(t, 1)

	client.emit(services.ClientEvent{Type: services.ClientEventQR, QRCode: testQR})
	status, err := h.manager.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "qr_ready", status.Status)
	require.NotNil(t, status.QRCode)
	assert.Equal(t, testQR, *status.QRCode)
	require.NotNil(t, status.Session)
	assert.Equal(t, testQR, *status.Session.QRCode)

	client.emit(services.ClientEvent{Type: services.ClientEventAuthenticated})
	assert.Equal(t, models.SessionStatusAuthenticated, h.manager.CurrentStatus())
	assert.False(t, h.manager.IsReady())

	client.emit(services.ClientEvent{Type: services.ClientEventReady, PhoneNumber: testPhone})
	assert.True(t, h.manager.IsReady())

	status, err = h.manager.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ready", status.Status)
	assert.True(t, status.IsReady)
	assert.Nil(t, status.QRCode)
	require.NotNil(t, status.Session.PhoneNumber)
	assert.Equal(t, testPhone, *status.Session.PhoneNumber)
	assert.NotNil(t, status.Session.LastSeenAt)

	assert.Equal(t, []models.SessionStatus{
		models.SessionStatusConnecting,
		models.SessionStatusQRReady,
		models.SessionStatusAuthenticated,
		models.SessionStatusReady,
	}, h.repo.persistedStatuses())

	readyClient, ok := h.manager.ReadyClient()
	require.True(t, ok)
	assert.Same(t, client, readyClient)
}

func TestSessionManagerConcurrentConnectsCreateOneClient(t *testing.T) {
	h := newManagerHarness(t)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := h.manager.Connect(context.Background())
			assert.NoError(t, err)
			assert.True(t, resp.Success)
		}()
	}
	wg.Wait()

	h.waitForClient(t, 1)
	assert.Never(t, func() bool { return h.factory.clientCount() > 1 }, 100*time.Millisecond, eventuallyTick)
}

func TestSessionManagerConnectWhenReadyIsIdempotent(t *testing.T) {
	h := newManagerHarness(t)
	client := h.connectToReady(t)
	before := len(h.repo.persistedStatuses())

	resp, err := h.manager.Connect(context.Background())
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "already connected", resp.Message)
	assert.Equal(t, "ready", resp.Status)

	assert.Equal(t, 1, h.factory.clientCount())
	assert.False(t, client.isDestroyed())
	assert.Equal(t, before, len(h.repo.persistedStatuses()))
}

func TestSessionManagerConnectWhileInitializing(t *testing.T) {
	h := newManagerHarness(t)
	ctx := context.Background()

	_, err := h.manager.Connect(ctx)
	require.NoError(t, err)
	client := h.waitForClient(t, 1)
	client.emit(services.ClientEvent{Type: services.ClientEventQR, QRCode: testQR})

	resp, err := h.manager.Connect(ctx)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "qr_ready", resp.Status)
	assert.Equal(t, 1, h.factory.clientCount())
}

func TestSessionManagerReconnectsAfterInvoluntaryDisconnect(t *testing.T) {
	h := newManagerHarness(t)
	first := h.connectToReady(t)

	first.emit(services.ClientEvent{Type: services.ClientEventDisconnected, Reason: "stream error"})
	assert.Equal(t, models.SessionStatusDisconnected, h.manager.CurrentStatus())
	assert.False(t, h.manager.IsReady())
	assert.Equal(t, 1, h.clock.PendingTimers())
	require.Eventually(t, first.isDestroyed, eventuallyWait, eventuallyTick)
	assert.False(t, first.isLoggedOut())

	row := h.repo.current()
	require.NotNil(t, row)
	assert.Equal(t, models.SessionStatusDisconnected, row.Status)
	require.NotNil(t, row.ErrorMessage)
	assert.Equal(t, "stream error", *row.ErrorMessage)

	// Nothing happens before the delay elapses
	h.clock.Advance(4 * time.Second)
	assert.Equal(t, models.SessionStatusDisconnected, h.manager.CurrentStatus())
	assert.Equal(t, 1, h.factory.clientCount())

	h.clock.Advance(time.Second)
	assert.Equal(t, models.SessionStatusConnecting, h.manager.CurrentStatus())
	second := h.waitForClient(t, 2)

	h.pair(t, second)
	assert.True(t, h.manager.IsReady())
	assert.Equal(t, 0, h.clock.PendingTimers())
}

func TestSessionManagerReconnectRepeatsWithoutBackoff(t *testing.T) {
	h := newManagerHarness(t)
	client := h.connectToReady(t)

	for i := 2; i <= 4; i++ {
		client.emit(services.ClientEvent{Type: services.ClientEventDisconnected, Reason: "lost"})
		require.Equal(t, 1, h.clock.PendingTimers())
		h.clock.Advance(5 * time.Second)
		client = h.waitForClient(t, i)
		require.Equal(t, models.SessionStatusConnecting, h.manager.CurrentStatus())
	}
}

func TestSessionManagerIgnoresStaleClientEvents(t *testing.T) {
	h := newManagerHarness(t)
	first := h.connectToReady(t)

	first.emit(services.ClientEvent{Type: services.ClientEventDisconnected, Reason: "lost"})
	h.clock.Advance(5 * time.Second)
	second := h.waitForClient(t, 2)

	// The replaced client can no longer move the session
	first.emit(services.ClientEvent{Type: services.ClientEventReady, PhoneNumber: "111"})
	assert.Equal(t, models.SessionStatusConnecting, h.manager.CurrentStatus())
	first.emit(services.ClientEvent{Type: services.ClientEventQR, QRCode: testQR})
	assert.Equal(t, models.SessionStatusConnecting, h.manager.CurrentStatus())

	h.pair(t, second)
	first.emit(services.ClientEvent{Type: services.ClientEventDisconnected, Reason: "late"})
	assert.True(t, h.manager.IsReady())
	assert.Equal(t, 0, h.clock.PendingTimers())
}

func TestSessionManagerExplicitDisconnect(t *testing.T) {
	h := newManagerHarness(t)
	client := h.connectToReady(t)

	resp, err := h.manager.Disconnect(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, resp.Success)

	assert.True(t, client.isDestroyed())
	assert.False(t, client.isLoggedOut())
	assert.Equal(t, models.SessionStatusDisconnected, h.manager.CurrentStatus())

	row := h.repo.current()
	require.NotNil(t, row)
	assert.Equal(t, models.SessionStatusDisconnected, row.Status)
	assert.Nil(t, row.PhoneNumber)
	assert.Nil(t, row.QRCode)
	assert.Nil(t, row.ErrorMessage)

	// No reconnect is ever scheduled
	assert.Equal(t, 0, h.clock.PendingTimers())
	h.clock.Advance(time.Minute)
	assert.Equal(t, models.SessionStatusDisconnected, h.manager.CurrentStatus())
	assert.Equal(t, 1, h.factory.clientCount())
}

func TestSessionManagerDisconnectCancelsPendingReconnect(t *testing.T) {
	h := newManagerHarness(t)
	client := h.connectToReady(t)

	client.emit(services.ClientEvent{Type: services.ClientEventDisconnected, Reason: "lost"})
	require.Equal(t, 1, h.clock.PendingTimers())

	_, err := h.manager.Disconnect(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, h.clock.PendingTimers())

	h.clock.Advance(10 * time.Second)
	assert.Equal(t, models.SessionStatusDisconnected, h.manager.CurrentStatus())
	assert.Equal(t, 1, h.factory.clientCount())
}

func TestSessionManagerLogout(t *testing.T) {
	t.Run("WithLiveClient", func(t *testing.T) {
		h := newManagerHarness(t)
		client := h.connectToReady(t)

		resp, err := h.manager.Disconnect(context.Background(), true)
		require.NoError(t, err)
		assert.Equal(t, "Logged out from WhatsApp", resp.Message)
		assert.True(t, client.isLoggedOut())
	})

	t.Run("WithoutLiveClient", func(t *testing.T) {
		h := newManagerHarness(t)

		_, err := h.manager.Disconnect(context.Background(), true)
		require.NoError(t, err)

		// A detached client is used only to drop stored credentials
		require.Equal(t, 1, h.factory.clientCount())
		assert.True(t, h.factory.latest().isLoggedOut())
		assert.Equal(t, models.SessionStatusDisconnected, h.manager.CurrentStatus())
	})
}

func TestSessionManagerAuthFailure(t *testing.T) {
	h := newManagerHarness(t)
	client := h.connectToReady(t)

	client.emit(services.ClientEvent{Type: services.ClientEventAuthFailure, Reason: "device unlinked"})
	assert.Equal(t, models.SessionStatusError, h.manager.CurrentStatus())
	require.Eventually(t, client.isDestroyed, eventuallyWait, eventuallyTick)
	assert.Equal(t, 0, h.clock.PendingTimers())

	row := h.repo.current()
	require.NotNil(t, row.PhoneNumber)
	assert.Equal(t, testPhone, *row.PhoneNumber)
	assert.Equal(t, "device unlinked", *row.ErrorMessage)
}

func TestSessionManagerClientFailures(t *testing.T) {
	t.Run("CreateError", func(t *testing.T) {
		h := newManagerHarness(t)
		h.factory.createErr = errors.New("auth store unavailable")

		resp, err := h.manager.Connect(context.Background())
		require.NoError(t, err)
		assert.True(t, resp.Success)

		require.Eventually(t, func() bool {
			return h.manager.CurrentStatus() == models.SessionStatusError
		}, eventuallyWait, eventuallyTick)
		row := h.repo.current()
		require.NotNil(t, row.ErrorMessage)
		assert.Contains(t, *row.ErrorMessage, "auth store unavailable")
	})

	t.Run("StartError", func(t *testing.T) {
		h := newManagerHarness(t)
		h.factory.startErr = errors.New("dial failed")

		_, err := h.manager.Connect(context.Background())
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return h.manager.CurrentStatus() == models.SessionStatusError
		}, eventuallyWait, eventuallyTick)
		require.Eventually(t, h.factory.latest().isDestroyed, eventuallyWait, eventuallyTick)

		// A later connect tries again
		h.factory.mu.Lock()
		h.factory.startErr = nil
		h.factory.mu.Unlock()
		_, err = h.manager.Connect(context.Background())
		require.NoError(t, err)
		h.pair(t, h.waitForClient(t, 2))
	})
}

func TestSessionManagerStoreFailureDoesNotBlockReadiness(t *testing.T) {
	h := newManagerHarness(t)
	h.repo.setFailWrite(true)

	h.connectToReady(t)
	assert.True(t, h.manager.IsReady())
	assert.True(t, h.manager.Health().IsReady)
	assert.Empty(t, h.repo.persistedStatuses())
}

func TestSessionManagerStatusStoreReadFailure(t *testing.T) {
	h := newManagerHarness(t)
	h.repo.mu.Lock()
	h.repo.failRead = true
	h.repo.mu.Unlock()

	_, err := h.manager.Status(context.Background())
	require.Error(t, err)
	assert.True(t, IsSessionStoreRead(err))
	assert.Equal(t, "GET_SESSION_STATUS_FAILED", BusinessErrorCode(err))

	// Health never reads the store
	health := h.manager.Health()
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "disconnected", health.WhatsAppStatus)
}

func TestSessionManagerRestore(t *testing.T) {
	phone := testPhone

	t.Run("StaleActiveRow", func(t *testing.T) {
		h := newManagerHarness(t)
		h.repo.row = &models.WhatsAppSession{
			ID:          1,
			SessionName: models.DefaultSessionName,
			Status:      models.SessionStatusReady,
			PhoneNumber: &phone,
		}

		require.NoError(t, h.manager.Restore(context.Background(), false))
		assert.Equal(t, models.SessionStatusDisconnected, h.manager.CurrentStatus())

		row := h.repo.current()
		assert.Equal(t, models.SessionStatusDisconnected, row.Status)
		require.NotNil(t, row.ErrorMessage)
		assert.Equal(t, staleSessionReason, *row.ErrorMessage)
		assert.Equal(t, testPhone, *row.PhoneNumber)
		assert.Equal(t, 0, h.factory.clientCount())
	})

	t.Run("MissingRowIsCreated", func(t *testing.T) {
		h := newManagerHarness(t)

		require.NoError(t, h.manager.Restore(context.Background(), false))
		row := h.repo.current()
		require.NotNil(t, row)
		assert.Equal(t, models.SessionStatusDisconnected, row.Status)
	})

	t.Run("AutoConnect", func(t *testing.T) {
		h := newManagerHarness(t)

		require.NoError(t, h.manager.Restore(context.Background(), true))
		assert.Equal(t, models.SessionStatusConnecting, h.manager.CurrentStatus())
		h.pair(t, h.waitForClient(t, 1))
	})
}

func TestSessionManagerShutdown(t *testing.T) {
	h := newManagerHarness(t)
	client := h.connectToReady(t)

	ctx, cancel := context.WithTimeout(context.Background(), eventuallyWait)
	defer cancel()
	require.NoError(t, h.manager.Shutdown(ctx))

	assert.True(t, client.isDestroyed())
	assert.False(t, client.isLoggedOut())
	assert.Equal(t, models.SessionStatusDisconnected, h.repo.current().Status)

	_, err := h.manager.Connect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, h.factory.clientCount())
}
