package services

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/wa-relay/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeQRDataURL(t *testing.T) {
	dataURL, err := EncodeQRDataURL("2@abc,def,ghi")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(dataURL, "data:image/png;base64,"))

	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])

	_, err = EncodeQRDataURL("")
	assert.Error(t, err)
}

func TestMemorySendGuard(t *testing.T) {
	clock := utils.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	guard := NewMemorySendGuard(time.Minute, clock)
	ctx := context.Background()

	ok, err := guard.Claim(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Claim(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, ok, "second claim is rejected while held")

	require.NoError(t, guard.Release(ctx, "msg-1"))
	ok, _ = guard.Claim(ctx, "msg-1")
	assert.True(t, ok, "released keys can be claimed again")

	clock.Advance(time.Minute)
	ok, _ = guard.Claim(ctx, "msg-1")
	assert.True(t, ok, "claims expire after the ttl")
}

type recordingSink struct {
	mu     sync.Mutex
	events []ClientEvent
}

func (r *recordingSink) sink(evt ClientEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingSink) types() []ClientEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ClientEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func TestMockClientPairsAndSends(t *testing.T) {
	factory := NewMockClientFactory(10*time.Millisecond, "15550100000")
	rec := &recordingSink{}

	client, err := factory.NewClient(context.Background(), "default", rec.sink)
	require.NoError(t, err)
	require.NoError(t, client.Start(context.Background()))

	require.Eventually(t, func() bool { return len(rec.types()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []ClientEventType{ClientEventQR, ClientEventAuthenticated, ClientEventReady}, rec.types())

	res, err := client.SendText(context.Background(), "15550100001@s.whatsapp.net", "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, res.MessageID)
	require.Len(t, factory.GetSentMessages(), 1)

	failure := errors.New("recipient blocked")
	factory.FailSendsTo("+1 555 010 0002", failure)
	_, err = client.SendText(context.Background(), "15550100002@s.whatsapp.net", "hello")
	assert.ErrorIs(t, err, failure)

	require.NoError(t, client.Destroy(context.Background(), true))
	_, err = client.SendText(context.Background(), "15550100001@s.whatsapp.net", "hello")
	assert.ErrorIs(t, err, ErrClientDestroyed)
	assert.True(t, factory.LatestClient().LoggedOut())
}

func TestMockClientDestroyStopsPairing(t *testing.T) {
	factory := NewMockClientFactory(time.Hour, "15550100000")
	rec := &recordingSink{}

	client, err := factory.NewClient(context.Background(), "default", rec.sink)
	require.NoError(t, err)
	require.NoError(t, client.Start(context.Background()))
	require.Eventually(t, func() bool { return len(rec.types()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, client.Destroy(context.Background(), false))
	factory.LatestClient().Emit(ClientEvent{Type: ClientEventReady})
	assert.Equal(t, []ClientEventType{ClientEventQR}, rec.types(), "destroyed clients stay silent")
}

func TestWhatsmeowConnectedReportsAuthenticatedBeforeReady(t *testing.T) {
	t.Run("RestoredDevice", func(t *testing.T) {
		rec := &recordingSink{}
		c := &whatsmeowClient{sessionName: "default", sink: rec.sink}

		c.connected("15550100000")
		assert.Equal(t, []ClientEventType{ClientEventAuthenticated, ClientEventReady}, rec.types())
	})

	t.Run("PairedInThisRun", func(t *testing.T) {
		rec := &recordingSink{}
		c := &whatsmeowClient{sessionName: "default", sink: rec.sink}

		c.emitAuthenticated()
		c.connected("15550100000")
		assert.Equal(t, []ClientEventType{ClientEventAuthenticated, ClientEventReady}, rec.types())
	})
}
