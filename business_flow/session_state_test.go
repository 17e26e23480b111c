package businessflow

import (
	"testing"

	"github.com/amirphl/wa-relay/models"
	"github.com/stretchr/testify/assert"
)

func TestNextSessionState(t *testing.T) {
	phone := "919876543210"
	qr := "data:image/png;base64,AAAA"
	reason := "connection lost"

	tests := []struct {
		name        string
		current     SessionState
		event       SessionEvent
		wantStatus  models.SessionStatus
		wantChanged bool
		wantEffects SessionEffect
		check       func(t *testing.T, s SessionState)
	}{
		{
			name:        "connect from disconnected starts a client",
			current:     SessionState{Status: models.SessionStatusDisconnected, PhoneNumber: &phone},
			event:       SessionEvent{Type: EventConnectRequested},
			wantStatus:  models.SessionStatusConnecting,
			wantChanged: true,
			wantEffects: EffectCancelReconnect | EffectStartClient | EffectPersist,
			check: func(t *testing.T, s SessionState) {
				assert.Nil(t, s.PhoneNumber)
				assert.Nil(t, s.QRCode)
			},
		},
		{
			name:        "connect from error starts a client",
			current:     SessionState{Status: models.SessionStatusError, ErrorMessage: &reason},
			event:       SessionEvent{Type: EventConnectRequested},
			wantStatus:  models.SessionStatusConnecting,
			wantChanged: true,
			wantEffects: EffectCancelReconnect | EffectStartClient | EffectPersist,
		},
		{
			name:       "connect when ready is a no-op",
			current:    SessionState{Status: models.SessionStatusReady, PhoneNumber: &phone},
			event:      SessionEvent{Type: EventConnectRequested},
			wantStatus: models.SessionStatusReady,
		},
		{
			name:       "connect while pairing is a no-op",
			current:    SessionState{Status: models.SessionStatusQRReady, QRCode: &qr},
			event:      SessionEvent{Type: EventConnectRequested},
			wantStatus: models.SessionStatusQRReady,
		},
		{
			name:        "reconnect due from disconnected keeps the phone",
			current:     SessionState{Status: models.SessionStatusDisconnected, PhoneNumber: &phone},
			event:       SessionEvent{Type: EventReconnectDue},
			wantStatus:  models.SessionStatusConnecting,
			wantChanged: true,
			wantEffects: EffectStartClient | EffectPersist,
			check: func(t *testing.T, s SessionState) {
				assert.Equal(t, &phone, s.PhoneNumber)
			},
		},
		{
			name:       "reconnect due after a manual connect is ignored",
			current:    SessionState{Status: models.SessionStatusConnecting},
			event:      SessionEvent{Type: EventReconnectDue},
			wantStatus: models.SessionStatusConnecting,
		},
		{
			name:        "qr received while connecting",
			current:     SessionState{Status: models.SessionStatusConnecting, ErrorMessage: &reason},
			event:       SessionEvent{Type: EventQRReceived, QRCode: qr},
			wantStatus:  models.SessionStatusQRReady,
			wantChanged: true,
			wantEffects: EffectPersist,
			check: func(t *testing.T, s SessionState) {
				assert.Equal(t, qr, *s.QRCode)
				assert.Nil(t, s.ErrorMessage)
			},
		},
		{
			name:       "qr received when ready is ignored",
			current:    SessionState{Status: models.SessionStatusReady},
			event:      SessionEvent{Type: EventQRReceived, QRCode: qr},
			wantStatus: models.SessionStatusReady,
		},
		{
			name:        "authenticated clears the qr",
			current:     SessionState{Status: models.SessionStatusQRReady, QRCode: &qr},
			event:       SessionEvent{Type: EventAuthenticated},
			wantStatus:  models.SessionStatusAuthenticated,
			wantChanged: true,
			wantEffects: EffectPersist,
			check: func(t *testing.T, s SessionState) {
				assert.Nil(t, s.QRCode)
			},
		},
		{
			name:        "ready sets the phone",
			current:     SessionState{Status: models.SessionStatusAuthenticated, ErrorMessage: &reason},
			event:       SessionEvent{Type: EventReady, PhoneNumber: phone},
			wantStatus:  models.SessionStatusReady,
			wantChanged: true,
			wantEffects: EffectPersist,
			check: func(t *testing.T, s SessionState) {
				assert.Equal(t, phone, *s.PhoneNumber)
				assert.Nil(t, s.ErrorMessage)
			},
		},
		{
			name:       "ready from disconnected is ignored",
			current:    SessionState{Status: models.SessionStatusDisconnected},
			event:      SessionEvent{Type: EventReady, PhoneNumber: phone},
			wantStatus: models.SessionStatusDisconnected,
		},
		{
			name:        "auth failure keeps the phone",
			current:     SessionState{Status: models.SessionStatusReady, PhoneNumber: &phone},
			event:       SessionEvent{Type: EventAuthFailure, Reason: "logged out"},
			wantStatus:  models.SessionStatusError,
			wantChanged: true,
			wantEffects: EffectDestroyClient | EffectPersist,
			check: func(t *testing.T, s SessionState) {
				assert.Equal(t, &phone, s.PhoneNumber)
				assert.Equal(t, "logged out", *s.ErrorMessage)
			},
		},
		{
			name:        "client start failure becomes error",
			current:     SessionState{Status: models.SessionStatusConnecting},
			event:       SessionEvent{Type: EventClientStartFailed, Reason: "boom"},
			wantStatus:  models.SessionStatusError,
			wantChanged: true,
			wantEffects: EffectDestroyClient | EffectPersist,
		},
		{
			name:        "involuntary disconnect schedules a reconnect",
			current:     SessionState{Status: models.SessionStatusReady, PhoneNumber: &phone},
			event:       SessionEvent{Type: EventDisconnected, Reason: reason},
			wantStatus:  models.SessionStatusDisconnected,
			wantChanged: true,
			wantEffects: EffectDestroyClient | EffectPersist | EffectScheduleReconnect,
			check: func(t *testing.T, s SessionState) {
				assert.Equal(t, reason, *s.ErrorMessage)
				assert.Equal(t, &phone, s.PhoneNumber)
			},
		},
		{
			name:       "disconnect event when already disconnected is ignored",
			current:    SessionState{Status: models.SessionStatusDisconnected},
			event:      SessionEvent{Type: EventDisconnected, Reason: reason},
			wantStatus: models.SessionStatusDisconnected,
		},
		{
			name:        "explicit disconnect clears everything",
			current:     SessionState{Status: models.SessionStatusQRReady, QRCode: &qr, PhoneNumber: &phone, ErrorMessage: &reason},
			event:       SessionEvent{Type: EventDisconnectRequested},
			wantStatus:  models.SessionStatusDisconnected,
			wantChanged: true,
			wantEffects: EffectCancelReconnect | EffectDestroyClient | EffectPersist,
			check: func(t *testing.T, s SessionState) {
				assert.Nil(t, s.QRCode)
				assert.Nil(t, s.PhoneNumber)
				assert.Nil(t, s.ErrorMessage)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextSessionState(tt.current, tt.event)
			assert.Equal(t, tt.wantStatus, got.State.Status)
			assert.Equal(t, tt.wantChanged, got.Changed)
			assert.Equal(t, tt.wantEffects, got.Effects)
			if !tt.wantChanged {
				assert.Equal(t, tt.current, got.State)
			}
			if tt.check != nil {
				tt.check(t, got.State)
			}
		})
	}
}

func TestQRCodeOnlyWhileAwaitingScan(t *testing.T) {
	qr := "data:image/png;base64,AAAA"
	events := []SessionEvent{
		{Type: EventAuthenticated},
		{Type: EventReady, PhoneNumber: "1"},
		{Type: EventAuthFailure, Reason: "x"},
		{Type: EventDisconnected, Reason: "x"},
		{Type: EventDisconnectRequested},
		{Type: EventClientStartFailed, Reason: "x"},
	}

	for _, evt := range events {
		t.Run(string(evt.Type), func(t *testing.T) {
			got := NextSessionState(SessionState{Status: models.SessionStatusQRReady, QRCode: &qr}, evt)
			if got.State.Status != models.SessionStatusQRReady {
				assert.Nil(t, got.State.QRCode)
			}
		})
	}
}
