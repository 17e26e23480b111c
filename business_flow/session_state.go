package businessflow

import (
	"github.com/amirphl/wa-relay/models"
)

// SessionEventType enumerates the inputs of the session state machine
type SessionEventType string

const (
	EventConnectRequested    SessionEventType = "connect_requested"
	EventReconnectDue        SessionEventType = "reconnect_due"
	EventClientStartFailed   SessionEventType = "client_start_failed"
	EventQRReceived          SessionEventType = "qr_received"
	EventAuthenticated       SessionEventType = "authenticated"
	EventReady               SessionEventType = "ready"
	EventAuthFailure         SessionEventType = "auth_failure"
	EventDisconnected        SessionEventType = "disconnected"
	EventDisconnectRequested SessionEventType = "disconnect_requested"
)

// SessionEvent is one input to NextSessionState
type SessionEvent struct {
	Type        SessionEventType
	QRCode      string
	PhoneNumber string
	Reason      string
}

// SessionState is the in-memory projection of the session row
type SessionState struct {
	Status       models.SessionStatus
	QRCode       *string
	PhoneNumber  *string
	ErrorMessage *string
}

// SessionEffect is a side effect requested by a transition
type SessionEffect uint8

const (
	EffectPersist SessionEffect = 1 << iota
	EffectStartClient
	EffectDestroyClient
	EffectScheduleReconnect
	EffectCancelReconnect
)

// SessionTransition is the result of applying an event to a state
type SessionTransition struct {
	State   SessionState
	Changed bool
	Effects SessionEffect
}

// Has reports whether the transition requests effect e
func (t SessionTransition) Has(e SessionEffect) bool {
	return t.Effects&e != 0
}

func unchanged(s SessionState) SessionTransition {
	return SessionTransition{State: s}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// NextSessionState computes the state that follows current when event occurs.
// It performs no I/O; callers apply the returned effects.
func NextSessionState(current SessionState, event SessionEvent) SessionTransition {
	next := current
	status := current.Status

	switch event.Type {
	case EventConnectRequested:
		if status != models.SessionStatusDisconnected && status != models.SessionStatusError {
			return unchanged(current)
		}
		next.Status = models.SessionStatusConnecting
		next.QRCode = nil
		next.PhoneNumber = nil
		return SessionTransition{State: next, Changed: true,
			Effects: EffectCancelReconnect | EffectStartClient | EffectPersist}

	case EventReconnectDue:
		if status != models.SessionStatusDisconnected {
			return unchanged(current)
		}
		next.Status = models.SessionStatusConnecting
		next.QRCode = nil
		return SessionTransition{State: next, Changed: true, Effects: EffectStartClient | EffectPersist}

	case EventClientStartFailed:
		if !status.IsActive() {
			return unchanged(current)
		}
		next.Status = models.SessionStatusError
		next.QRCode = nil
		next.ErrorMessage = strPtr(event.Reason)
		return SessionTransition{State: next, Changed: true, Effects: EffectDestroyClient | EffectPersist}

	case EventQRReceived:
		if status != models.SessionStatusConnecting && status != models.SessionStatusQRReady {
			return unchanged(current)
		}
		next.Status = models.SessionStatusQRReady
		next.QRCode = strPtr(event.QRCode)
		next.ErrorMessage = nil
		return SessionTransition{State: next, Changed: true, Effects: EffectPersist}

	case EventAuthenticated:
		if status != models.SessionStatusConnecting && status != models.SessionStatusQRReady {
			return unchanged(current)
		}
		next.Status = models.SessionStatusAuthenticated
		next.QRCode = nil
		return SessionTransition{State: next, Changed: true, Effects: EffectPersist}

	case EventReady:
		if !status.IsInitializing() {
			return unchanged(current)
		}
		next.Status = models.SessionStatusReady
		next.PhoneNumber = strPtr(event.PhoneNumber)
		next.QRCode = nil
		next.ErrorMessage = nil
		return SessionTransition{State: next, Changed: true, Effects: EffectPersist}

	case EventAuthFailure:
		next.Status = models.SessionStatusError
		next.QRCode = nil
		next.ErrorMessage = strPtr(event.Reason)
		return SessionTransition{State: next, Changed: true, Effects: EffectDestroyClient | EffectPersist}

	case EventDisconnected:
		if !status.IsActive() {
			return unchanged(current)
		}
		next.Status = models.SessionStatusDisconnected
		next.QRCode = nil
		next.ErrorMessage = strPtr(event.Reason)
		return SessionTransition{State: next, Changed: true,
			Effects: EffectDestroyClient | EffectPersist | EffectScheduleReconnect}

	case EventDisconnectRequested:
		next = SessionState{Status: models.SessionStatusDisconnected}
		return SessionTransition{State: next, Changed: next.Status != status || current != next,
			Effects: EffectCancelReconnect | EffectDestroyClient | EffectPersist}
	}

	return unchanged(current)
}
