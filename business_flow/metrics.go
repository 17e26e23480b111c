package businessflow

import (
	"github.com/amirphl/wa-relay/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session transitions partitioned by the status entered
	sessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatsapp_session_transitions_total",
			Help: "Total number of session state transitions",
		},
		[]string{"status"},
	)

	// 1 for the current session status, 0 for every other status
	sessionStatusGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "whatsapp_session_status",
			Help: "Current WhatsApp session status",
		},
		[]string{"status"},
	)

	sessionReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whatsapp_session_reconnects_total",
			Help: "Total number of automatic reconnect attempts",
		},
	)

	sessionStoreFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whatsapp_session_store_failures_total",
			Help: "Total number of session rows that could not be persisted",
		},
	)

	// Messages partitioned by outcome: sent, failed, timeout, cancelled, rejected
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatsapp_messages_total",
			Help: "Total number of outbound messages by outcome",
		},
		[]string{"outcome"},
	)

	messageStoreFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whatsapp_message_store_failures_total",
			Help: "Total number of delivered messages whose row could not be marked sent",
		},
	)

	sendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whatsapp_send_duration_seconds",
			Help:    "Latency of individual sends through the WhatsApp client",
			Buckets: prometheus.DefBuckets,
		},
	)

	bulkBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whatsapp_bulk_batch_size",
			Help:    "Number of messages per bulk send request",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
	)
)

var allSessionStatuses = []models.SessionStatus{
	models.SessionStatusDisconnected,
	models.SessionStatusConnecting,
	models.SessionStatusQRReady,
	models.SessionStatusAuthenticated,
	models.SessionStatusReady,
	models.SessionStatusError,
}

func recordSessionStatus(status models.SessionStatus, transitioned bool) {
	if transitioned {
		sessionTransitionsTotal.WithLabelValues(status.String()).Inc()
	}
	for _, s := range allSessionStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		sessionStatusGauge.WithLabelValues(s.String()).Set(v)
	}
}
