// Package scheduler runs background delivery of messages queued in the outbound_messages table
package scheduler

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/amirphl/wa-relay/app/dto"
	"github.com/amirphl/wa-relay/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gopkg.in/natefinch/lumberjack.v2"
)

var outboxMessagesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "whatsapp_outbox_messages_total",
		Help: "Total number of queued messages handed to the dispatch engine by outcome",
	},
	[]string{"outcome"},
)

// PendingSource lists queued messages of a session, oldest first
type PendingSource interface {
	ListPending(ctx context.Context, sessionName string, limit int) ([]*models.OutboundMessage, error)
}

// BulkSender is the part of the dispatch engine the outbox needs
type BulkSender interface {
	SendBulk(ctx context.Context, req *dto.SendBulkRequest) (*dto.SendBulkResponse, error)
}

// Readiness reports whether the session can send right now
type Readiness interface {
	IsReady() bool
}

// OutboxConfig configures the outbox loop
type OutboxConfig struct {
	SessionName string
	Interval    time.Duration
	BatchSize   int
}

// OutboxScheduler periodically delivers pending outbound messages while the session is ready
type OutboxScheduler struct {
	pending  PendingSource
	sender   BulkSender
	sessions Readiness
	cfg      OutboxConfig
	logger   *log.Logger
}

func NewOutboxScheduler(
	pending PendingSource,
	sender BulkSender,
	sessions Readiness,
	cfg OutboxConfig,
	logger *log.Logger,
) *OutboxScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.SessionName == "" {
		cfg.SessionName = models.DefaultSessionName
	}
	if logger == nil {
		logger = log.Default()
	}

	return &OutboxScheduler{
		pending:  pending,
		sender:   sender,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
	}
}

// NewOutboxLogger returns a logger writing to stdout and a rotating file at path.
// Falls back to stdout only when the directory cannot be created.
func NewOutboxLogger(path string) *log.Logger {
	var out io.Writer = os.Stdout
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			log.Printf("outbox: failed to create log directory: %v", err)
		} else {
			out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
				Filename:   path,
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     14,
				Compress:   true,
			})
		}
	}
	return log.New(out, "outbox ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
}

// Start launches the outbox loop in a background goroutine and returns a stop function.
// The stop function waits for an in-flight batch to observe cancellation.
func (s *OutboxScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.logger.Printf("outbox: started, interval=%s batch=%d", s.cfg.Interval, s.cfg.BatchSize)
		for {
			select {
			case <-ctx.Done():
				s.logger.Printf("outbox: stopped")
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// RunOnce delivers one batch of pending messages and returns how many were sent
func (s *OutboxScheduler) RunOnce(ctx context.Context) int {
	if !s.sessions.IsReady() {
		return 0
	}

	rows, err := s.pending.ListPending(ctx, s.cfg.SessionName, s.cfg.BatchSize)
	if err != nil {
		s.logger.Printf("outbox: list pending failed: %v", err)
		return 0
	}
	if len(rows) == 0 {
		return 0
	}
	s.logger.Printf("outbox: %d messages pending", len(rows))

	req := &dto.SendBulkRequest{Messages: make([]dto.SendMessageRequest, 0, len(rows))}
	for _, row := range rows {
		req.Messages = append(req.Messages, dto.SendMessageRequest{
			Phone:     row.RecipientPhone,
			Message:   row.MessageContent,
			MessageID: row.UUID.String(),
		})
	}

	resp, err := s.sender.SendBulk(ctx, req)
	if err != nil {
		// Rows stay pending and are retried on the next tick
		s.logger.Printf("outbox: batch rejected: %v", err)
		return 0
	}

	for _, r := range resp.Results {
		switch {
		case r.Success:
			outboxMessagesTotal.WithLabelValues("sent").Inc()
		case r.ErrorKind == string(models.SendErrorKindCancelled):
			outboxMessagesTotal.WithLabelValues("cancelled").Inc()
		default:
			outboxMessagesTotal.WithLabelValues("failed").Inc()
			s.logger.Printf("outbox: message %s to %s failed (%s): %s", r.MessageID, r.Phone, r.ErrorKind, r.Error)
		}
	}
	s.logger.Printf("outbox: batch done, sent=%d failed=%d total=%d", resp.Sent, resp.Failed, resp.Total)

	return resp.Sent
}
