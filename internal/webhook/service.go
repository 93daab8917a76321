// ABOUTME: Ingest service that parses webhook updates and persists them per tenant
// ABOUTME: Maps parse failures to 400 and storage failures to 500; acknowledges in the background

package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-webhook/internal/dedupe"
	"github.com/2389/coven-webhook/internal/kv"
	"github.com/2389/coven-webhook/internal/telegram"
)

// EmptyMessage is stored for updates whose message carries no text.
const EmptyMessage = "empty message"

// DefaultMaxBodyBytes caps request bodies when Config.MaxBodyBytes is zero.
const DefaultMaxBodyBytes = 1 << 20

const ackTimeout = 15 * time.Second

// Outcome is the HTTP status and body returned for one request.
type Outcome struct {
	Status int
	Body   string
}

var (
	// OutcomeDone is returned once the record is persisted.
	OutcomeDone = Outcome{Status: http.StatusOK, Body: "done"}

	// OutcomeBadInput is returned for bodies that are not a valid update.
	OutcomeBadInput = Outcome{Status: http.StatusBadRequest, Body: "Failed to parse input"}

	// OutcomeInternal is returned for transport and storage failures.
	OutcomeInternal = Outcome{Status: http.StatusInternalServerError, Body: "Internal error"}
)

// Resolver returns the storage engine for a tenant. *tenant.Router implements it.
type Resolver interface {
	Resolve(ctx context.Context, id string) (kv.Engine, error)
}

// Config holds the dependencies of a Service.
type Config struct {
	Router   Resolver
	Logger   *slog.Logger
	Notifier telegram.Notifier // optional
	AckText  string
	// Dedupe suppresses repeated acknowledgements. Required with Notifier.
	Dedupe       *dedupe.Cache
	MaxBodyBytes int64
}

// Service implements the ingest flow and http.Handler.
type Service struct {
	router       Resolver
	logger       *slog.Logger
	notifier     telegram.Notifier
	ackText      string
	dedupe       *dedupe.Cache
	maxBodyBytes int64

	acks sync.WaitGroup
}

// New creates a Service from cfg.
func New(cfg Config) *Service {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Service{
		router:       cfg.Router,
		logger:       cfg.Logger,
		notifier:     cfg.Notifier,
		ackText:      cfg.AckText,
		dedupe:       cfg.Dedupe,
		maxBodyBytes: maxBody,
	}
}

// Ingest parses payload and stores its message under the update id in the
// chat's tenant store.
func (s *Service) Ingest(ctx context.Context, payload []byte) Outcome {
	logger := s.logger.With("request_id", uuid.New().String())

	update, err := telegram.ParseUpdate(payload)
	if err != nil {
		logger.Warn("failed to deserialize update", "error", err)
		return OutcomeBadInput
	}

	tenantID := update.TenantID()
	key := update.IdempotencyKey()
	logger = logger.With("tenant", tenantID, "update_id", key)

	engine, err := s.router.Resolve(ctx, tenantID)
	if err != nil {
		logger.Error("failed to resolve tenant store", "error", err, "storage_fault", classify(err))
		return OutcomeInternal
	}

	text := EmptyMessage
	if update.Message.Text != nil {
		text = *update.Message.Text
	}

	if err := engine.Set(ctx, key, text); err != nil {
		logger.Error("failed to persist update", "error", err, "storage_fault", classify(err))
		return OutcomeInternal
	}
	logger.Info("update stored", "message_id", update.Message.MessageID)

	s.acknowledge(logger, update)
	return OutcomeDone
}

// acknowledge sends the ack text to the chat without blocking the request.
func (s *Service) acknowledge(logger *slog.Logger, update *telegram.Update) {
	if s.notifier == nil || s.ackText == "" {
		return
	}

	dedupeKey := dedupe.Key(update.TenantID(), update.IdempotencyKey())
	if s.dedupe != nil && !s.dedupe.FirstSeen(dedupeKey) {
		logger.Debug("update already acknowledged")
		return
	}

	s.acks.Add(1)
	go func() {
		defer s.acks.Done()

		// The request context ends with the response; the ack outlives it.
		ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
		defer cancel()

		if err := s.notifier.SendMessage(ctx, update.Message.Chat.ID, s.ackText); err != nil {
			logger.Warn("failed to acknowledge update", "error", err)
			if s.dedupe != nil {
				s.dedupe.Forget(dedupeKey)
			}
		}
	}()
}

// Wait blocks until in-flight acknowledgements finish.
func (s *Service) Wait() {
	s.acks.Wait()
}

// ServeHTTP reads the request body and responds with the ingest Outcome.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		s.logger.Error("failed to load request body", "error", err, "uri", r.URL.RequestURI())
		writeOutcome(w, OutcomeInternal)
		return
	}

	writeOutcome(w, s.Ingest(r.Context(), body))
}

func writeOutcome(w http.ResponseWriter, o Outcome) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(o.Status)
	_, _ = w.Write([]byte(o.Body))
}

// classify names the storage fault for logs.
func classify(err error) string {
	switch {
	case errors.Is(err, kv.ErrWrite):
		return "write"
	case errors.Is(err, kv.ErrRead):
		return "read"
	case errors.Is(err, kv.ErrEncoding):
		return "encoding"
	case errors.Is(err, kv.ErrOpen):
		return "open"
	case errors.Is(err, kv.ErrClosed):
		return "closed"
	default:
		return "unknown"
	}
}
