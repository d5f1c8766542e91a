// Package webhookapi exposes the inbound webhook endpoint. It owns
// transport concerns only: authentication of the delivery, schema
// validation of the envelope, and fan-out to the processor or queue.
package webhookapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"posbridge/internal/bridge"
	"posbridge/internal/metrics"
	"posbridge/internal/queue"
)

// Verifier covers the webhook-authentication capabilities of the source
// client plus payload parsing for the fast path.
type Verifier interface {
	VerifySignature(signature string, rawBody []byte) bool
	VerifyWebhookAuth(headerValue string) bool
	SignatureConfigured() bool
	ParseOrderFromPayload(payload json.RawMessage) (bridge.NormalizedOrder, error)
}

// OrderProcessor is the pipeline entry point pair.
type OrderProcessor interface {
	ProcessOrderFromPayload(ctx context.Context, order bridge.NormalizedOrder) error
	ProcessByOrderID(ctx context.Context, orderID string) error
}

type Server struct {
	Router    *mux.Router
	verifier  Verifier
	processor OrderProcessor
	enqueuer  queue.Enqueuer // nil means process inline
	logger    *slog.Logger
	mreg      *metrics.Registry
}

func NewServer(verifier Verifier, processor OrderProcessor, enqueuer queue.Enqueuer, logger *slog.Logger, mreg *metrics.Registry) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Router:    mux.NewRouter(),
		verifier:  verifier,
		processor: processor,
		enqueuer:  enqueuer,
		logger:    logger,
		mreg:      mreg,
	}
	s.Router.HandleFunc("/webhooks/clover/orders", s.handleVerificationGet).Methods(http.MethodGet)
	s.Router.HandleFunc("/webhooks/clover/orders", s.handleOrders).Methods(http.MethodPost)
	s.Router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if mreg != nil {
		s.Router.Handle("/metrics", mreg.Handler()).Methods(http.MethodGet)
	}
	return s
}

// Envelope shape of a Clover webhook delivery: events grouped by merchant.
type webhookEnvelope struct {
	AppID     string                    `json:"appId"`
	Merchants map[string][]webhookEvent `json:"merchants"`
}

type webhookEvent struct {
	ObjectID string          `json:"objectId"`
	Type     string          `json:"type"`
	TS       int64           `json:"ts"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Event types that reference an order worth forwarding.
var orderEventTypes = map[string]bool{
	"ORDER_CREATED": true,
	"ORDER_UPDATED": true,
	"UPDATE":        true,
	"CREATE":        true,
	"ORDER":         true,
}

type failedOrder struct {
	OrderID string `json:"orderId"`
	Error   string `json:"error"`
}

type webhookReport struct {
	Message         string        `json:"message"`
	OrdersProcessed int           `json:"ordersProcessed"`
	OrdersFailed    int           `json:"ordersFailed"`
	OrderIDs        []string      `json:"orderIds"`
	FailedOrders    []failedOrder `json:"failedOrders,omitempty"`
}

func (s *Server) handleVerificationGet(w http.ResponseWriter, r *http.Request) {
	// Clover verifies endpoints by echoing a challenge parameter.
	q := r.URL.Query()
	for _, key := range []string{"challenge", "verify_token", "hub_challenge"} {
		if v := q.Get(key); v != "" {
			s.logger.Info("responding to webhook verification challenge")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(v))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":             "webhook endpoint is active",
		"signatureConfigured": s.verifier.SignatureConfigured(),
	})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if s.mreg != nil {
		s.mreg.WebhookRequests.Inc()
	}

	// The HMAC covers the body bytes exactly as sent; verification must
	// happen on the raw body, never a re-serialized one.
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "unreadable body"})
		return
	}

	if !s.authenticate(w, r, rawBody) {
		return
	}
	if len(rawBody) == 0 {
		// Initial verification request.
		writeJSON(w, http.StatusOK, map[string]string{"message": "webhook endpoint verified"})
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil || envelope.Merchants == nil {
		s.logger.Error("invalid webhook payload structure", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid webhook payload structure"})
		return
	}

	report := s.processEnvelope(r.Context(), envelope)
	status := http.StatusAccepted
	if report.OrdersFailed > 0 {
		status = http.StatusMultiStatus
		s.logger.Warn("webhook processed with failures",
			"processed", report.OrdersProcessed, "failed", report.OrdersFailed)
	} else {
		s.logger.Info("webhook processed", "processed", report.OrdersProcessed)
	}
	writeJSON(w, status, report)
}

// authenticate applies the auth-header, signature and bypass rules. It
// writes the rejection response itself and reports whether to continue.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, rawBody []byte) bool {
	secretConfigured := s.verifier.SignatureConfigured()

	if auth := r.Header.Get("X-Clover-Auth"); auth != "" {
		if !s.verifier.VerifyWebhookAuth(auth) && secretConfigured {
			s.logger.Warn("invalid webhook auth header, rejecting")
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid webhook authentication"})
			return false
		}
		return true
	}
	if sig := r.Header.Get("X-Clover-Signature"); sig != "" {
		if !s.verifier.VerifySignature(sig, rawBody) && secretConfigured {
			s.logger.Warn("invalid webhook signature, rejecting")
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid webhook signature"})
			return false
		}
		return true
	}

	if len(rawBody) == 0 {
		return true
	}
	if !secretConfigured {
		// Explicit development-mode bypass; never silent.
		s.logger.Warn("webhook secret not configured, accepting unauthenticated request")
		return true
	}
	s.logger.Warn("no authentication headers on non-empty webhook request, rejecting")
	writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "missing authentication"})
	return false
}

// processEnvelope walks every merchant's events and keeps going past
// individual failures, so one bad order cannot block the rest of the
// batch.
func (s *Server) processEnvelope(ctx context.Context, envelope webhookEnvelope) webhookReport {
	report := webhookReport{Message: "webhook processed", OrderIDs: []string{}}

	for merchantID, events := range envelope.Merchants {
		s.logger.Info("processing merchant events", "merchantId", merchantID, "eventCount", len(events))
		for _, ev := range events {
			if !orderEventTypes[ev.Type] {
				s.logger.Debug("skipping non-order event", "eventType", ev.Type, "orderId", ev.ObjectID)
				continue
			}
			if err := s.processEvent(ctx, ev); err != nil {
				report.OrdersFailed++
				report.FailedOrders = append(report.FailedOrders, failedOrder{OrderID: ev.ObjectID, Error: err.Error()})
				s.logger.Error("failed to process order event", "orderId", ev.ObjectID, "error", err)
				continue
			}
			report.OrdersProcessed++
			report.OrderIDs = append(report.OrderIDs, ev.ObjectID)
		}
	}
	return report
}

func (s *Server) processEvent(ctx context.Context, ev webhookEvent) error {
	// Fast path: some accounts embed the full order in the event payload.
	if len(ev.Payload) > 0 {
		order, err := s.verifier.ParseOrderFromPayload(ev.Payload)
		if err == nil {
			return s.processor.ProcessOrderFromPayload(ctx, order)
		}
		s.logger.Debug("payload does not parse as an order, falling back to fetch",
			"orderId", ev.ObjectID, "error", err)
	}

	if s.enqueuer != nil {
		if err := s.enqueuer.Enqueue(ctx, ev.ObjectID); err != nil {
			return err
		}
		if s.mreg != nil {
			s.mreg.QueueEnqueued.Inc()
		}
		s.logger.Info("order enqueued for async processing", "orderId", ev.ObjectID)
		return nil
	}
	return s.processor.ProcessByOrderID(ctx, ev.ObjectID)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
