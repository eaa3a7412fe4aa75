package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vnmchuo/tariff-engine/internal/auth"
	"github.com/vnmchuo/tariff-engine/internal/billing"
	"github.com/vnmchuo/tariff-engine/internal/catalog"
	"github.com/vnmchuo/tariff-engine/internal/tariff"
	"github.com/vnmchuo/tariff-engine/pkg/ratelimit"
)

// CatalogAdmin edits client price tables. *catalog.Loader implements it.
type CatalogAdmin interface {
	UpdateClientTable(ctx context.Context, id int64, table tariff.PriceTable) error
	SetClientActive(ctx context.Context, id int64, active bool) error
}

// KeyRevoker disables operator keys. auth.Store implements it.
type KeyRevoker interface {
	Revoke(ctx context.Context, keyID string) error
}

type Handler struct {
	billing *billing.Service
	catalog CatalogAdmin
	keys    KeyRevoker
	limiter *ratelimit.Limiter
	tracer  trace.Tracer
	log     *zap.Logger
}

func NewHandler(billingService *billing.Service, catalogAdmin CatalogAdmin, keys KeyRevoker, limiter *ratelimit.Limiter, tracer trace.Tracer, log *zap.Logger) *Handler {
	return &Handler{
		billing: billingService,
		catalog: catalogAdmin,
		keys:    keys,
		limiter: limiter,
		tracer:  tracer,
		log:     log,
	}
}

// Routes registers the authenticated API. Callers mount it behind the auth
// middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/v1/charges/compute", h.HandleCompute)
	r.Get("/v1/clients", h.HandleListClients)
	r.Get("/v1/clients/resolve", h.HandleResolveClient)
	r.Get("/v1/clients/{id}", h.HandleGetClient)
	r.Post("/v1/quotes/preview", h.HandlePreviewQuote)
	r.Post("/v1/quotes", h.HandleCreateQuote)
	r.Get("/v1/quotes/{id}", h.HandleGetQuote)
	r.Post("/v1/providers/{id}/cost", h.HandleProviderCost)
	r.Get("/v1/ratelimit", h.HandleRateLimitStatus)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireProfile(auth.ProfileAdmin, auth.ProfileRegistrar))
		r.Post("/v1/transports", h.HandleCreateTransport)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireProfile(auth.ProfileAdmin, auth.ProfileRegistrar, auth.ProfileProvider))
		r.Put("/v1/transports/{id}/status", h.HandleSetTransportStatus)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireProfile(auth.ProfileAdmin, auth.ProfileFinance, auth.ProfileRegistrar))
		r.Put("/v1/quotes/{id}/status", h.HandleSetQuoteStatus)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireProfile(auth.ProfileAdmin, auth.ProfileFinance))
		r.Post("/v1/transports/{id}/invoice", h.HandleInvoiceTransport)
		r.Post("/v1/transports/{id}/received", h.HandleMarkReceived)
		r.Get("/v1/receivables", h.HandleReceivables)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireProfile(auth.ProfileAdmin))
		r.Put("/v1/clients/{id}/table", h.HandleUpdateClientTable)
		r.Put("/v1/clients/{id}/active", h.HandleSetClientActive)
		r.Delete("/v1/operator-keys/{id}", h.HandleRevokeKey)
	})
}

func (h *Handler) HandleCompute(w http.ResponseWriter, r *http.Request) {
	ctx, span, ok := h.prepare(w, r, "charges.compute")
	if !ok {
		return
	}
	defer span.End()

	var in tariff.Input
	if !decode(w, r, &in) {
		return
	}
	span.SetAttributes(attribute.String("client", in.ClientName), attribute.String("category", string(in.Category)))

	result, err := h.billing.Compute(ctx, in)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleListClients(w http.ResponseWriter, r *http.Request) {
	ctx, span, ok := h.prepare(w, r, "clients.list")
	if !ok {
		return
	}
	defer span.End()

	activeOnly := r.URL.Query().Get("active") == "true"
	clients, err := h.billing.Clients(ctx, activeOnly)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"clients": clients,
		"count":   len(clients),
	})
}

func (h *Handler) HandleGetClient(w http.ResponseWriter, r *http.Request) {
	ctx, span, ok := h.prepare(w, r, "clients.get")
	if !ok {
		return
	}
	defer span.End()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entry, err := h.billing.Client(ctx, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) HandleResolveClient(w http.ResponseWriter, r *http.Request) {
	ctx, span, ok := h.prepare(w, r, "clients.resolve")
	if !ok {
		return
	}
	defer span.End()

	name := r.URL.Query().Get("name")
	entry, kind, err := h.billing.Resolve(ctx, name)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":  name,
		"match":  kind,
		"client": entry,
	})
}

func (h *Handler) HandlePreviewQuote(w http.ResponseWriter, r *http.Request) {
	ctx, span, ok := h.prepare(w, r, "quotes.preview")
	if !ok {
		return
	}
	defer span.End()

	var req billing.QuoteRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.billing.PreviewQuote(ctx, req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleCreateQuote(w http.ResponseWriter, r *http.Request) {
	ctx, span, ok := h.prepare(w, r, "quotes.create")
	if !ok {
		return
	}
	defer span.End()

	var req billing.QuoteRequest
	if !decode(w, r, &req) {
		return
	}

	q, err := h.billing.CreateQuote(ctx, req)
	if err != nil {
		h.fail(w, err)
		return
	}
	span.SetAttributes(attribute.Int64("quote_id", q.ID))
	writeJSON(w, http.StatusCreated, q)
}

func (h *Handler) HandleGetQuote(w http.ResponseWriter, r *http.Request) {
	ctx, span, ok := h.prepare(w, r, "quotes.get")
	if !ok {
		return
	}
	defer span.End()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	q, err := h.billing.Quote(ctx, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) HandleSetQuoteStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span, ok := h.prepare(w, r, "quotes.set_status")
	if !ok {
		return
	}
	defer span.End()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Status billing.QuoteStatus `json:"status"`
	}
	if !decode(w, r, &body) {
		return
	}
	span.SetAttributes(attribute.Int64("quote_id", id), attribute.String("status", string(body.Status)))

	q, err := h.billing.SetQuoteStatus(ctx, id, body.Status)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) HandleCreateTransport(w http.ResponseWriter, r *http.Request) {
	ctx, span, ok := h.prepare(w, r, "transports.create")
	if !ok {
		return
	}
	defer span.End()

	var req billing.TransportRequest
	if !decode(w, r, &req) {
		return
	}

	t, err := h.billing.CreateTransport(ctx, req)
	if err != nil {
		h.fail(w, err)
		return
	}
	span.SetAttributes(attribute.Int64("transport_id", t.ID))
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) HandleSetTransportStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span, ok := h.prepare(w, r, "transports.set_status")
	if !ok {
		return
	}
	defer span.End()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Status billing.TransportStatus `json:"status"`
	}
	if !decode(w, r, &body) {
		return
	}
	span.SetAttributes(attribute.Int64("transport_id", id), attribute.String("status", string(body.Status)))

	t, err := h.billing.SetTransportStatus(ctx, id, body.Status)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) HandleMarkReceived(w http.ResponseWriter, r *http.Request) {
	ctx, span, ok := h.prepare(w, r, "transports.received")
	if !ok {
		return
	}
	defer span.End()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("transport_id", id))

	t, err := h.billing.MarkTransportReceived(ctx, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type invoiceRequest struct {
	Distance    decimal.Decimal `json:"distance"`
	WaitMinutes decimal.Decimal `json:"wait_minutes"`
}

func (h *Handler) HandleInvoiceTransport(w http.ResponseWriter, r *http.Request) {
	ctx, span, ok := h.prepare(w, r, "transports.invoice")
	if !ok {
		return
	}
	defer span.End()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req invoiceRequest
	if !decode(w, r, &req) {
		return
	}
	span.SetAttributes(attribute.Int64("transport_id", id))

	t, err := h.billing.InvoiceTransport(ctx, id, req.Distance, req.WaitMinutes)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) HandleProviderCost(w http.ResponseWriter, r *http.Request) {
	ctx, span, ok := h.prepare(w, r, "providers.cost")
	if !ok {
		return
	}
	defer span.End()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in tariff.Input
	if !decode(w, r, &in) {
		return
	}

	result, err := h.billing.EstimateProviderCost(ctx, id, in)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleReceivables(w http.ResponseWriter, r *http.Request) {
	ctx, span, ok := h.prepare(w, r, "receivables")
	if !ok {
		return
	}
	defer span.End()

	client := r.URL.Query().Get("client")
	if client == "" {
		writeError(w, http.StatusBadRequest, "'client' is required")
		return
	}

	now := time.Now()
	from := now.AddDate(0, 0, -30) // Default: last 30 days
	to := now

	if s := r.URL.Query().Get("from"); s != "" {
		var err error
		if from, err = time.Parse(time.RFC3339, s); err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' date format (use RFC3339)")
			return
		}
	}
	if s := r.URL.Query().Get("to"); s != "" {
		var err error
		if to, err = time.Parse(time.RFC3339, s); err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' date format (use RFC3339)")
			return
		}
	}

	rec, err := h.billing.Receivables(ctx, client, from, to)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) HandleUpdateClientTable(w http.ResponseWriter, r *http.Request) {
	ctx, span, ok := h.prepare(w, r, "clients.update_table")
	if !ok {
		return
	}
	defer span.End()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var table tariff.PriceTable
	if !decode(w, r, &table) {
		return
	}

	if err := h.catalog.UpdateClientTable(ctx, id, table); err != nil {
		h.fail(w, err)
		return
	}
	h.log.Info("price table updated", zap.Int64("client_id", id), zap.String("operator_id", auth.GetOperatorID(ctx)))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleSetClientActive(w http.ResponseWriter, r *http.Request) {
	ctx, span, ok := h.prepare(w, r, "clients.set_active")
	if !ok {
		return
	}
	defer span.End()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Active bool `json:"active"`
	}
	if !decode(w, r, &body) {
		return
	}

	if err := h.catalog.SetClientActive(ctx, id, body.Active); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRevokeKey disables an operator key. A key already cached by the auth
// middleware stays usable until its cache entry expires.
func (h *Handler) HandleRevokeKey(w http.ResponseWriter, r *http.Request) {
	ctx, span, ok := h.prepare(w, r, "operator_keys.revoke")
	if !ok {
		return
	}
	defer span.End()

	keyID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.keys.Revoke(ctx, keyID.String()); err != nil {
		h.fail(w, err)
		return
	}
	h.log.Info("operator key revoked", zap.String("key_id", keyID.String()), zap.String("operator_id", auth.GetOperatorID(ctx)))
	w.WriteHeader(http.StatusNoContent)
}

// HandleRateLimitStatus reports the caller's budget without consuming it.
func (h *Handler) HandleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	operatorID := auth.GetOperatorID(r.Context())
	if operatorID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	res, err := h.limiter.Status(r.Context(), operatorID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"operator_id": operatorID,
		"allowed":     res.Allowed,
	})
}

// prepare authorizes the operator, applies the rate limit and opens a span.
// When it returns false the response has already been written.
func (h *Handler) prepare(w http.ResponseWriter, r *http.Request, op string) (context.Context, trace.Span, bool) {
	ctx := r.Context()
	operatorID := auth.GetOperatorID(ctx)
	if operatorID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, nil, false
	}

	allowed, err := h.limiter.Allow(ctx, operatorID)
	if err != nil {
		h.log.Warn("rate limiter unavailable", zap.Error(err))
	}
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": "60s",
		})
		return nil, nil, false
	}

	ctx, span := h.tracer.Start(ctx, op)
	span.SetAttributes(
		attribute.String("operator_id", operatorID),
		attribute.String("request_id", auth.GetRequestID(ctx)),
	)
	return ctx, span, true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, billing.ErrTransportNotFound),
		errors.Is(err, billing.ErrQuoteNotFound),
		errors.Is(err, catalog.ErrClientNotFound),
		errors.Is(err, catalog.ErrProviderNotFound),
		errors.Is(err, auth.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrAlreadyInvoiced),
		errors.Is(err, billing.ErrTransportCancelled),
		errors.Is(err, billing.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, tariff.ErrInvalidTable),
		errors.Is(err, billing.ErrIncompleteRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, billing.ErrInvalidPeriod):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
