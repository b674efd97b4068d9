package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/orderflow/fulfillment/internal/inventory/application"
	"github.com/orderflow/fulfillment/internal/inventory/domain"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("inventory-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/internal/reservations", h.reserve)
	r.Post("/internal/reservations/{orderNumber}/release", h.release)
	r.Get("/internal/variants/{variantID}/available", h.availableQuantity)
	r.Post("/transactions", h.createTransactions)
	r.Post("/transactions/orders", h.createOrderExports)
	r.Post("/transactions/returns", h.createReturns)
	r.Patch("/transactions/{id}/status", h.updateTransactionStatus)
	r.Get("/transactions", h.listTransactions)
	r.Get("/stocks", h.listStocks)
	r.Patch("/stocks/{id}/active", h.setStockActive)
	return r
}

type reserveReq struct {
	VariantID   int64  `json:"variant_id"`
	Quantity    int    `json:"quantity"`
	OrderNumber string `json:"order_number"`
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ReserveStock")
	defer span.End()

	var req reserveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	allocation, err := h.service.Reserve(ctx, req.VariantID, req.Quantity, req.OrderNumber)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"allocation": allocation})
}

type releaseReq struct {
	Reason         string `json:"reason"`
	AdjustQuantity bool   `json:"adjust_quantity"`
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ReleaseStock")
	defer span.End()

	var req releaseReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	orderNumber := chi.URLParam(r, "orderNumber")
	if err := h.service.Release(ctx, orderNumber, req.Reason, req.AdjustQuantity); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_number": orderNumber, "status": "released"})
}

func (h *Handler) availableQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetAvailableQuantity")
	defer span.End()

	variantID, err := strconv.ParseInt(chi.URLParam(r, "variantID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid variant id", http.StatusBadRequest)
		return
	}
	available, err := h.service.GetAvailableQuantity(ctx, variantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"variant_id": variantID, "available": available})
}

type transactionReq struct {
	VariantID     int64   `json:"variant_id"`
	WarehouseID   int64   `json:"warehouse_id"`
	Type          string  `json:"type"`
	Quantity      int     `json:"quantity"`
	PricePerItem  float64 `json:"price_per_item"`
	Note          string  `json:"note"`
	ReferenceType string  `json:"reference_type"`
	ReferenceCode string  `json:"reference_code"`
}

type createTransactionsReq struct {
	Transactions []transactionReq `json:"transactions"`
	ActorID      int64            `json:"actor_id"`
}

func (h *Handler) createTransactions(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateTransactions")
	defer span.End()

	var req createTransactionsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	inputs := make([]application.TransactionInput, 0, len(req.Transactions))
	for _, t := range req.Transactions {
		inputs = append(inputs, application.TransactionInput{
			VariantID:     t.VariantID,
			WarehouseID:   t.WarehouseID,
			Type:          domain.TransactionType(t.Type),
			Quantity:      t.Quantity,
			PricePerItem:  t.PricePerItem,
			Note:          t.Note,
			ReferenceType: t.ReferenceType,
			ReferenceCode: t.ReferenceCode,
		})
	}
	created, err := h.service.CreateTransactions(ctx, inputs, req.ActorID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transactions": toTransactionViews(created)})
}

type orderExportsReq struct {
	OrderNumber string `json:"order_number"`
	ActorID     int64  `json:"actor_id"`
	Items       []struct {
		VariantID    int64   `json:"variant_id"`
		Quantity     int     `json:"quantity"`
		PricePerItem float64 `json:"price_per_item"`
	} `json:"items"`
}

func (h *Handler) createOrderExports(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrderExports")
	defer span.End()

	var req orderExportsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	items := make([]application.OrderExportItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, application.OrderExportItem{
			VariantID:    it.VariantID,
			Quantity:     it.Quantity,
			PricePerItem: it.PricePerItem,
		})
	}
	created, err := h.service.CreateOrderExports(ctx, req.OrderNumber, req.ActorID, items)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transactions": toTransactionViews(created)})
}

type returnsReq struct {
	OrderNumber string `json:"order_number"`
	ActorID     int64  `json:"actor_id"`
	Note        string `json:"note"`
}

func (h *Handler) createReturns(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateReturnTransactions")
	defer span.End()

	var req returnsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	created, err := h.service.CreateReturnTransactions(ctx, req.OrderNumber, req.ActorID, req.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transactions": toTransactionViews(created)})
}

type updateStatusReq struct {
	Status  string `json:"status"`
	Note    string `json:"note"`
	ActorID int64  `json:"actor_id"`
}

func (h *Handler) updateTransactionStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateTransactionStatus")
	defer span.End()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid transaction id", http.StatusBadRequest)
		return
	}
	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.service.UpdateTransactionStatus(ctx, id, domain.TransactionStatus(req.Status), req.Note, req.ActorID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": req.Status})
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListTransactions")
	defer span.End()

	q := r.URL.Query()
	f := application.TransactionFilter{
		VariantID:     queryInt64(q.Get("variant_id")),
		WarehouseID:   queryInt64(q.Get("warehouse_id")),
		Type:          domain.TransactionType(q.Get("type")),
		Status:        domain.TransactionStatus(q.Get("status")),
		ReferenceType: q.Get("reference_type"),
		ReferenceCode: q.Get("reference_code"),
		Limit:         int(queryInt64(q.Get("limit"))),
		Offset:        int(queryInt64(q.Get("offset"))),
	}
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			f.From = t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			f.To = t.AddDate(0, 0, 1)
		}
	}
	txs, err := h.service.ListTransactions(ctx, f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": toTransactionViews(txs)})
}

func (h *Handler) listStocks(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListStocks")
	defer span.End()

	q := r.URL.Query()
	recs, err := h.service.ListStocks(ctx, application.StockFilter{
		VariantID:   queryInt64(q.Get("variant_id")),
		WarehouseID: queryInt64(q.Get("warehouse_id")),
		ActiveOnly:  q.Get("active") == "true",
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		views = append(views, map[string]any{
			"id":                rec.ID,
			"variant_id":        rec.VariantID,
			"warehouse_id":      rec.WarehouseID,
			"quantity":          rec.Quantity,
			"reserved_quantity": rec.ReservedQuantity,
			"available":         rec.Available(),
			"is_active":         rec.Active,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"stocks": views})
}

type setActiveReq struct {
	Active bool `json:"active"`
}

func (h *Handler) setStockActive(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "SetStockActive")
	defer span.End()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid stock id", http.StatusBadRequest)
		return
	}
	var req setActiveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.service.SetStockActive(ctx, id, req.Active); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_active": req.Active})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var remote *application.RemoteError
	switch {
	case errors.Is(err, application.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, application.ErrValidation),
		errors.Is(err, application.ErrInsufficientStock),
		errors.Is(err, application.ErrExcessExport),
		errors.Is(err, application.ErrInvalidStatus),
		errors.Is(err, application.ErrInvalidTransition),
		errors.Is(err, application.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &remote):
		// The local ledger change committed; the collaborator call did not.
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		h.log.Error("request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func toTransactionViews(txs []*domain.Transaction) []map[string]any {
	views := make([]map[string]any, 0, len(txs))
	for _, t := range txs {
		views = append(views, map[string]any{
			"id":             t.ID,
			"code":           t.Code,
			"variant_id":     t.VariantID,
			"warehouse_id":   t.WarehouseID,
			"type":           t.Type,
			"quantity":       t.Quantity,
			"price_per_item": t.PricePerItem,
			"note":           t.Note,
			"reference_type": t.ReferenceType,
			"reference_code": t.ReferenceCode,
			"status":         t.Status,
			"created_at":     t.CreatedAt,
		})
	}
	return views
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
