package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/orderflow/fulfillment/internal/delivery/application"
	"github.com/orderflow/fulfillment/internal/delivery/domain"
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
		tracer:  otel.Tracer("delivery-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/deliveries", h.create)
	r.Get("/deliveries", h.list)
	r.Get("/deliveries/{id}", h.get)
	r.Post("/deliveries/assign", h.assign)
	r.Post("/deliveries/auto-assign", h.autoAssign)
	r.Patch("/deliveries/{id}/status", h.changeStatus)
	r.Post("/deliveries/{id}/self-cancel", h.selfCancel)
	r.Post("/internal/deliveries/cancel", h.cancelByOrder)
	r.Post("/shippers", h.createShipper)
	r.Get("/shippers", h.listShippers)
	r.Get("/shippers/{id}", h.getShipper)
	r.Get("/shippers/{id}/deliveries", h.shipperDeliveries)
	r.Patch("/shippers/{id}/status", h.setShipperStatus)
	r.Patch("/shippers/{id}/active", h.setShipperActive)
	return r
}

type createDeliveryReq struct {
	OrderID         int64   `json:"order_id"`
	OrderNumber     string  `json:"order_number"`
	ShippingName    string  `json:"shipping_name"`
	ShippingAddress string  `json:"shipping_address"`
	ShippingPhone   string  `json:"shipping_phone"`
	PaymentMethod   string  `json:"payment_method"`
	CODAmount       float64 `json:"cod_amount"`
	WarehouseID     int64   `json:"warehouse_id"`
	Items           []struct {
		OrderItemID int64   `json:"order_item_id"`
		VariantID   int64   `json:"variant_id"`
		VariantName string  `json:"variant_name"`
		SKU         string  `json:"sku"`
		Quantity    int     `json:"quantity"`
		UnitPrice   float64 `json:"unit_price"`
		ImageURL    string  `json:"image_url"`
	} `json:"items"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateDelivery")
	defer span.End()

	var req createDeliveryReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	in := application.CreateDeliveryInput{
		OrderID:         req.OrderID,
		OrderNumber:     req.OrderNumber,
		ShippingName:    req.ShippingName,
		ShippingAddress: req.ShippingAddress,
		ShippingPhone:   req.ShippingPhone,
		PaymentMethod:   req.PaymentMethod,
		CODAmount:       req.CODAmount,
		WarehouseID:     req.WarehouseID,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, application.CreateDeliveryItem{
			OrderItemID: it.OrderItemID,
			VariantID:   it.VariantID,
			VariantName: it.VariantName,
			SKU:         it.SKU,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			ImageURL:    it.ImageURL,
		})
	}
	d, err := h.service.Create(ctx, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeliveryView(d))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListDeliveries")
	defer span.End()

	q := r.URL.Query()
	ds, err := h.service.ListDeliveries(ctx, application.DeliveryFilter{
		Keyword:     q.Get("keyword"),
		Status:      domain.DeliveryStatus(q.Get("status")),
		WarehouseID: queryInt64(q.Get("warehouse_id")),
		ShipperID:   queryInt64(q.Get("shipper_id")),
		Limit:       int(queryInt64(q.Get("limit"))),
		Offset:      int(queryInt64(q.Get("offset"))),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": toDeliveryViews(ds)})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetDelivery")
	defer span.End()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid delivery id", http.StatusBadRequest)
		return
	}
	d, err := h.service.GetDelivery(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeliveryView(d))
}

type assignReq struct {
	ShipperID   int64   `json:"shipper_id"`
	DeliveryIDs []int64 `json:"delivery_ids"`
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AssignDeliveries")
	defer span.End()

	var req assignReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	ds, err := h.service.Assign(ctx, req.ShipperID, req.DeliveryIDs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": toDeliveryViews(ds)})
}

func (h *Handler) autoAssign(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AutoAssignDeliveries")
	defer span.End()

	assigned, err := h.service.AutoAssign(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assigned": assigned})
}

type changeStatusReq struct {
	Status    string `json:"status"`
	Reason    string `json:"reason"`
	ImageURL  string `json:"image_url"`
	ShipperID int64  `json:"shipper_id"`
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ChangeDeliveryStatus")
	defer span.End()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid delivery id", http.StatusBadRequest)
		return
	}
	var req changeStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.service.ChangeStatus(ctx, id, domain.DeliveryStatus(req.Status), req.Reason, req.ImageURL, req.ShipperID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": req.Status})
}

type selfCancelReq struct {
	ShipperID int64 `json:"shipper_id"`
}

func (h *Handler) selfCancel(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "SelfCancelDelivery")
	defer span.End()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid delivery id", http.StatusBadRequest)
		return
	}
	var req selfCancelReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.service.SelfCancel(ctx, id, req.ShipperID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": domain.DeliveryPending})
}

type cancelByOrderReq struct {
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`
}

func (h *Handler) cancelByOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelDeliveriesByOrder")
	defer span.End()

	var req cancelByOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.service.CancelByOrder(ctx, req.OrderID, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_id": req.OrderID, "status": domain.DeliveryCancelled})
}

type createShipperReq struct {
	FullName    string `json:"full_name"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	WarehouseID int64  `json:"warehouse_id"`
}

func (h *Handler) createShipper(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateShipper")
	defer span.End()

	var req createShipperReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	sh, err := h.service.CreateShipper(ctx, application.CreateShipperInput{
		FullName:    req.FullName,
		Phone:       req.Phone,
		Email:       req.Email,
		WarehouseID: req.WarehouseID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toShipperView(sh))
}

func (h *Handler) listShippers(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListShippers")
	defer span.End()

	q := r.URL.Query()
	shippers, err := h.service.ListShippers(ctx, application.ShipperFilter{
		Keyword:     q.Get("keyword"),
		Status:      domain.ShipperStatus(q.Get("status")),
		WarehouseID: queryInt64(q.Get("warehouse_id")),
		ActiveOnly:  q.Get("active") == "true",
		Limit:       int(queryInt64(q.Get("limit"))),
		Offset:      int(queryInt64(q.Get("offset"))),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(shippers))
	for _, sh := range shippers {
		views = append(views, toShipperView(sh))
	}
	writeJSON(w, http.StatusOK, map[string]any{"shippers": views})
}

func (h *Handler) getShipper(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetShipper")
	defer span.End()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid shipper id", http.StatusBadRequest)
		return
	}
	sh, err := h.service.GetShipper(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipperView(sh))
}

func (h *Handler) shipperDeliveries(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListShipperDeliveries")
	defer span.End()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid shipper id", http.StatusBadRequest)
		return
	}
	ds, err := h.service.ListShipperDeliveries(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": toDeliveryViews(ds)})
}

type shipperStatusReq struct {
	Status string `json:"status"`
}

func (h *Handler) setShipperStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "SetShipperStatus")
	defer span.End()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid shipper id", http.StatusBadRequest)
		return
	}
	var req shipperStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.service.SetShipperStatus(ctx, id, domain.ShipperStatus(req.Status)); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": req.Status})
}

type shipperActiveReq struct {
	Active bool `json:"active"`
}

func (h *Handler) setShipperActive(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "SetShipperActive")
	defer span.End()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid shipper id", http.StatusBadRequest)
		return
	}
	var req shipperActiveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.service.SetShipperActive(ctx, id, req.Active); err != nil {
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
	case errors.Is(err, application.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, application.ErrValidation),
		errors.Is(err, application.ErrInvalidTransition),
		errors.Is(err, application.ErrShipperOverloaded):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &remote):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		h.log.Error("request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func toDeliveryViews(ds []*domain.DeliveryOrder) []map[string]any {
	views := make([]map[string]any, 0, len(ds))
	for _, d := range ds {
		views = append(views, toDeliveryView(d))
	}
	return views
}

func toDeliveryView(d *domain.DeliveryOrder) map[string]any {
	items := make([]map[string]any, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, map[string]any{
			"id":            it.ID,
			"order_item_id": it.OrderItemID,
			"variant_id":    it.VariantID,
			"variant_name":  it.VariantName,
			"sku":           it.SKU,
			"quantity":      it.Quantity,
			"unit_price":    it.UnitPrice,
			"image_url":     it.ImageURL,
		})
	}
	return map[string]any{
		"id":                  d.ID,
		"delivery_number":     d.DeliveryNumber,
		"order_id":            d.OrderID,
		"order_number":        d.OrderNumber,
		"shipping_name":       d.ShippingName,
		"shipping_address":    d.ShippingAddress,
		"shipping_phone":      d.ShippingPhone,
		"payment_method":      d.PaymentMethod,
		"cod_amount":          d.CODAmount,
		"warehouse_id":        d.WarehouseID,
		"status":              d.Status,
		"assigned_shipper_id": d.AssignedShipperID,
		"assigned_at":         d.AssignedAt,
		"delivered_at":        d.DeliveredAt,
		"delivered_image_url": d.DeliveredImageURL,
		"failed_reason":       d.FailedReason,
		"items":               items,
		"created_at":          d.CreatedAt,
		"updated_at":          d.UpdatedAt,
	}
}

func toShipperView(s *domain.Shipper) map[string]any {
	return map[string]any{
		"id":           s.ID,
		"full_name":    s.FullName,
		"phone":        s.Phone,
		"email":        s.Email,
		"is_active":    s.Active,
		"warehouse_id": s.WarehouseID,
		"status":       s.Status,
		"created_at":   s.CreatedAt,
	}
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
