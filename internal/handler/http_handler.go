package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
	"github.com/pesio-ai/be-scm-fulfillment/internal/logger"
	"github.com/pesio-ai/be-scm-fulfillment/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	service *service.FulfillmentService
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(service *service.FulfillmentService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service: service,
		log:     log,
	}
}

// RegisterRoutes mounts the order routes on mux
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListOrders(w, r)
		case http.MethodPost:
			h.CreateOrder(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/orders/get", h.GetOrder)
	mux.HandleFunc("/api/v1/orders/lines", h.AddLine)
	mux.HandleFunc("/api/v1/orders/submit", h.SubmitForApproval)
	mux.HandleFunc("/api/v1/orders/approve", h.Approve)
	mux.HandleFunc("/api/v1/orders/reject", h.Reject)
	mux.HandleFunc("/api/v1/orders/dispatch", h.MarkDispatched)
	mux.HandleFunc("/api/v1/orders/cancel", h.Cancel)
	mux.HandleFunc("/api/v1/orders/receipts", h.RecordReceipt)
	mux.HandleFunc("/api/v1/orders/returns", h.RecordReturn)
	mux.HandleFunc("/api/v1/orders/finalize", h.Finalize)
	mux.HandleFunc("/api/v1/orders/events", h.ListEvents)
	mux.HandleFunc("/api/v1/orders/audit", h.History)
	mux.HandleFunc("/api/v1/orders/replay", h.Replay)
	mux.HandleFunc("/api/v1/orders/rebuild", h.Rebuild)
	mux.HandleFunc("/api/v1/documents/get", h.GetDocument)
}

// decode reads a JSON body for a POST route. It writes the response and
// returns false when the request is unusable.
func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body: "+err.Error()))
		return false
	}
	return true
}

// queryID reads the id query parameter for a GET route
func (h *HTTPHandler) queryID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, errors.InvalidInput("id", "id is required"))
		return "", false
	}
	return id, true
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.CodeOf(err) == errors.ErrCodeInternal {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeError(w, err)
}

// CreateOrder handles create order HTTP requests
func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var body createOrderBody
	if !h.decode(w, r, &body) {
		return
	}

	order, err := h.service.CreateOrder(r.Context(), body.request())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, newOrderView(order))
}

// GetOrder handles get order HTTP requests
func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.queryID(w, r)
	if !ok {
		return
	}

	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newOrderView(order))
}

// ListOrders handles list orders HTTP requests
func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	filter, page, pageSize := listOrdersBody{
		Kind:             q.Get("kind"),
		ApprovalState:    q.Get("approval_state"),
		FulfillmentState: q.Get("fulfillment_state"),
		CounterpartyRef:  q.Get("counterparty_ref"),
		Page:             page,
		PageSize:         pageSize,
	}.filter()

	orders, total, err := h.service.ListOrders(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"orders":   newOrderViews(orders),
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

// AddLine handles add line HTTP requests
func (h *HTTPHandler) AddLine(w http.ResponseWriter, r *http.Request) {
	var body addLineBody
	if !h.decode(w, r, &body) {
		return
	}

	order, err := h.service.AddLine(r.Context(), &service.AddLineRequest{
		OrderID:  body.OrderID,
		Line:     body.Line.request(),
		ActorRef: body.ActorRef,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newOrderView(order))
}

// SubmitForApproval handles submit for approval HTTP requests
func (h *HTTPHandler) SubmitForApproval(w http.ResponseWriter, r *http.Request) {
	var body orderActionBody
	if !h.decode(w, r, &body) {
		return
	}

	order, err := h.service.SubmitForApproval(r.Context(), &service.SubmitRequest{OrderID: body.OrderID, ActorRef: body.ActorRef})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newOrderView(order))
}

// Approve handles approve order HTTP requests
func (h *HTTPHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var body orderActionBody
	if !h.decode(w, r, &body) {
		return
	}

	order, err := h.service.Approve(r.Context(), &service.ApproveRequest{OrderID: body.OrderID, ApproverRef: body.ActorRef})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newOrderView(order))
}

// Reject handles reject order HTTP requests
func (h *HTTPHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var body orderActionBody
	if !h.decode(w, r, &body) {
		return
	}

	order, err := h.service.Reject(r.Context(), &service.RejectRequest{
		OrderID:     body.OrderID,
		ApproverRef: body.ActorRef,
		Reason:      body.Reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newOrderView(order))
}

// MarkDispatched handles dispatch HTTP requests
func (h *HTTPHandler) MarkDispatched(w http.ResponseWriter, r *http.Request) {
	var body orderActionBody
	if !h.decode(w, r, &body) {
		return
	}

	order, changed, err := h.service.MarkDispatched(r.Context(), &service.DispatchRequest{
		OrderID:  body.OrderID,
		Channel:  body.Channel,
		ActorRef: body.ActorRef,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order":   newOrderView(order),
		"changed": changed,
	})
}

// Cancel handles cancel order HTTP requests
func (h *HTTPHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var body orderActionBody
	if !h.decode(w, r, &body) {
		return
	}

	order, err := h.service.Cancel(r.Context(), &service.CancelRequest{
		OrderID:  body.OrderID,
		ActorRef: body.ActorRef,
		Reason:   body.Reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newOrderView(order))
}

// RecordReceipt handles goods receipt HTTP requests
func (h *HTTPHandler) RecordReceipt(w http.ResponseWriter, r *http.Request) {
	var body fulfillmentBody
	if !h.decode(w, r, &body) {
		return
	}

	res, err := h.service.RecordReceipt(r.Context(), body.request())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, newFulfillmentResponse(res))
}

// RecordReturn handles return HTTP requests
func (h *HTTPHandler) RecordReturn(w http.ResponseWriter, r *http.Request) {
	var body fulfillmentBody
	if !h.decode(w, r, &body) {
		return
	}

	res, err := h.service.RecordReturn(r.Context(), body.request())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, newFulfillmentResponse(res))
}

// Finalize handles finalize HTTP requests. It answers 409 unless the order
// is complete.
func (h *HTTPHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	var body orderActionBody
	if !h.decode(w, r, &body) {
		return
	}

	order, err := h.service.Finalize(r.Context(), body.OrderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newOrderView(order))
}

// ListEvents handles fulfillment log HTTP requests
func (h *HTTPHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.queryID(w, r)
	if !ok {
		return
	}

	log, err := h.service.ListEvents(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": log})
}

// History handles audit trail HTTP requests
func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := h.queryID(w, r)
	if !ok {
		return
	}

	entries, err := h.service.History(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Replay handles replay report HTTP requests
func (h *HTTPHandler) Replay(w http.ResponseWriter, r *http.Request) {
	id, ok := h.queryID(w, r)
	if !ok {
		return
	}

	report, err := h.service.Replay(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// Rebuild handles rebuild HTTP requests
func (h *HTTPHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	var body orderActionBody
	if !h.decode(w, r, &body) {
		return
	}

	report, err := h.service.Rebuild(r.Context(), body.OrderID, body.ActorRef)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// GetDocument handles get document HTTP requests
func (h *HTTPHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.queryID(w, r)
	if !ok {
		return
	}

	doc, err := h.service.GetDocument(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}
