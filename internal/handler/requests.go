package handler

import (
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-scm-fulfillment/internal/domain"
	"github.com/pesio-ai/be-scm-fulfillment/internal/repository"
	"github.com/pesio-ai/be-scm-fulfillment/internal/service"
)

// Wire bodies shared by the HTTP and gRPC transports. Quantities accept JSON
// strings or numbers.

type lineBody struct {
	ItemRef      string           `json:"item_ref"`
	Description  string           `json:"description"`
	Unit         string           `json:"unit"`
	UnitKind     domain.UnitKind  `json:"unit_kind"`
	CommittedQty decimal.Decimal  `json:"committed_qty"`
	UnitValue    decimal.Decimal  `json:"unit_value"`
	LineTotal    *decimal.Decimal `json:"line_total"`
}

func (b lineBody) request() service.LineRequest {
	return service.LineRequest{
		ItemRef:      b.ItemRef,
		Description:  b.Description,
		Unit:         b.Unit,
		UnitKind:     b.UnitKind,
		CommittedQty: b.CommittedQty,
		UnitValue:    b.UnitValue,
		LineTotal:    b.LineTotal,
	}
}

type createOrderBody struct {
	Kind            domain.OrderKind `json:"kind"`
	CounterpartyRef string           `json:"counterparty_ref"`
	CreatedBy       string           `json:"created_by"`
	Lines           []lineBody       `json:"lines"`
}

func (b createOrderBody) request() *service.CreateOrderRequest {
	req := &service.CreateOrderRequest{
		Kind:            b.Kind,
		CounterpartyRef: b.CounterpartyRef,
		CreatedBy:       b.CreatedBy,
		Lines:           make([]service.LineRequest, 0, len(b.Lines)),
	}
	for _, l := range b.Lines {
		req.Lines = append(req.Lines, l.request())
	}
	return req
}

type addLineBody struct {
	OrderID  string   `json:"order_id"`
	ActorRef string   `json:"actor_ref"`
	Line     lineBody `json:"line"`
}

// orderActionBody covers submit, approve, reject, cancel, dispatch and
// rebuild.
type orderActionBody struct {
	OrderID  string `json:"order_id"`
	ActorRef string `json:"actor_ref"`
	Reason   string `json:"reason"`
	Channel  string `json:"channel"`
}

type qualityBody struct {
	RejectedQty decimal.Decimal `json:"rejected_qty"`
	Remarks     string          `json:"remarks"`
}

type fulfillmentLineBody struct {
	LineID   string          `json:"line_id"`
	DeltaQty decimal.Decimal `json:"delta_qty"`
	Quality  *qualityBody    `json:"quality"`
}

type fulfillmentBody struct {
	OrderID  string                `json:"order_id"`
	ActorRef string                `json:"actor_ref"`
	Lines    []fulfillmentLineBody `json:"lines"`
}

func (b fulfillmentBody) request() *service.RecordFulfillmentRequest {
	req := &service.RecordFulfillmentRequest{
		OrderID:  b.OrderID,
		ActorRef: b.ActorRef,
		Lines:    make([]service.FulfillmentLineRequest, 0, len(b.Lines)),
	}
	for _, l := range b.Lines {
		line := service.FulfillmentLineRequest{LineID: l.LineID, DeltaQty: l.DeltaQty}
		if l.Quality != nil {
			line.Quality = &domain.QualityOutcome{RejectedQty: l.Quality.RejectedQty, Remarks: l.Quality.Remarks}
		}
		req.Lines = append(req.Lines, line)
	}
	return req
}

type listOrdersBody struct {
	Kind             string `json:"kind"`
	ApprovalState    string `json:"approval_state"`
	FulfillmentState string `json:"fulfillment_state"`
	CounterpartyRef  string `json:"counterparty_ref"`
	Page             int    `json:"page"`
	PageSize         int    `json:"page_size"`
}

// filter converts the body to a store filter. page starts at 1 and page_size
// falls back to 50 outside 1..100.
func (b listOrdersBody) filter() (repository.OrderFilter, int, int) {
	page := b.Page
	if page < 1 {
		page = 1
	}
	pageSize := b.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = repository.DefaultListLimit
	}

	f := repository.OrderFilter{Limit: pageSize, Offset: (page - 1) * pageSize}
	if b.Kind != "" {
		kind := domain.OrderKind(b.Kind)
		f.Kind = &kind
	}
	if b.ApprovalState != "" {
		state := domain.ApprovalState(b.ApprovalState)
		f.ApprovalState = &state
	}
	if b.FulfillmentState != "" {
		state := domain.FulfillmentState(b.FulfillmentState)
		f.FulfillmentState = &state
	}
	if b.CounterpartyRef != "" {
		ref := b.CounterpartyRef
		f.CounterpartyRef = &ref
	}
	return f, page, pageSize
}

type fulfillmentResponse struct {
	Order    OrderView                   `json:"order"`
	Document *domain.FulfillmentDocument `json:"document"`
}

func newFulfillmentResponse(res *service.FulfillmentResult) fulfillmentResponse {
	return fulfillmentResponse{Order: newOrderView(res.Order), Document: res.Document}
}
