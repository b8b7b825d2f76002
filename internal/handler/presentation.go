package handler

import (
	"github.com/pesio-ai/be-scm-fulfillment/internal/domain"
)

// Display is the UI-facing rendering of the order states. It is derived from
// the domain states and never read back.
type Display struct {
	ApprovalLabel    string `json:"approval_label"`
	ApprovalBadge    string `json:"approval_badge"`
	FulfillmentLabel string `json:"fulfillment_label"`
	FulfillmentBadge string `json:"fulfillment_badge"`
}

func approvalDisplay(s domain.ApprovalState) (label, badge string) {
	switch s {
	case domain.ApprovalDraft:
		return "Draft", "gray"
	case domain.ApprovalPending:
		return "Pending approval", "amber"
	case domain.ApprovalApproved:
		return "Approved", "green"
	case domain.ApprovalRejected:
		return "Rejected", "red"
	case domain.ApprovalCancelled:
		return "Cancelled", "slate"
	}
	return string(s), "gray"
}

func fulfillmentDisplay(s domain.FulfillmentState, kind domain.OrderKind) (label, badge string) {
	switch s {
	case domain.FulfillmentNotStarted:
		if kind == domain.KindSubcontractOrder {
			return "Not issued", "gray"
		}
		return "Not received", "gray"
	case domain.FulfillmentPartial:
		if kind == domain.KindSubcontractOrder {
			return "Partially issued", "blue"
		}
		return "Partially received", "blue"
	case domain.FulfillmentComplete:
		if kind == domain.KindSubcontractOrder {
			return "Fully issued", "green"
		}
		return "Fully received", "green"
	}
	return string(s), "gray"
}

// OrderView is an order with its display labels
type OrderView struct {
	*domain.Order
	Display Display `json:"display"`
}

func newOrderView(order *domain.Order) OrderView {
	view := OrderView{Order: order}
	view.Display.ApprovalLabel, view.Display.ApprovalBadge = approvalDisplay(order.ApprovalState)
	view.Display.FulfillmentLabel, view.Display.FulfillmentBadge = fulfillmentDisplay(order.FulfillmentState, order.Kind)
	return view
}

func newOrderViews(orders []*domain.Order) []OrderView {
	out := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, newOrderView(o))
	}
	return out
}
