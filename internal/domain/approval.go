package domain

import (
	"strings"
	"time"

	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
)

// ApprovalState is the approval lifecycle of an order.
type ApprovalState string

const (
	ApprovalDraft     ApprovalState = "DRAFT"
	ApprovalPending   ApprovalState = "PENDING_APPROVAL"
	ApprovalApproved  ApprovalState = "APPROVED"
	ApprovalRejected  ApprovalState = "REJECTED"
	ApprovalCancelled ApprovalState = "CANCELLED"
)

// IsValid checks if the state is known
func (s ApprovalState) IsValid() bool {
	switch s {
	case ApprovalDraft, ApprovalPending, ApprovalApproved, ApprovalRejected, ApprovalCancelled:
		return true
	}
	return false
}

// IsDecided reports whether an approver already decided the order.
func (s ApprovalState) IsDecided() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// IsTerminal reports whether no transition leaves s.
func (s ApprovalState) IsTerminal() bool {
	return s == ApprovalRejected || s == ApprovalCancelled
}

// CanTransitionTo is the approval transition table.
//
//	DRAFT            -> PENDING_APPROVAL, CANCELLED
//	PENDING_APPROVAL -> APPROVED, REJECTED, CANCELLED
//	APPROVED         -> CANCELLED
//	REJECTED, CANCELLED are terminal
func (s ApprovalState) CanTransitionTo(next ApprovalState) bool {
	switch s {
	case ApprovalDraft:
		return next == ApprovalPending || next == ApprovalCancelled
	case ApprovalPending:
		return next == ApprovalApproved || next == ApprovalRejected || next == ApprovalCancelled
	case ApprovalApproved:
		return next == ApprovalCancelled
	case ApprovalRejected, ApprovalCancelled:
		return false
	default:
		return false
	}
}

// checkTransition reports AlreadyDecided when the decision was already taken
// and InvalidTransition for any other move outside the table.
func (o *Order) checkTransition(next ApprovalState) error {
	if o.ApprovalState.CanTransitionTo(next) {
		return nil
	}

	switch {
	case (next == ApprovalApproved || next == ApprovalRejected) && o.ApprovalState.IsDecided():
		return errors.Newf(errors.ErrCodeAlreadyDecided,
			"order %s was already decided (%s)", o.Number, o.ApprovalState)
	case next == ApprovalCancelled && o.ApprovalState == ApprovalCancelled:
		return errors.Newf(errors.ErrCodeAlreadyDecided, "order %s is already cancelled", o.Number)
	default:
		return errors.Newf(errors.ErrCodeInvalidTransition,
			"order %s cannot move from %s to %s", o.Number, o.ApprovalState, next)
	}
}

// SubmitForApproval moves a DRAFT order with at least one line to
// PENDING_APPROVAL.
func (o *Order) SubmitForApproval(actor string, now time.Time) error {
	if err := o.checkTransition(ApprovalPending); err != nil {
		return err
	}
	if len(o.Lines) == 0 {
		return errors.InvalidInput("lines", "order must have at least 1 line to be submitted")
	}
	if strings.TrimSpace(actor) == "" {
		return errors.InvalidInput("actor_ref", "submitter is required")
	}

	o.ApprovalState = ApprovalPending
	o.SubmittedBy = &actor
	o.SubmittedAt = &now
	o.UpdatedAt = now
	return nil
}

// Approve decides a pending order positively. Fulfillment is accepted from
// here on.
func (o *Order) Approve(approver string, now time.Time) error {
	if err := o.checkTransition(ApprovalApproved); err != nil {
		return err
	}
	if strings.TrimSpace(approver) == "" {
		return errors.InvalidInput("approver_ref", "approver is required")
	}

	o.ApprovalState = ApprovalApproved
	o.DecidedBy = &approver
	o.DecidedAt = &now
	o.UpdatedAt = now
	return nil
}

// Reject decides a pending order negatively. A reason is mandatory.
func (o *Order) Reject(approver, reason string, now time.Time) error {
	if err := o.checkTransition(ApprovalRejected); err != nil {
		return err
	}
	if strings.TrimSpace(approver) == "" {
		return errors.InvalidInput("approver_ref", "approver is required")
	}
	if strings.TrimSpace(reason) == "" {
		return errors.InvalidInput("reason", "rejection reason is required")
	}

	o.ApprovalState = ApprovalRejected
	o.DecidedBy = &approver
	o.DecidedAt = &now
	o.RejectionReason = &reason
	o.UpdatedAt = now
	return nil
}
