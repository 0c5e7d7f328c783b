package paymentplans

import (
	"time"
)

// PlanStatus enumerates payment plan statuses.
type PlanStatus string

const (
	StatusPending   PlanStatus = "pending"
	StatusPaid      PlanStatus = "paid"
	StatusOverdue   PlanStatus = "overdue"
	StatusCancelled PlanStatus = "cancelled"
)

// PaymentPlan is one installment of a contract's payment schedule.
//
// Status is a projection of PlannedDate and ActualPaymentDate against the
// reading clock, except for the sticky cancelled state. The stored column is
// only a snapshot; every read path recomputes it via WithDerivedStatus.
type PaymentPlan struct {
	ID                int64      `json:"id"`
	ContractID        int64      `json:"contractId"`
	Amount            float64    `json:"amount"`
	PlannedDate       time.Time  `json:"plannedDate"`
	ActualPaymentDate *time.Time `json:"actualPaymentDate,omitempty"`
	Status            PlanStatus `json:"status"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// DeriveStatus computes a plan's status from its dates.
// A plan due exactly now is still pending; overdue requires plannedDate
// strictly before now.
func DeriveStatus(plannedDate time.Time, actualPaymentDate *time.Time, now time.Time) PlanStatus {
	if actualPaymentDate != nil {
		return StatusPaid
	}
	if plannedDate.Before(now) {
		return StatusOverdue
	}
	return StatusPending
}

// WithDerivedStatus returns a copy of the plan with its status recomputed
// against now. Cancelled is terminal and kept as stored.
func (p PaymentPlan) WithDerivedStatus(now time.Time) PaymentPlan {
	if p.Status == StatusCancelled {
		return p
	}
	p.Status = DeriveStatus(p.PlannedDate, p.ActualPaymentDate, now)
	return p
}

// CreatePlanInput carries the fields persisted on insert.
type CreatePlanInput struct {
	ContractID  int64
	Amount      float64
	PlannedDate time.Time
	Status      PlanStatus
}

// UpdatePlanInput describes a partial update. Nil pointers leave the field
// untouched; ClearActualPaymentDate removes a recorded payment date; Cancel
// performs the explicit cancelled transition.
type UpdatePlanInput struct {
	Amount                 *float64
	PlannedDate            *time.Time
	ActualPaymentDate      *time.Time
	ClearActualPaymentDate bool
	Cancel                 bool
}

// Empty reports whether the update carries no recognized field.
func (in UpdatePlanInput) Empty() bool {
	return in.Amount == nil &&
		in.PlannedDate == nil &&
		in.ActualPaymentDate == nil &&
		!in.ClearActualPaymentDate &&
		!in.Cancel
}

// ContractSummary exposes the contract fields the payment plan surface needs.
type ContractSummary struct {
	ID     int64
	Name   string
	Amount float64
}
