package contracts

import "time"

// ApprovalStatus tracks a contract through its lifecycle.
type ApprovalStatus string

const (
	ApprovalDraft    ApprovalStatus = "draft"
	ApprovalActive   ApprovalStatus = "active"
	ApprovalArchived ApprovalStatus = "archived"
)

// Valid reports whether the status is a known lifecycle state.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalDraft, ApprovalActive, ApprovalArchived:
		return true
	}
	return false
}

// Contract is a client agreement. Amount is the authoritative ceiling for the
// contract's payment plan total.
type Contract struct {
	ID               int64          `json:"id"`
	Name             string         `json:"name"`
	ClientName       string         `json:"clientName"`
	Amount           float64        `json:"amount"`
	SignDate         *time.Time     `json:"signDate,omitempty"`
	ApprovalStatus   ApprovalStatus `json:"approvalStatus"`
	PaymentCycle     string         `json:"paymentCycle,omitempty"`
	MilestoneStatus  string         `json:"milestoneStatus,omitempty"`
	OwnerUserID      int64          `json:"ownerUserId"`
	ResponsibleEmail string         `json:"responsibleEmail,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// CreateContractInput carries the fields persisted on insert.
type CreateContractInput struct {
	Name             string
	ClientName       string
	Amount           float64
	SignDate         *time.Time
	PaymentCycle     string
	MilestoneStatus  string
	OwnerUserID      int64
	ResponsibleEmail string
}

// UpdateContractInput describes a partial update. Approval transitions go
// through ChangeApproval, not here.
type UpdateContractInput struct {
	Name             *string
	ClientName       *string
	Amount           *float64
	SignDate         *time.Time
	PaymentCycle     *string
	MilestoneStatus  *string
	ResponsibleEmail *string
}

// Empty reports whether the update carries no recognized field.
func (in UpdateContractInput) Empty() bool {
	return in.Name == nil &&
		in.ClientName == nil &&
		in.Amount == nil &&
		in.SignDate == nil &&
		in.PaymentCycle == nil &&
		in.MilestoneStatus == nil &&
		in.ResponsibleEmail == nil
}

// ListFilter narrows and pages the contract listing.
type ListFilter struct {
	Search         *string
	ApprovalStatus *ApprovalStatus
	Page           int
	PageSize       int
}

// ReminderContact is the routing data the reminder job needs for a contract.
type ReminderContact struct {
	ContractID   int64
	ContractName string
	OwnerUserID  int64
	Email        string
}
