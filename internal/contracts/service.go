package contracts

import (
	"context"
	"fmt"

	"github.com/covenant-clm/covenant/internal/paymentplans"
	"github.com/covenant-clm/covenant/internal/platform/httpx"
	"github.com/covenant-clm/covenant/internal/shared"
)

// RepositoryPort defines data access methods for contracts.
type RepositoryPort interface {
	Create(ctx context.Context, input CreateContractInput) (*Contract, error)
	Get(ctx context.Context, id int64) (*Contract, error)
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]Contract, int, error)
	Update(ctx context.Context, c *Contract) (*Contract, error)
	Delete(ctx context.Context, id int64) error
	ReminderContacts(ctx context.Context, contractIDs []int64) (map[int64]ReminderContact, error)
}

// PlanLedger reports the committed payment plan total for a contract,
// excluding cancelled plans. Implemented by the payment plan repository.
type PlanLedger interface {
	SumAmount(ctx context.Context, contractID, excludeID int64) (float64, error)
}

// Service enforces contract lifecycle rules.
type Service struct {
	repo  RepositoryPort
	plans PlanLedger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, plans PlanLedger) *Service {
	return &Service{repo: repo, plans: plans}
}

// ListResult bundles a contract page with its pagination envelope.
type ListResult struct {
	Contracts  []Contract        `json:"contracts"`
	Pagination shared.Pagination `json:"pagination"`
}

// CreateContract validates and inserts a new draft contract.
func (s *Service) CreateContract(ctx context.Context, input CreateContractInput) (*Contract, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("contract name is required: %w", httpx.ErrValidation)
	}
	if input.ClientName == "" {
		return nil, fmt.Errorf("client name is required: %w", httpx.ErrValidation)
	}
	if input.Amount <= 0 {
		return nil, fmt.Errorf("contract amount must be positive: %w", httpx.ErrValidation)
	}
	if input.OwnerUserID <= 0 {
		return nil, fmt.Errorf("contract owner is required: %w", httpx.ErrValidation)
	}
	return s.repo.Create(ctx, input)
}

// GetContract fetches a single contract.
func (s *Service) GetContract(ctx context.Context, id int64) (*Contract, error) {
	return s.repo.Get(ctx, id)
}

// ListContracts returns a filtered, paginated contract listing.
func (s *Service) ListContracts(ctx context.Context, filter ListFilter) (*ListResult, error) {
	if filter.ApprovalStatus != nil && !filter.ApprovalStatus.Valid() {
		return nil, fmt.Errorf("unknown approval status %q: %w", *filter.ApprovalStatus, httpx.ErrValidation)
	}
	pagination := shared.NewPagination(filter.Page, filter.PageSize, 0)
	contractsList, total, err := s.repo.List(ctx, filter, pagination.PageSize, pagination.Offset())
	if err != nil {
		return nil, err
	}
	return &ListResult{
		Contracts:  contractsList,
		Pagination: shared.NewPagination(pagination.Page, pagination.PageSize, total),
	}, nil
}

// UpdateContract applies a partial update. Archived contracts are frozen, and
// the amount cannot drop below the committed payment plan total.
func (s *Service) UpdateContract(ctx context.Context, id int64, input UpdateContractInput) (*Contract, error) {
	if input.Empty() {
		return nil, fmt.Errorf("no recognized fields to update: %w", httpx.ErrValidation)
	}
	if input.Name != nil && *input.Name == "" {
		return nil, fmt.Errorf("contract name cannot be empty: %w", httpx.ErrValidation)
	}
	if input.ClientName != nil && *input.ClientName == "" {
		return nil, fmt.Errorf("client name cannot be empty: %w", httpx.ErrValidation)
	}
	if input.Amount != nil && *input.Amount <= 0 {
		return nil, fmt.Errorf("contract amount must be positive: %w", httpx.ErrValidation)
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.ApprovalStatus == ApprovalArchived {
		return nil, fmt.Errorf("archived contract cannot be modified: %w", httpx.ErrValidation)
	}

	if input.Amount != nil && *input.Amount < current.Amount {
		planned, err := s.plans.SumAmount(ctx, id, 0)
		if err != nil {
			return nil, err
		}
		if *input.Amount < planned {
			return nil, fmt.Errorf("contract amount cannot drop below the planned payment total: %w", httpx.ErrConstraint)
		}
	}

	if input.Name != nil {
		current.Name = *input.Name
	}
	if input.ClientName != nil {
		current.ClientName = *input.ClientName
	}
	if input.Amount != nil {
		current.Amount = *input.Amount
	}
	if input.SignDate != nil {
		current.SignDate = input.SignDate
	}
	if input.PaymentCycle != nil {
		current.PaymentCycle = *input.PaymentCycle
	}
	if input.MilestoneStatus != nil {
		current.MilestoneStatus = *input.MilestoneStatus
	}
	if input.ResponsibleEmail != nil {
		current.ResponsibleEmail = *input.ResponsibleEmail
	}
	return s.repo.Update(ctx, current)
}

// ChangeApproval moves a contract along draft -> active -> archived. No other
// transitions exist.
func (s *Service) ChangeApproval(ctx context.Context, id int64, target ApprovalStatus) (*Contract, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("unknown approval status %q: %w", target, httpx.ErrValidation)
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	allowed := (current.ApprovalStatus == ApprovalDraft && target == ApprovalActive) ||
		(current.ApprovalStatus == ApprovalActive && target == ApprovalArchived)
	if !allowed {
		return nil, fmt.Errorf("cannot move contract from %s to %s: %w", current.ApprovalStatus, target, httpx.ErrValidation)
	}
	current.ApprovalStatus = target
	return s.repo.Update(ctx, current)
}

// DeleteContract removes a contract together with its payment plans.
func (s *Service) DeleteContract(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

// Summary exposes the contract fields the payment plan surface needs.
func (s *Service) Summary(ctx context.Context, contractID int64) (paymentplans.ContractSummary, error) {
	c, err := s.repo.Get(ctx, contractID)
	if err != nil {
		return paymentplans.ContractSummary{}, err
	}
	return paymentplans.ContractSummary{ID: c.ID, Name: c.Name, Amount: c.Amount}, nil
}

// ReminderContacts resolves notification routing for the reminder job.
func (s *Service) ReminderContacts(ctx context.Context, contractIDs []int64) (map[int64]ReminderContact, error) {
	return s.repo.ReminderContacts(ctx, contractIDs)
}
