package paymentplans

import (
	"context"
	"fmt"
	"time"

	"github.com/covenant-clm/covenant/internal/platform/httpx"
)

// TxPort exposes the operations available inside a per-contract critical
// section. Implementations must serialize concurrent sections for the same
// contract so the sum check and the write happen atomically.
type TxPort interface {
	ContractAmount(ctx context.Context, contractID int64) (float64, error)
	SumAmount(ctx context.Context, contractID, excludeID int64) (float64, error)
	Insert(ctx context.Context, input CreatePlanInput) (*PaymentPlan, error)
	Update(ctx context.Context, id int64, apply func(*PaymentPlan) error) (*PaymentPlan, error)
}

// RepositoryPort defines data access methods for payment plans.
type RepositoryPort interface {
	ListByContract(ctx context.Context, contractID int64) ([]PaymentPlan, error)
	Get(ctx context.Context, id int64) (*PaymentPlan, error)
	SumAmount(ctx context.Context, contractID, excludeID int64) (float64, error)
	Delete(ctx context.Context, id int64) error
	ListDueBetween(ctx context.Context, from, to time.Time) ([]PaymentPlan, error)
	WithContractTx(ctx context.Context, contractID int64, fn func(TxPort) error) error
}

// ContractDirectory resolves contract metadata; implemented by the contracts
// service. Plan writes read the authoritative amount inside the critical
// section instead, so this is only used by reads that need contract fields.
type ContractDirectory interface {
	Summary(ctx context.Context, contractID int64) (ContractSummary, error)
}

// Service enforces the payment plan business rules: the aggregate
// contract-amount invariant and date-derived statuses.
type Service struct {
	repo      RepositoryPort
	contracts ContractDirectory
	now       func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, contracts ContractDirectory) *Service {
	return &Service{repo: repo, contracts: contracts, now: time.Now}
}

// WithNow overrides the service clock for testing.
func (s *Service) WithNow(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// CreatePlan validates the installment and inserts it, holding the
// per-contract critical section across the sum check and the write. Either
// the plan is created with the invariant intact or nothing is persisted.
func (s *Service) CreatePlan(ctx context.Context, contractID int64, amount float64, plannedDate time.Time) (*PaymentPlan, error) {
	if contractID <= 0 {
		return nil, fmt.Errorf("contract id is required: %w", httpx.ErrValidation)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("payment amount must be positive: %w", httpx.ErrValidation)
	}
	if plannedDate.IsZero() {
		return nil, fmt.Errorf("planned payment date is required: %w", httpx.ErrValidation)
	}

	var created *PaymentPlan
	err := s.repo.WithContractTx(ctx, contractID, func(tx TxPort) error {
		contractAmount, err := tx.ContractAmount(ctx, contractID)
		if err != nil {
			return err
		}
		existing, err := tx.SumAmount(ctx, contractID, 0)
		if err != nil {
			return err
		}
		if existing+amount > contractAmount {
			return fmt.Errorf("payment plan total exceeds contract amount: %w", httpx.ErrConstraint)
		}
		created, err = tx.Insert(ctx, CreatePlanInput{
			ContractID:  contractID,
			Amount:      amount,
			PlannedDate: plannedDate,
			Status:      DeriveStatus(plannedDate, nil, s.now()),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	result := created.WithDerivedStatus(s.now())
	return &result, nil
}

// UpdatePlan applies a partial update. Amount changes re-run the aggregate
// check inside the per-contract critical section, excluding the plan's own
// current amount from the sum.
func (s *Service) UpdatePlan(ctx context.Context, id int64, input UpdatePlanInput) (*PaymentPlan, error) {
	if input.Empty() {
		return nil, fmt.Errorf("no recognized fields to update: %w", httpx.ErrValidation)
	}
	if input.Amount != nil && *input.Amount <= 0 {
		return nil, fmt.Errorf("payment amount must be positive: %w", httpx.ErrValidation)
	}

	cancelOnly := input.Cancel && input.Amount == nil && input.PlannedDate == nil &&
		input.ActualPaymentDate == nil && !input.ClearActualPaymentDate

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == StatusCancelled {
		// No un-cancel transition exists; a cancelled plan stays out of the
		// aggregate sum and its fields are frozen.
		if cancelOnly {
			result := *current
			return &result, nil
		}
		return nil, fmt.Errorf("cancelled payment plan cannot be modified: %w", httpx.ErrValidation)
	}

	// Re-checked against the locked row: the read above is outside the
	// critical section, so the plan may have been cancelled since.
	apply := func(p *PaymentPlan) error {
		if p.Status == StatusCancelled {
			if cancelOnly {
				return nil
			}
			return fmt.Errorf("cancelled payment plan cannot be modified: %w", httpx.ErrValidation)
		}
		if input.Amount != nil {
			p.Amount = *input.Amount
		}
		if input.PlannedDate != nil {
			p.PlannedDate = *input.PlannedDate
		}
		if input.ActualPaymentDate != nil {
			p.ActualPaymentDate = input.ActualPaymentDate
		}
		if input.ClearActualPaymentDate {
			p.ActualPaymentDate = nil
		}
		if input.Cancel {
			p.Status = StatusCancelled
		}
		return nil
	}

	var updated *PaymentPlan
	err = s.repo.WithContractTx(ctx, current.ContractID, func(tx TxPort) error {
		if input.Amount != nil {
			contractAmount, err := tx.ContractAmount(ctx, current.ContractID)
			if err != nil {
				return err
			}
			existing, err := tx.SumAmount(ctx, current.ContractID, id)
			if err != nil {
				return err
			}
			if existing+*input.Amount > contractAmount {
				return fmt.Errorf("payment plan total exceeds contract amount: %w", httpx.ErrConstraint)
			}
		}
		var err error
		updated, err = tx.Update(ctx, id, apply)
		return err
	})
	if err != nil {
		return nil, err
	}
	result := updated.WithDerivedStatus(s.now())
	return &result, nil
}

// DeletePlan removes a plan permanently.
func (s *Service) DeletePlan(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

// GetPlan returns a single plan with freshly derived status.
func (s *Service) GetPlan(ctx context.Context, id int64) (*PaymentPlan, error) {
	plan, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	result := plan.WithDerivedStatus(s.now())
	return &result, nil
}

// ListPlans returns all plans for a contract ordered by planned date
// ascending, each with freshly derived status. A contract without plans
// yields an empty slice, not an error.
func (s *Service) ListPlans(ctx context.Context, contractID int64) ([]PaymentPlan, error) {
	plans, err := s.repo.ListByContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]PaymentPlan, 0, len(plans))
	for _, p := range plans {
		out = append(out, p.WithDerivedStatus(now))
	}
	return out, nil
}

// ListDueSoon returns pending plans across all contracts whose planned date
// falls within [now, now+windowDays]. Pure read; the notification collaborator
// decides what to do with the result.
func (s *Service) ListDueSoon(ctx context.Context, windowDays int) ([]PaymentPlan, error) {
	if windowDays <= 0 {
		return nil, fmt.Errorf("due-soon window must be at least one day: %w", httpx.ErrValidation)
	}
	now := s.now()
	plans, err := s.repo.ListDueBetween(ctx, now, now.AddDate(0, 0, windowDays))
	if err != nil {
		return nil, err
	}
	out := make([]PaymentPlan, 0, len(plans))
	for _, p := range plans {
		refreshed := p.WithDerivedStatus(now)
		if refreshed.Status != StatusPending {
			continue
		}
		out = append(out, refreshed)
	}
	return out, nil
}

// ContractSummary resolves contract metadata for the export surface.
func (s *Service) ContractSummary(ctx context.Context, contractID int64) (ContractSummary, error) {
	return s.contracts.Summary(ctx, contractID)
}
