package paymentplans

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/covenant-clm/covenant/internal/platform/httpx"
)

type memoryPlanRepo struct {
	mu        sync.Mutex
	locks     map[int64]*sync.Mutex
	plans     map[int64]PaymentPlan
	contracts map[int64]float64
	nextID    int64

	// onTxEnter, when set, runs once after the contract lock is acquired and
	// before the critical section, standing in for writes another session
	// committed while this one waited on the row lock.
	onTxEnter func()
}

func newMemoryPlanRepo() *memoryPlanRepo {
	return &memoryPlanRepo{
		locks:     make(map[int64]*sync.Mutex),
		plans:     make(map[int64]PaymentPlan),
		contracts: make(map[int64]float64),
	}
}

func (r *memoryPlanRepo) contractLock(contractID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[contractID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[contractID] = lock
	}
	return lock
}

func (r *memoryPlanRepo) ListByContract(ctx context.Context, contractID int64) ([]PaymentPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PaymentPlan
	for _, p := range r.plans {
		if p.ContractID == contractID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PlannedDate.Equal(out[j].PlannedDate) {
			return out[i].PlannedDate.Before(out[j].PlannedDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memoryPlanRepo) Get(ctx context.Context, id int64) (*PaymentPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[id]
	if !ok {
		return nil, fmt.Errorf("payment plan %d: %w", id, httpx.ErrNotFound)
	}
	copied := p
	return &copied, nil
}

func (r *memoryPlanRepo) SumAmount(ctx context.Context, contractID, excludeID int64) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sumLocked(contractID, excludeID), nil
}

func (r *memoryPlanRepo) sumLocked(contractID, excludeID int64) float64 {
	var sum float64
	for _, p := range r.plans {
		if p.ContractID != contractID || p.ID == excludeID || p.Status == StatusCancelled {
			continue
		}
		sum += p.Amount
	}
	return sum
}

func (r *memoryPlanRepo) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plans[id]; !ok {
		return fmt.Errorf("payment plan %d: %w", id, httpx.ErrNotFound)
	}
	delete(r.plans, id)
	return nil
}

func (r *memoryPlanRepo) ListDueBetween(ctx context.Context, from, to time.Time) ([]PaymentPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PaymentPlan
	for _, p := range r.plans {
		if p.Status == StatusCancelled || p.ActualPaymentDate != nil {
			continue
		}
		if p.PlannedDate.Before(from) || p.PlannedDate.After(to) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlannedDate.Before(out[j].PlannedDate) })
	return out, nil
}

func (r *memoryPlanRepo) WithContractTx(ctx context.Context, contractID int64, fn func(TxPort) error) error {
	lock := r.contractLock(contractID)
	lock.Lock()
	defer lock.Unlock()
	if r.onTxEnter != nil {
		hook := r.onTxEnter
		r.onTxEnter = nil
		hook()
	}
	return fn(&memoryPlanTx{repo: r})
}

func (r *memoryPlanRepo) Summary(ctx context.Context, contractID int64) (ContractSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	amount, ok := r.contracts[contractID]
	if !ok {
		return ContractSummary{}, fmt.Errorf("contract %d: %w", contractID, httpx.ErrNotFound)
	}
	return ContractSummary{ID: contractID, Name: fmt.Sprintf("contract-%d", contractID), Amount: amount}, nil
}

type memoryPlanTx struct {
	repo *memoryPlanRepo
}

func (t *memoryPlanTx) ContractAmount(ctx context.Context, contractID int64) (float64, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	amount, ok := t.repo.contracts[contractID]
	if !ok {
		return 0, fmt.Errorf("contract %d: %w", contractID, httpx.ErrNotFound)
	}
	return amount, nil
}

func (t *memoryPlanTx) SumAmount(ctx context.Context, contractID, excludeID int64) (float64, error) {
	return t.repo.SumAmount(ctx, contractID, excludeID)
}

func (t *memoryPlanTx) Insert(ctx context.Context, input CreatePlanInput) (*PaymentPlan, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.repo.nextID++
	p := PaymentPlan{
		ID:          t.repo.nextID,
		ContractID:  input.ContractID,
		Amount:      input.Amount,
		PlannedDate: input.PlannedDate,
		Status:      input.Status,
		CreatedAt:   time.Now(),
	}
	t.repo.plans[p.ID] = p
	return &p, nil
}

func (t *memoryPlanTx) Update(ctx context.Context, id int64, apply func(*PaymentPlan) error) (*PaymentPlan, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	p, ok := t.repo.plans[id]
	if !ok {
		return nil, fmt.Errorf("payment plan %d: %w", id, httpx.ErrNotFound)
	}
	if err := apply(&p); err != nil {
		return nil, err
	}
	t.repo.plans[id] = p
	return &p, nil
}

func newTestService(t *testing.T, now time.Time) (*Service, *memoryPlanRepo) {
	t.Helper()
	repo := newMemoryPlanRepo()
	svc := NewService(repo, repo)
	svc.WithNow(func() time.Time { return now })
	return svc, repo
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestCreatePlanDerivesInitialStatus(t *testing.T) {
	svc, repo := newTestService(t, testNow)
	repo.contracts[1] = 100000

	future, err := svc.CreatePlan(context.Background(), 1, 1000, testNow.AddDate(0, 0, 30))
	require.NoError(t, err)
	require.Equal(t, StatusPending, future.Status)

	past, err := svc.CreatePlan(context.Background(), 1, 1000, testNow.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Equal(t, StatusOverdue, past.Status)
}

func TestCreatePlanValidation(t *testing.T) {
	svc, repo := newTestService(t, testNow)
	repo.contracts[1] = 100000

	_, err := svc.CreatePlan(context.Background(), 1, 0, testNow)
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.CreatePlan(context.Background(), 1, -50, testNow)
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.CreatePlan(context.Background(), 1, 100, time.Time{})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.CreatePlan(context.Background(), 99, 100, testNow)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestCreatePlanEnforcesContractAmount(t *testing.T) {
	svc, repo := newTestService(t, testNow)
	repo.contracts[1] = 10000

	_, err := svc.CreatePlan(context.Background(), 1, 6000, testNow.AddDate(0, 1, 0))
	require.NoError(t, err)

	_, err = svc.CreatePlan(context.Background(), 1, 6000, testNow.AddDate(0, 2, 0))
	require.ErrorIs(t, err, httpx.ErrConstraint)

	// Filling the contract exactly is allowed; the check rejects only a
	// strict excess.
	_, err = svc.CreatePlan(context.Background(), 1, 4000, testNow.AddDate(0, 2, 0))
	require.NoError(t, err)

	_, err = svc.CreatePlan(context.Background(), 1, 0.01, testNow.AddDate(0, 3, 0))
	require.ErrorIs(t, err, httpx.ErrConstraint)
}

func TestUpdatePlanRecordsAndClearsPayment(t *testing.T) {
	svc, repo := newTestService(t, testNow)
	repo.contracts[1] = 10000

	plan, err := svc.CreatePlan(context.Background(), 1, 2000, testNow.AddDate(0, 0, -5))
	require.NoError(t, err)
	require.Equal(t, StatusOverdue, plan.Status)

	paidAt := testNow.AddDate(0, 0, -1)
	updated, err := svc.UpdatePlan(context.Background(), plan.ID, UpdatePlanInput{ActualPaymentDate: &paidAt})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, updated.Status)
	require.NotNil(t, updated.ActualPaymentDate)

	// Clearing the recorded payment reverts to the date-derived status.
	cleared, err := svc.UpdatePlan(context.Background(), plan.ID, UpdatePlanInput{ClearActualPaymentDate: true})
	require.NoError(t, err)
	require.Nil(t, cleared.ActualPaymentDate)
	require.Equal(t, StatusOverdue, cleared.Status)
}

func TestUpdatePlanAmountRechecksSumExcludingSelf(t *testing.T) {
	svc, repo := newTestService(t, testNow)
	repo.contracts[1] = 10000

	first, err := svc.CreatePlan(context.Background(), 1, 4000, testNow.AddDate(0, 1, 0))
	require.NoError(t, err)
	_, err = svc.CreatePlan(context.Background(), 1, 4000, testNow.AddDate(0, 2, 0))
	require.NoError(t, err)

	// Raising the first plan to 6000 keeps the total at exactly 10000.
	amount := 6000.0
	updated, err := svc.UpdatePlan(context.Background(), first.ID, UpdatePlanInput{Amount: &amount})
	require.NoError(t, err)
	require.Equal(t, 6000.0, updated.Amount)

	over := 6001.0
	_, err = svc.UpdatePlan(context.Background(), first.ID, UpdatePlanInput{Amount: &over})
	require.ErrorIs(t, err, httpx.ErrConstraint)

	negative := -1.0
	_, err = svc.UpdatePlan(context.Background(), first.ID, UpdatePlanInput{Amount: &negative})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.UpdatePlan(context.Background(), first.ID, UpdatePlanInput{})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestCancelledPlanIsFrozenAndExcluded(t *testing.T) {
	svc, repo := newTestService(t, testNow)
	repo.contracts[1] = 10000

	plan, err := svc.CreatePlan(context.Background(), 1, 10000, testNow.AddDate(0, 1, 0))
	require.NoError(t, err)

	cancelled, err := svc.UpdatePlan(context.Background(), plan.ID, UpdatePlanInput{Cancel: true})
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	// Cancelling again is an idempotent no-op.
	again, err := svc.UpdatePlan(context.Background(), plan.ID, UpdatePlanInput{Cancel: true})
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, again.Status)

	// Any other field change on a cancelled plan is rejected.
	amount := 500.0
	_, err = svc.UpdatePlan(context.Background(), plan.ID, UpdatePlanInput{Amount: &amount})
	require.ErrorIs(t, err, httpx.ErrValidation)

	paidAt := testNow
	_, err = svc.UpdatePlan(context.Background(), plan.ID, UpdatePlanInput{ActualPaymentDate: &paidAt, Cancel: true})
	require.ErrorIs(t, err, httpx.ErrValidation)

	// The cancelled amount no longer counts against the contract.
	_, err = svc.CreatePlan(context.Background(), 1, 10000, testNow.AddDate(0, 2, 0))
	require.NoError(t, err)

	// Cancelled plans keep their stored status on reads.
	got, err := svc.GetPlan(context.Background(), plan.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, got.Status)
}

func TestDeletePlan(t *testing.T) {
	svc, repo := newTestService(t, testNow)
	repo.contracts[1] = 10000

	plan, err := svc.CreatePlan(context.Background(), 1, 1000, testNow.AddDate(0, 1, 0))
	require.NoError(t, err)

	require.NoError(t, svc.DeletePlan(context.Background(), plan.ID))
	require.ErrorIs(t, svc.DeletePlan(context.Background(), plan.ID), httpx.ErrNotFound)

	_, err = svc.GetPlan(context.Background(), plan.ID)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestListPlansOrdersAndDerivesStatuses(t *testing.T) {
	svc, repo := newTestService(t, testNow)
	repo.contracts[1] = 100000

	_, err := svc.CreatePlan(context.Background(), 1, 100, testNow.AddDate(0, 0, 10))
	require.NoError(t, err)
	late, err := svc.CreatePlan(context.Background(), 1, 200, testNow.AddDate(0, 0, -10))
	require.NoError(t, err)
	paidAt := testNow.AddDate(0, 0, -9)
	_, err = svc.UpdatePlan(context.Background(), late.ID, UpdatePlanInput{ActualPaymentDate: &paidAt})
	require.NoError(t, err)

	plans, err := svc.ListPlans(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	require.Equal(t, StatusPaid, plans[0].Status)
	require.Equal(t, StatusPending, plans[1].Status)
	require.True(t, plans[0].PlannedDate.Before(plans[1].PlannedDate))

	empty, err := svc.ListPlans(context.Background(), 42)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestListDueSoonFiltersWindowAndStatus(t *testing.T) {
	svc, repo := newTestService(t, testNow)
	repo.contracts[1] = 100000

	inWindow, err := svc.CreatePlan(context.Background(), 1, 100, testNow.AddDate(0, 0, 2))
	require.NoError(t, err)
	_, err = svc.CreatePlan(context.Background(), 1, 100, testNow.AddDate(0, 0, 10))
	require.NoError(t, err)
	_, err = svc.CreatePlan(context.Background(), 1, 100, testNow.AddDate(0, 0, -2))
	require.NoError(t, err)

	paid, err := svc.CreatePlan(context.Background(), 1, 100, testNow.AddDate(0, 0, 1))
	require.NoError(t, err)
	paidAt := testNow
	_, err = svc.UpdatePlan(context.Background(), paid.ID, UpdatePlanInput{ActualPaymentDate: &paidAt})
	require.NoError(t, err)

	cancelled, err := svc.CreatePlan(context.Background(), 1, 100, testNow.AddDate(0, 0, 1))
	require.NoError(t, err)
	_, err = svc.UpdatePlan(context.Background(), cancelled.ID, UpdatePlanInput{Cancel: true})
	require.NoError(t, err)

	due, err := svc.ListDueSoon(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, inWindow.ID, due[0].ID)

	_, err = svc.ListDueSoon(context.Background(), 0)
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestConcurrentCreatesAdmitSingleWinner(t *testing.T) {
	svc, repo := newTestService(t, testNow)
	repo.contracts[1] = 10000

	var g errgroup.Group
	results := make([]error, 8)
	for i := range results {
		i := i
		g.Go(func() error {
			_, err := svc.CreatePlan(context.Background(), 1, 6000, testNow.AddDate(0, 1, 0))
			results[i] = err
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var accepted, rejected int
	for _, err := range results {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, httpx.ErrConstraint):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, len(results)-1, rejected)

	sum, err := repo.SumAmount(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Equal(t, 6000.0, sum)
}

func TestCreatePlanSumReflectsWritesCommittedDuringLockWait(t *testing.T) {
	svc, repo := newTestService(t, testNow)
	repo.contracts[1] = 10000

	// A competing session fills 6000 of the contract and commits while this
	// create waits on the contract lock. The sum check must read state as of
	// after the lock, not a snapshot taken before it.
	repo.onTxEnter = func() {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		repo.nextID++
		repo.plans[repo.nextID] = PaymentPlan{
			ID:          repo.nextID,
			ContractID:  1,
			Amount:      6000,
			PlannedDate: testNow.AddDate(0, 1, 0),
			Status:      StatusPending,
			CreatedAt:   time.Now(),
		}
	}

	_, err := svc.CreatePlan(context.Background(), 1, 6000, testNow.AddDate(0, 2, 0))
	require.ErrorIs(t, err, httpx.ErrConstraint)

	sum, err := repo.SumAmount(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Equal(t, 6000.0, sum)
}

func TestUpdatePlanRechecksCancellationUnderLock(t *testing.T) {
	svc, repo := newTestService(t, testNow)
	repo.contracts[1] = 10000

	plan, err := svc.CreatePlan(context.Background(), 1, 2000, testNow.AddDate(0, 1, 0))
	require.NoError(t, err)

	cancelStored := func(id int64) func() {
		return func() {
			repo.mu.Lock()
			defer repo.mu.Unlock()
			p := repo.plans[id]
			p.Status = StatusCancelled
			repo.plans[id] = p
		}
	}

	// The plan gets cancelled after the pre-check read but before the update
	// acquires the contract lock. The edit must still be rejected.
	repo.onTxEnter = cancelStored(plan.ID)
	amount := 3000.0
	_, err = svc.UpdatePlan(context.Background(), plan.ID, UpdatePlanInput{Amount: &amount})
	require.ErrorIs(t, err, httpx.ErrValidation)

	got, err := svc.GetPlan(context.Background(), plan.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, got.Status)
	require.Equal(t, 2000.0, got.Amount)

	// A cancel that races another cancel stays an idempotent no-op.
	other, err := svc.CreatePlan(context.Background(), 1, 2000, testNow.AddDate(0, 2, 0))
	require.NoError(t, err)
	repo.onTxEnter = cancelStored(other.ID)
	cancelled, err := svc.UpdatePlan(context.Background(), other.ID, UpdatePlanInput{Cancel: true})
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
}
