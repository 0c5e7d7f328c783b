package paymentplans

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/covenant-clm/covenant/internal/shared"
)

func newTestRouter(t *testing.T, now time.Time) (chi.Router, *memoryPlanRepo) {
	t.Helper()
	svc, repo := newTestService(t, now)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, svc)

	r := chi.NewRouter()
	r.Use(shared.IdentityMiddleware)
	r.Route("/api", func(r chi.Router) {
		r.Route("/contracts/{contractID}/payment-plans", h.MountContractRoutes)
		r.Route("/payment-plans", h.MountPlanRoutes)
	})
	return r, repo
}

func doJSON(t *testing.T, r chi.Router, method, target, body string, identity bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if identity {
		req.Header.Set(shared.HeaderUserID, "7")
		req.Header.Set(shared.HeaderUserRole, string(shared.RoleStaff))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCreatePlan(t *testing.T) {
	r, repo := newTestRouter(t, testNow)
	repo.contracts[1] = 10000

	rec := doJSON(t, r, http.MethodPost, "/api/contracts/1/payment-plans", `{"amount":6000,"plannedDate":"2026-04-01"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	var plan PaymentPlan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	require.Equal(t, int64(1), plan.ContractID)
	require.Equal(t, StatusPending, plan.Status)

	rec = doJSON(t, r, http.MethodPost, "/api/contracts/1/payment-plans", `{"amount":6000,"plannedDate":"2026-05-01"}`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "exceeds contract amount")

	rec = doJSON(t, r, http.MethodPost, "/api/contracts/1/payment-plans", `{"amount":-5,"plannedDate":"2026-05-01"}`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/api/contracts/1/payment-plans", `{"amount":100,"plannedDate":"05/01/2026"}`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/api/contracts/99/payment-plans", `{"amount":100,"plannedDate":"2026-05-01"}`, true)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerWritesRequireIdentity(t *testing.T) {
	r, repo := newTestRouter(t, testNow)
	repo.contracts[1] = 10000

	rec := doJSON(t, r, http.MethodPost, "/api/contracts/1/payment-plans", `{"amount":100,"plannedDate":"2026-05-01"}`, false)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, r, http.MethodDelete, "/api/payment-plans/1", "", false)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Reads stay open to anonymous callers.
	rec = doJSON(t, r, http.MethodGet, "/api/contracts/1/payment-plans", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerUpdatePlanTriState(t *testing.T) {
	r, repo := newTestRouter(t, testNow)
	repo.contracts[1] = 10000

	rec := doJSON(t, r, http.MethodPost, "/api/contracts/1/payment-plans", `{"amount":1000,"plannedDate":"2026-03-01"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	var plan PaymentPlan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))

	rec = doJSON(t, r, http.MethodPut, "/api/payment-plans/1", `{"actualPaymentDate":"2026-03-05"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	require.Equal(t, StatusPaid, plan.Status)

	// Explicit null clears the payment; status falls back to the dates.
	rec = doJSON(t, r, http.MethodPut, "/api/payment-plans/1", `{"actualPaymentDate":null}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	plan = PaymentPlan{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	require.Nil(t, plan.ActualPaymentDate)
	require.Equal(t, StatusOverdue, plan.Status)

	// Absent field leaves the recorded date untouched.
	rec = doJSON(t, r, http.MethodPut, "/api/payment-plans/1", `{"amount":1200}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	require.Equal(t, 1200.0, plan.Amount)

	rec = doJSON(t, r, http.MethodPut, "/api/payment-plans/1", `{"status":"paid"}`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodPut, "/api/payment-plans/1", `{"status":"cancelled"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	require.Equal(t, StatusCancelled, plan.Status)

	rec = doJSON(t, r, http.MethodPut, "/api/payment-plans/99", `{"amount":10}`, true)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, r, http.MethodPut, "/api/payment-plans/1", `{}`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerDueSoonAndExport(t *testing.T) {
	r, repo := newTestRouter(t, testNow)
	repo.contracts[1] = 10000

	rec := doJSON(t, r, http.MethodPost, "/api/contracts/1/payment-plans", `{"amount":500,"plannedDate":"2026-03-12"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, r, http.MethodPost, "/api/contracts/1/payment-plans", `{"amount":500,"plannedDate":"2026-06-01"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/api/payment-plans/due-soon?days=3", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var due []PaymentPlan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &due))
	require.Len(t, due, 1)

	rec = doJSON(t, r, http.MethodGet, "/api/payment-plans/due-soon?days=nope", "", false)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/api/contracts/1/payment-plans/export", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "payment_plans_1_")

	rec = doJSON(t, r, http.MethodGet, "/api/contracts/99/payment-plans/export", "", false)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
