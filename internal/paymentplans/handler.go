package paymentplans

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/covenant-clm/covenant/internal/platform/httpx"
	"github.com/covenant-clm/covenant/internal/shared"
)

const dateLayout = "2006-01-02"

// Handler manages payment plan endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountContractRoutes registers the contract-scoped plan routes. The router
// is expected to carry a {contractID} URL parameter.
func (h *Handler) MountContractRoutes(r chi.Router) {
	r.Get("/", h.listPlans)
	r.Get("/export", h.exportPlans)
	r.Group(func(r chi.Router) {
		r.Use(shared.RequireRole(shared.RoleAdmin, shared.RoleStaff))
		r.Post("/", h.createPlan)
	})
}

// MountPlanRoutes registers the plan-id scoped routes.
func (h *Handler) MountPlanRoutes(r chi.Router) {
	r.Get("/due-soon", h.listDueSoon)
	r.Group(func(r chi.Router) {
		r.Use(shared.RequireRole(shared.RoleAdmin, shared.RoleStaff))
		r.Put("/{id}", h.updatePlan)
		r.Delete("/{id}", h.deletePlan)
	})
}

type createPlanRequest struct {
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	PlannedDate string  `json:"plannedDate" validate:"required"`
}

type updatePlanRequest struct {
	Amount            *float64        `json:"amount"`
	PlannedDate       *string         `json:"plannedDate"`
	ActualPaymentDate json.RawMessage `json:"actualPaymentDate"`
	Status            *string         `json:"status"`
}

func (h *Handler) listPlans(w http.ResponseWriter, r *http.Request) {
	contractID, err := strconv.ParseInt(chi.URLParam(r, "contractID"), 10, 64)
	if err != nil || contractID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid contract id")
		return
	}

	plans, err := h.service.ListPlans(r.Context(), contractID)
	if err != nil {
		h.logger.Error("list payment plans", slog.Any("error", err), slog.Int64("contract_id", contractID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, plans)
}

func (h *Handler) createPlan(w http.ResponseWriter, r *http.Request) {
	contractID, err := strconv.ParseInt(chi.URLParam(r, "contractID"), 10, 64)
	if err != nil || contractID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid contract id")
		return
	}

	var req createPlanRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount must be positive and plannedDate is required")
		return
	}
	plannedDate, err := time.Parse(dateLayout, req.PlannedDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "plannedDate must be formatted as YYYY-MM-DD")
		return
	}

	plan, err := h.service.CreatePlan(r.Context(), contractID, req.Amount, plannedDate)
	if err != nil {
		h.logger.Error("create payment plan", slog.Any("error", err), slog.Int64("contract_id", contractID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, plan)
}

func (h *Handler) updatePlan(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payment plan id")
		return
	}

	var req updatePlanRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}

	input, err := h.buildUpdateInput(req)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	plan, err := h.service.UpdatePlan(r.Context(), id, input)
	if err != nil {
		h.logger.Error("update payment plan", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, plan)
}

func (h *Handler) buildUpdateInput(req updatePlanRequest) (UpdatePlanInput, error) {
	var input UpdatePlanInput
	input.Amount = req.Amount

	if req.PlannedDate != nil {
		parsed, err := time.Parse(dateLayout, *req.PlannedDate)
		if err != nil {
			return input, fmt.Errorf("plannedDate must be formatted as YYYY-MM-DD")
		}
		input.PlannedDate = &parsed
	}

	// actualPaymentDate distinguishes three cases: absent (leave as is),
	// null (clear the recorded payment), and a date string (record payment).
	if len(req.ActualPaymentDate) > 0 {
		if string(req.ActualPaymentDate) == "null" {
			input.ClearActualPaymentDate = true
		} else {
			var raw string
			if err := json.Unmarshal(req.ActualPaymentDate, &raw); err != nil {
				return input, fmt.Errorf("actualPaymentDate must be a date string or null")
			}
			parsed, err := time.Parse(dateLayout, raw)
			if err != nil {
				return input, fmt.Errorf("actualPaymentDate must be formatted as YYYY-MM-DD")
			}
			input.ActualPaymentDate = &parsed
		}
	}

	if req.Status != nil {
		if PlanStatus(*req.Status) != StatusCancelled {
			return input, fmt.Errorf("status may only be set to cancelled")
		}
		input.Cancel = true
	}
	return input, nil
}

func (h *Handler) deletePlan(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payment plan id")
		return
	}

	if err := h.service.DeletePlan(r.Context(), id); err != nil {
		h.logger.Error("delete payment plan", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "payment plan deleted"})
}

func (h *Handler) listDueSoon(w http.ResponseWriter, r *http.Request) {
	days := 3
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "days must be a positive integer")
			return
		}
		days = parsed
	}

	plans, err := h.service.ListDueSoon(r.Context(), days)
	if err != nil {
		h.logger.Error("list due-soon payment plans", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, plans)
}

func (h *Handler) exportPlans(w http.ResponseWriter, r *http.Request) {
	contractID, err := strconv.ParseInt(chi.URLParam(r, "contractID"), 10, 64)
	if err != nil || contractID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid contract id")
		return
	}

	summary, err := h.service.ContractSummary(r.Context(), contractID)
	if err != nil {
		h.logger.Error("export payment plans", slog.Any("error", err), slog.Int64("contract_id", contractID))
		httpx.RespondError(w, err)
		return
	}
	plans, err := h.service.ListPlans(r.Context(), contractID)
	if err != nil {
		h.logger.Error("export payment plans", slog.Any("error", err), slog.Int64("contract_id", contractID))
		httpx.RespondError(w, err)
		return
	}

	workbook, err := BuildWorkbook(summary, plans)
	if err != nil {
		h.logger.Error("build export workbook", slog.Any("error", err), slog.Int64("contract_id", contractID))
		httpx.RespondError(w, err)
		return
	}

	fileName := fmt.Sprintf("payment_plans_%d_%s.xlsx", contractID, uuid.NewString())
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+fileName)
	if err := workbook.Write(w); err != nil {
		h.logger.Error("write export workbook", slog.Any("error", err), slog.Int64("contract_id", contractID))
	}
}
