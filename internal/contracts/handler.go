package contracts

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/covenant-clm/covenant/internal/platform/httpx"
	"github.com/covenant-clm/covenant/internal/shared"
)

const dateLayout = "2006-01-02"

// Handler manages contract endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers contract routes relative to the /contracts subtree.
// Flat method routes keep the {contractID} segment free for the payment plan
// routes mounted beneath it.
func (h *Handler) MountRoutes(r chi.Router) {
	write := shared.RequireRole(shared.RoleAdmin, shared.RoleStaff)
	admin := shared.RequireRole(shared.RoleAdmin)

	r.Get("/", h.list)
	r.Get("/{contractID}", h.get)
	r.With(write).Post("/", h.create)
	r.With(write).Put("/{contractID}", h.update)
	r.With(write).Post("/{contractID}/approval", h.changeApproval)
	r.With(admin).Delete("/{contractID}", h.remove)
}

type createContractRequest struct {
	Name             string  `json:"name" validate:"required"`
	ClientName       string  `json:"clientName" validate:"required"`
	Amount           float64 `json:"amount" validate:"required,gt=0"`
	SignDate         string  `json:"signDate" validate:"omitempty"`
	PaymentCycle     string  `json:"paymentCycle"`
	MilestoneStatus  string  `json:"milestoneStatus"`
	ResponsibleEmail string  `json:"responsibleEmail" validate:"omitempty,email"`
}

type updateContractRequest struct {
	Name             *string  `json:"name"`
	ClientName       *string  `json:"clientName"`
	Amount           *float64 `json:"amount"`
	SignDate         *string  `json:"signDate"`
	PaymentCycle     *string  `json:"paymentCycle"`
	MilestoneStatus  *string  `json:"milestoneStatus"`
	ResponsibleEmail *string  `json:"responsibleEmail" validate:"omitempty,email"`
}

type approvalRequest struct {
	Status string `json:"status" validate:"required"`
}

func contractID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "contractID"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter ListFilter
	if search := q.Get("search"); search != "" {
		filter.Search = &search
	}
	if status := q.Get("status"); status != "" {
		s := ApprovalStatus(status)
		filter.ApprovalStatus = &s
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PageSize, _ = strconv.Atoi(q.Get("pageSize"))

	result, err := h.service.ListContracts(r.Context(), filter)
	if err != nil {
		h.logger.Error("list contracts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid contract id")
		return
	}
	c, err := h.service.GetContract(r.Context(), id)
	if err != nil {
		h.logger.Error("get contract", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createContractRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "name, clientName and a positive amount are required")
		return
	}

	input := CreateContractInput{
		Name:             req.Name,
		ClientName:       req.ClientName,
		Amount:           req.Amount,
		PaymentCycle:     req.PaymentCycle,
		MilestoneStatus:  req.MilestoneStatus,
		ResponsibleEmail: req.ResponsibleEmail,
	}
	if req.SignDate != "" {
		parsed, err := time.Parse(dateLayout, req.SignDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "signDate must be formatted as YYYY-MM-DD")
			return
		}
		input.SignDate = &parsed
	}

	identity := shared.IdentityFromContext(r.Context())
	input.OwnerUserID = identity.UserID

	c, err := h.service.CreateContract(r.Context(), input)
	if err != nil {
		h.logger.Error("create contract", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid contract id")
		return
	}
	var req updateContractRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "responsibleEmail must be a valid address")
		return
	}

	input := UpdateContractInput{
		Name:             req.Name,
		ClientName:       req.ClientName,
		Amount:           req.Amount,
		PaymentCycle:     req.PaymentCycle,
		MilestoneStatus:  req.MilestoneStatus,
		ResponsibleEmail: req.ResponsibleEmail,
	}
	if req.SignDate != nil {
		parsed, err := time.Parse(dateLayout, *req.SignDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "signDate must be formatted as YYYY-MM-DD")
			return
		}
		input.SignDate = &parsed
	}

	c, err := h.service.UpdateContract(r.Context(), id, input)
	if err != nil {
		h.logger.Error("update contract", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) changeApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid contract id")
		return
	}
	var req approvalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "status is required")
		return
	}

	c, err := h.service.ChangeApproval(r.Context(), id, ApprovalStatus(req.Status))
	if err != nil {
		h.logger.Error("change contract approval", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid contract id")
		return
	}
	if err := h.service.DeleteContract(r.Context(), id); err != nil {
		h.logger.Error("delete contract", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "contract deleted"})
}
