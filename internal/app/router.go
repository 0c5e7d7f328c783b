package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/covenant-clm/covenant/internal/contracts"
	"github.com/covenant-clm/covenant/internal/notifications"
	"github.com/covenant-clm/covenant/internal/observability"
	"github.com/covenant-clm/covenant/internal/paymentplans"
	"github.com/covenant-clm/covenant/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger               *slog.Logger
	Config               *Config
	ContractsHandler     *contracts.Handler
	PaymentPlansHandler  *paymentplans.Handler
	NotificationsHandler *notifications.Handler
	JobHandler           *jobs.Handler
	Metrics              *observability.Metrics
}

// NewRouter constructs the chi.Router with Covenant defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/contracts", func(r chi.Router) {
			if params.ContractsHandler != nil {
				params.ContractsHandler.MountRoutes(r)
			}
			if params.PaymentPlansHandler != nil {
				r.Route("/{contractID}/payment-plans", params.PaymentPlansHandler.MountContractRoutes)
			}
		})
		if params.PaymentPlansHandler != nil {
			r.Route("/payment-plans", params.PaymentPlansHandler.MountPlanRoutes)
		}
		if params.NotificationsHandler != nil {
			params.NotificationsHandler.MountRoutes(r)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
