package handlers

import (
	"context"
	"net/http"
	"time"

	"oracle-service/internal/models"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is any backing dependency that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthHandler struct {
	deps     map[string]Pinger
	sources  func() map[models.ConditionType][]string
	gatherer prometheus.Gatherer
}

// NewHealthHandler takes the named dependencies to ping. Nil pingers are
// reported as disabled.
func NewHealthHandler(deps map[string]Pinger, sources func() map[models.ConditionType][]string, gatherer prometheus.Gatherer) *HealthHandler {
	return &HealthHandler{
		deps:     deps,
		sources:  sources,
		gatherer: gatherer,
	}
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/checkhealth", h.CheckHealth)
	if h.gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

func (h *HealthHandler) CheckHealth(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	healthy := true
	deps := make(map[string]string, len(h.deps))
	for name, dep := range h.deps {
		if dep == nil {
			deps[name] = "disabled"
			continue
		}
		if err := dep.Ping(ctx); err != nil {
			healthy = false
			deps[name] = "down: " + err.Error()
			continue
		}
		deps[name] = "ok"
	}

	body := fiber.Map{
		"status":       "healthy",
		"dependencies": deps,
	}
	if h.sources != nil {
		body["data_sources"] = h.sources()
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	return c.Status(status).JSON(body)
}
