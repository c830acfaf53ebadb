package dashboard

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medevac/medevac/internal/platform/access"
	"github.com/medevac/medevac/internal/platform/apperr"
	"github.com/medevac/medevac/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts GET /dashboard/stats. The portal query parameter
// picks both the gate and the figures.
func (h *Handler) RegisterRoutes(api *echo.Group, gate *access.Gate) {
	api.GET("/dashboard/stats", h.Stats(gate))
}

func (h *Handler) Stats(gate *access.Gate) echo.HandlerFunc {
	portals := map[Portal]echo.HandlerFunc{
		PortalClinic:   gate.ActiveTenant(access.KindClinic)(h.render(h.svc.ClinicStats)),
		PortalHospital: gate.ActiveTenant(access.KindHospital)(h.render(h.svc.HospitalStats)),
		PortalAdmin:    gate.Admin()(h.render(h.svc.AdminStats)),
	}
	unknown := gate.Authenticated()(func(c echo.Context) error {
		return apperr.Invalid("portal must be clinic, hospital or admin")
	})

	return func(c echo.Context) error {
		if next, ok := portals[Portal(c.QueryParam("portal"))]; ok {
			return next(c)
		}
		return unknown(c)
	}
}

func (h *Handler) render(stats func(context.Context) (*Stats, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := stats(c.Request().Context())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, pagination.Single{Data: s})
	}
}
