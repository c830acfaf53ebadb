package patient

import (
	"net/http"

	"github.com/google/uuid"
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

// RegisterRoutes mounts /patients. Every route needs an active clinic.
func (h *Handler) RegisterRoutes(api *echo.Group, gate *access.Gate) {
	g := api.Group("/patients", gate.ActiveTenant(access.KindClinic))
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.PATCH("/:id", h.Update)
	g.POST("/:id/vitals", h.AddVitals)
	g.GET("/:id/vitals", h.ListVitals)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Invalid("invalid id")
	}
	return id, nil
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{
		Status:    Status(c.QueryParam("status")),
		RiskLevel: RiskLevel(c.QueryParam("risk_level")),
		Search:    c.QueryParam("search"),
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Patient{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Create(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return apperr.Invalid("invalid request body")
	}
	created, err := h.svc.Create(c.Request().Context(), &p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, pagination.Single{Data: created})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Single{Data: p})
}

func (h *Handler) Update(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var patch Patch
	if err := c.Bind(&patch); err != nil {
		return apperr.Invalid("invalid request body")
	}
	p, err := h.svc.Update(c.Request().Context(), id, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Single{Data: p})
}

func (h *Handler) AddVitals(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var v VitalsLog
	if err := c.Bind(&v); err != nil {
		return apperr.Invalid("invalid request body")
	}
	saved, err := h.svc.AddVitals(c.Request().Context(), id, &v)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, pagination.Single{Data: saved})
}

func (h *Handler) ListVitals(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListVitals(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*VitalsLog{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}
