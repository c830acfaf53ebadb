package tenant

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

// RegisterRoutes mounts /clinics and /hospitals. Registration and "me" only
// need a credential; profile edits need the tenant to be active; listing and
// review are admin-only.
func (h *Handler) RegisterRoutes(api *echo.Group, gate *access.Gate) {
	for _, kind := range []access.TenantKind{access.KindClinic, access.KindHospital} {
		g := api.Group("/" + string(kind) + "s")

		g.POST("/register", h.Register(kind), gate.Authenticated())
		g.GET("/me", h.Me(kind), gate.Authenticated())
		g.PATCH("/me", h.UpdateMe(kind), gate.ActiveTenant(kind))

		g.GET("", h.List(kind), gate.Admin())
		g.GET("/:id", h.Get(kind), gate.Admin())
		g.POST("/:id/approve", h.Approve(kind), gate.Admin())
		g.POST("/:id/reject", h.Reject(kind), gate.Admin())
	}

	api.GET("/hospitals/directory", h.Directory, gate.ActiveTenant(access.KindClinic))
}

func (h *Handler) Register(kind access.TenantKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := access.PrincipalFromContext(c.Request().Context())
		if err != nil {
			return err
		}
		var body Profile
		if err := c.Bind(&body); err != nil {
			return apperr.Invalid("invalid request body")
		}
		t, err := h.svc.Register(c.Request().Context(), p, kind, body)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, pagination.Single{Data: t})
	}
}

func (h *Handler) Me(kind access.TenantKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := access.PrincipalFromContext(c.Request().Context())
		if err != nil {
			return err
		}
		t, err := h.svc.Mine(c.Request().Context(), p, kind)
		if err != nil {
			return err
		}
		// a missing tenant is a normal answer, not a 404
		if t == nil {
			return c.JSON(http.StatusOK, pagination.Single{Data: nil})
		}
		return c.JSON(http.StatusOK, pagination.Single{Data: t})
	}
}

func (h *Handler) UpdateMe(kind access.TenantKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		var patch ProfilePatch
		if err := c.Bind(&patch); err != nil {
			return apperr.Invalid("invalid request body")
		}
		t, err := h.svc.UpdateProfile(c.Request().Context(), kind, patch)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, pagination.Single{Data: t})
	}
}

func (h *Handler) List(kind access.TenantKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		pg := pagination.FromContext(c)
		f := Filter{
			Kind:   kind,
			Status: access.TenantStatus(c.QueryParam("status")),
			Region: c.QueryParam("region"),
		}
		items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
		if err != nil {
			return err
		}
		if items == nil {
			items = []*Tenant{}
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
	}
}

func (h *Handler) Get(kind access.TenantKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			return apperr.Invalid("invalid id")
		}
		t, err := h.svc.Get(c.Request().Context(), kind, id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, pagination.Single{Data: t})
	}
}

func (h *Handler) Approve(kind access.TenantKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			return apperr.Invalid("invalid id")
		}
		admin, err := access.PrincipalFromContext(c.Request().Context())
		if err != nil {
			return err
		}
		t, err := h.svc.Approve(c.Request().Context(), admin, kind, id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, pagination.Single{Data: t})
	}
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Reject(kind access.TenantKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			return apperr.Invalid("invalid id")
		}
		admin, err := access.PrincipalFromContext(c.Request().Context())
		if err != nil {
			return err
		}
		var body rejectRequest
		if err := c.Bind(&body); err != nil {
			return apperr.Invalid("invalid request body")
		}
		t, err := h.svc.Reject(c.Request().Context(), admin, kind, id, body.Reason)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, pagination.Single{Data: t})
	}
}

func (h *Handler) Directory(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Directory(c.Request().Context(), c.QueryParam("region"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}
