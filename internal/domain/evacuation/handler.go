package evacuation

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medevac/medevac/internal/platform/access"
	"github.com/medevac/medevac/internal/platform/apperr"
	"github.com/medevac/medevac/pkg/pagination"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the clinic side (/evacuations, /critical-cases,
// /bookings) and the hospital side under /hospitals. Each side needs an
// active tenant of its kind.
func (h *Handler) RegisterRoutes(api *echo.Group, gate *access.Gate) {
	clinic := gate.ActiveTenant(access.KindClinic)
	hospital := gate.ActiveTenant(access.KindHospital)

	ev := api.Group("/evacuations", clinic)
	ev.POST("", h.Request)
	ev.GET("", h.List(access.KindClinic))
	ev.GET("/export", h.Export(access.KindClinic))
	ev.GET("/:id", h.Get(access.KindClinic))
	ev.PATCH("/:id", h.UpdateByClinic)

	api.POST("/critical-cases", h.RaiseCase, clinic)
	api.GET("/critical-cases", h.ListCases(access.KindClinic), clinic)
	api.GET("/bookings", h.ListBookings(access.KindClinic), clinic)

	hs := api.Group("/hospitals")
	hs.GET("/evacuations", h.List(access.KindHospital), hospital)
	hs.GET("/evacuations/export", h.Export(access.KindHospital), hospital)
	hs.GET("/evacuations/:id", h.Get(access.KindHospital), hospital)
	hs.PATCH("/evacuations/:id", h.UpdateByHospital, hospital)

	hs.GET("/critical-cases", h.ListCases(access.KindHospital), hospital)
	hs.POST("/critical-cases/:id/acknowledge", h.AcknowledgeCase, hospital)
	hs.POST("/critical-cases/:id/resolve", h.ResolveCase, hospital)

	hs.POST("/bookings", h.Book, hospital)
	hs.GET("/bookings", h.ListBookings(access.KindHospital), hospital)
	hs.PATCH("/bookings/:id", h.UpdateBooking, hospital)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Invalid("invalid id")
	}
	return id, nil
}

func filterFrom(c echo.Context) (Filter, error) {
	f := Filter{
		Status:   Status(c.QueryParam("status")),
		Priority: Priority(c.QueryParam("priority")),
	}
	if raw := c.QueryParam("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, apperr.Invalid("invalid patient_id")
		}
		f.PatientID = id
	}
	return f, nil
}

func (h *Handler) Request(c echo.Context) error {
	var e Evacuation
	if err := c.Bind(&e); err != nil {
		return apperr.Invalid("invalid request body")
	}
	created, err := h.svc.Request(c.Request().Context(), &e)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, pagination.Single{Data: created})
}

func (h *Handler) List(kind access.TenantKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		f, err := filterFrom(c)
		if err != nil {
			return err
		}
		pg := pagination.FromContext(c)
		items, total, err := h.svc.List(c.Request().Context(), kind, f, pg.Limit, pg.Offset)
		if err != nil {
			return err
		}
		if items == nil {
			items = []*Evacuation{}
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
	}
}

func (h *Handler) Get(kind access.TenantKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		e, err := h.svc.Get(c.Request().Context(), kind, id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, pagination.Single{Data: e})
	}
}

func (h *Handler) Export(kind access.TenantKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		f, err := filterFrom(c)
		if err != nil {
			return err
		}
		data, err := h.svc.Export(c.Request().Context(), kind, f)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("evacuations-%s.xlsx", time.Now().UTC().Format("20060102"))
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
		return c.Blob(http.StatusOK, xlsxContentType, data)
	}
}

func (h *Handler) UpdateByClinic(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var patch ClinicPatch
	if err := c.Bind(&patch); err != nil {
		return apperr.Invalid("invalid request body")
	}
	e, err := h.svc.UpdateByClinic(c.Request().Context(), id, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Single{Data: e})
}

func (h *Handler) UpdateByHospital(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var patch HospitalPatch
	if err := c.Bind(&patch); err != nil {
		return apperr.Invalid("invalid request body")
	}
	e, err := h.svc.UpdateByHospital(c.Request().Context(), id, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Single{Data: e})
}

func (h *Handler) RaiseCase(c echo.Context) error {
	var cc CriticalCase
	if err := c.Bind(&cc); err != nil {
		return apperr.Invalid("invalid request body")
	}
	created, err := h.svc.RaiseCase(c.Request().Context(), &cc)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, pagination.Single{Data: created})
}

func (h *Handler) ListCases(kind access.TenantKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		pg := pagination.FromContext(c)
		items, total, err := h.svc.ListCases(c.Request().Context(), kind, CaseStatus(c.QueryParam("status")), pg.Limit, pg.Offset)
		if err != nil {
			return err
		}
		if items == nil {
			items = []*CriticalCase{}
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
	}
}

func (h *Handler) AcknowledgeCase(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	cc, err := h.svc.AcknowledgeCase(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Single{Data: cc})
}

func (h *Handler) ResolveCase(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	cc, err := h.svc.ResolveCase(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Single{Data: cc})
}

func (h *Handler) Book(c echo.Context) error {
	var b Booking
	if err := c.Bind(&b); err != nil {
		return apperr.Invalid("invalid request body")
	}
	created, err := h.svc.Book(c.Request().Context(), &b)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, pagination.Single{Data: created})
}

func (h *Handler) UpdateBooking(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var patch BookingPatch
	if err := c.Bind(&patch); err != nil {
		return apperr.Invalid("invalid request body")
	}
	b, err := h.svc.UpdateBooking(c.Request().Context(), id, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Single{Data: b})
}

func (h *Handler) ListBookings(kind access.TenantKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		pg := pagination.FromContext(c)
		items, total, err := h.svc.ListBookings(c.Request().Context(), kind, BookingStatus(c.QueryParam("status")), pg.Limit, pg.Offset)
		if err != nil {
			return err
		}
		if items == nil {
			items = []*Booking{}
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
	}
}
