package emergency

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/aarogya/aarogya/internal/domain/instant"
	"github.com/aarogya/aarogya/internal/platform/auth"
	"github.com/aarogya/aarogya/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/emergency/alert", h.Alert, auth.RequireRole(auth.RolePatient))

	// Any signed-in user reads their own notifications.
	api.GET("/notifications", h.ListNotifications)
	api.POST("/notifications/:id/read", h.MarkRead)
}

func (h *Handler) Alert(c echo.Context) error {
	patientID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	// A missing or malformed body still raises the alert.
	var in AlertInput
	if c.Request().ContentLength != 0 {
		_ = c.Bind(&in)
	}
	res, err := h.svc.Alert(c.Request().Context(), patientID, in)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, res)
	case errors.Is(err, ErrUnknownPatient):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, instant.ErrExternalService):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Could not open an emergency room link. Call 108.")
	}
	return err
}

func (h *Handler) ListNotifications(c echo.Context) error {
	userID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListNotifications(c.Request().Context(), userID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Notification{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) MarkRead(c echo.Context) error {
	userID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.MarkNotificationRead(c.Request().Context(), userID, id); err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
