package instant

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	g := api.Group("/instant")

	patient := g.Group("", auth.RequireRole(auth.RolePatient))
	patient.POST("/request", h.RequestMatch)
	patient.GET("/status/:id", h.PollStatus)
	patient.POST("/cancel/:id", h.Cancel)
	patient.GET("/history", h.History)

	doctor := g.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.GET("/incoming", h.PollIncoming)
	doctor.POST("/accept/:id", h.Accept)
	doctor.POST("/reject/:id", h.Reject)
	doctor.POST("/complete/:id", h.Complete)
}

// lifecycleError maps service errors to HTTP. Storage failures are returned
// as-is so the error handler logs them and answers with an opaque 500.
func lifecycleError(err error) error {
	var noDoctor *NoDoctorError
	switch {
	case errors.As(err, &noDoctor):
		return echo.NewHTTPError(http.StatusNotFound, noDoctor.Error())
	case errors.Is(err, ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFoundOrExpired):
		return echo.NewHTTPError(http.StatusNotFound, "Request not found or expired")
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Request not found")
	case errors.Is(err, ErrNotActive):
		return echo.NewHTTPError(http.StatusNotFound, "Consultation not found or already completed")
	case errors.Is(err, ErrExternalService):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Could not create the meeting link. Please try again.")
	}
	return err
}

type matchRequestBody struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (h *Handler) RequestMatch(c echo.Context) error {
	patientID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	var body matchRequestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	need, err := ParseNeed(body.Type, body.Value)
	if err != nil {
		return lifecycleError(err)
	}
	res, err := h.svc.RequestInstantMatch(c.Request().Context(), patientID, need)
	if err != nil {
		return lifecycleError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":     "Doctor found! Waiting for acceptance...",
		"request_id":  res.RequestID,
		"doctor_name": res.DoctorName,
		"specialty":   res.Specialty,
	})
}

func (h *Handler) PollIncoming(c echo.Context) error {
	doctorID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	m, err := h.svc.PollIncoming(c.Request().Context(), doctorID)
	if err != nil {
		return lifecycleError(err)
	}
	if m == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"has_request": false})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"has_request":  true,
		"request_id":   m.ID,
		"patient_name": m.PatientName,
		"symptoms":     m.Symptoms,
		"severity":     "High",
		"expires_at":   m.ExpiresAt,
	})
}

func (h *Handler) PollStatus(c echo.Context) error {
	patientID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return lifecycleError(ErrNotFound)
	}
	view, err := h.svc.PollStatus(c.Request().Context(), patientID, id)
	if err != nil {
		return lifecycleError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) Accept(c echo.Context) error {
	doctorID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return lifecycleError(ErrNotFoundOrExpired)
	}
	m, err := h.svc.Accept(c.Request().Context(), doctorID, id)
	if err != nil {
		return lifecycleError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Accepted", "meet_link": m.MeetLink})
}

func (h *Handler) Reject(c echo.Context) error {
	doctorID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return lifecycleError(ErrNotFoundOrExpired)
	}
	if err := h.svc.Reject(c.Request().Context(), doctorID, id); err != nil {
		return lifecycleError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Rejected"})
}

func (h *Handler) Complete(c echo.Context) error {
	doctorID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return lifecycleError(ErrNotActive)
	}
	m, err := h.svc.Complete(c.Request().Context(), doctorID, id)
	if err != nil {
		return lifecycleError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Completed",
		"status":  m.Status,
	})
}

func (h *Handler) Cancel(c echo.Context) error {
	patientID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return lifecycleError(ErrNotFoundOrExpired)
	}
	if err := h.svc.Cancel(c.Request().Context(), patientID, id); err != nil {
		return lifecycleError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Cancelled"})
}

func (h *Handler) History(c echo.Context) error {
	patientID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return lifecycleError(err)
	}
	if items == nil {
		items = []*MatchRequest{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}
