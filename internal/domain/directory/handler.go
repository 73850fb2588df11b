package directory

import (
	"context"
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
	// Anonymous discovery
	api.GET("/doctors/public", h.ListPublicDoctors)
	api.GET("/doctors/connected", h.ListConnectedDoctors, auth.RequireRole(auth.RolePatient))

	doctor := api.Group("/doctor", auth.RequireRole(auth.RoleDoctor))
	doctor.GET("/profile", h.GetProfile)
	doctor.POST("/availability", h.SetAvailability)
	doctor.POST("/public", h.SetPublic)
	doctor.POST("/connections/request/:patient_id", h.RequestConnection)

	patient := api.Group("/patient", auth.RequireRole(auth.RolePatient))
	patient.GET("/connections/pending", h.ListPendingConnections)
	patient.POST("/connections/:id/accept", h.AcceptConnection)
	patient.POST("/connections/:id/reject", h.RejectConnection)

	admin := api.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/doctors", h.RegisterDoctor)
	admin.POST("/patients", h.RegisterPatient)
	admin.GET("/doctors/unauthorized", h.ListUnauthorizedDoctors)
	admin.POST("/doctors/:id/authorize", h.AuthorizeDoctor)
	admin.POST("/connections", h.ConnectPatient)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrDoctorNotFound), errors.Is(err, ErrPatientNotFound), errors.Is(err, ErrConnectionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateEmail), errors.Is(err, ErrPendingMatch), errors.Is(err, ErrStatusChanged),
		errors.Is(err, ErrAlreadyConnected), errors.Is(err, ErrConnectionPending):
		return http.StatusConflict
	case errors.Is(err, ErrProfilePrivate), errors.Is(err, ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidStatus):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func httpError(err error) error {
	return echo.NewHTTPError(errorStatus(err), err.Error())
}

// registrationError treats anything that is not a known sentinel as a
// validation failure.
func registrationError(err error) error {
	if status := errorStatus(err); status != http.StatusInternalServerError {
		return echo.NewHTTPError(status, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

// -- Public --

func (h *Handler) ListPublicDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, err := h.svc.ListPublicDoctors(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []PublicProfile{}
	}
	start, end := pg.Window(len(items))
	return c.JSON(http.StatusOK, pagination.NewResponse(items[start:end], len(items), pg))
}

// -- Doctor --

func (h *Handler) GetProfile(c echo.Context) error {
	doctorID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), doctorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

type availabilityRequest struct {
	Status Availability `json:"status"`
}

func (h *Handler) SetAvailability(c echo.Context) error {
	doctorID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	var req availabilityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.svc.SetAvailability(c.Request().Context(), doctorID, req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":             "Status updated to " + string(d.AvailabilityStatus),
		"availability_status": d.AvailabilityStatus,
	})
}

type publicRequest struct {
	IsPublic bool `json:"is_public"`
}

func (h *Handler) SetPublic(c echo.Context) error {
	doctorID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	var req publicRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.svc.SetPublic(c.Request().Context(), doctorID, req.IsPublic)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"is_public":           d.IsPublic,
		"availability_status": d.AvailabilityStatus,
	})
}

// -- Connection requests --

func (h *Handler) RequestConnection(c echo.Context) error {
	doctorID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	patientID, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	req, err := h.svc.RequestConnection(c.Request().Context(), doctorID, patientID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message":    "Connection request sent successfully.",
		"request_id": req.ID,
	})
}

func (h *Handler) ListPendingConnections(c echo.Context) error {
	patientID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListPendingConnections(c.Request().Context(), patientID)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*ConnectionRequest{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) AcceptConnection(c echo.Context) error {
	return h.respondConnection(c, h.svc.AcceptConnection, "Connection request accepted.")
}

func (h *Handler) RejectConnection(c echo.Context) error {
	return h.respondConnection(c, h.svc.RejectConnection, "Connection request rejected.")
}

type respondFunc func(ctx context.Context, patientID, requestID uuid.UUID) (*ConnectionRequest, error)

func (h *Handler) respondConnection(c echo.Context, respond respondFunc, message string) error {
	patientID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	req, err := respond(c.Request().Context(), patientID, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": message,
		"status":  req.Status,
	})
}

func (h *Handler) ListConnectedDoctors(c echo.Context) error {
	patientID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListConnectedDoctors(c.Request().Context(), patientID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

// -- Admin --

func (h *Handler) RegisterDoctor(c echo.Context) error {
	var d Doctor
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RegisterDoctor(c.Request().Context(), &d); err != nil {
		return registrationError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) RegisterPatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RegisterPatient(c.Request().Context(), &p); err != nil {
		return registrationError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListUnauthorizedDoctors(c echo.Context) error {
	items, err := h.svc.ListUnauthorizedDoctors(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Doctor{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) AuthorizeDoctor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.AuthorizeDoctor(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Doctor authorized"})
}

type connectionRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
}

func (h *Handler) ConnectPatient(c echo.Context) error {
	var req connectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PatientID == uuid.Nil || req.DoctorID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id and doctor_id are required")
	}
	if err := h.svc.ConnectPatient(c.Request().Context(), req.PatientID, req.DoctorID); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Connected"})
}
