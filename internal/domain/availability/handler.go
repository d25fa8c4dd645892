package availability

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
)

const defaultSlotMinutes = 30

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireScope("availability:read"))
	read.GET("/availability/schedules", h.ListSchedules)
	read.GET("/availability/slots", h.SearchSlots)

	write := api.Group("", auth.RequireScope("availability:write"))
	write.POST("/availability/schedules", h.CreateSchedule)
	write.POST("/availability/schedules/:id/deactivate", h.DeactivateSchedule)
	write.POST("/availability/holds", h.CreateHold)
	write.POST("/availability/book", h.BookWithHold)
}

func (h *Handler) CreateSchedule(c echo.Context) error {
	var w ScheduleWindow
	if err := c.Bind(&w); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	w.Active = true
	if w.SlotMinutes == 0 {
		w.SlotMinutes = defaultSlotMinutes
	}
	if err := h.svc.CreateSchedule(c.Request().Context(), &w); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) DeactivateSchedule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid schedule id")
	}
	w, err := h.svc.DeactivateSchedule(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "not_found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) ListSchedules(c echo.Context) error {
	practitionerID, err := uuid.Parse(c.QueryParam("practitioner_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid practitioner_id")
	}
	locationID, err := uuid.Parse(c.QueryParam("location_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid location_id")
	}

	windows, err := h.svc.ListSchedules(c.Request().Context(), practitionerID, locationID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if windows == nil {
		windows = []*ScheduleWindow{}
	}
	return c.JSON(http.StatusOK, windows)
}

func (h *Handler) SearchSlots(c echo.Context) error {
	practitionerID, err := uuid.Parse(c.QueryParam("practitioner_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid practitioner_id")
	}
	locationID, err := uuid.Parse(c.QueryParam("location_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid location_id")
	}
	start, err := time.Parse(time.RFC3339, c.QueryParam("start"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid start")
	}
	end, err := time.Parse(time.RFC3339, c.QueryParam("end"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid end")
	}

	q := SlotsQuery{
		PractitionerID: practitionerID,
		LocationID:     locationID,
		Start:          start,
		End:            end,
		Duration:       defaultSlotMinutes,
	}
	if raw := c.QueryParam("duration"); raw != "" {
		var d int
		if err := echo.QueryParamsBinder(c).Int("duration", &d).BindError(); err != nil || d <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid duration")
		}
		q.Duration = d
	}

	slots, err := h.svc.SearchSlots(c.Request().Context(), q)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, slots)
}

type holdCreateRequest struct {
	SlotID          string     `json:"slot_id"`
	Start           *time.Time `json:"start"`
	End             *time.Time `json:"end"`
	PractitionerID  uuid.UUID  `json:"practitioner_id"`
	LocationID      uuid.UUID  `json:"location_id"`
	PatientID       *uuid.UUID `json:"patient_id"`
	IntakeSessionID *uuid.UUID `json:"intake_session_id"`
	Duration        int        `json:"duration"`
}

type holdResponse struct {
	HoldToken string    `json:"hold_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) CreateHold(c echo.Context) error {
	var req holdCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.SlotID != "" && (req.Start != nil || req.End != nil) {
		return echo.NewHTTPError(http.StatusBadRequest, "use slot_id OR start/end")
	}
	if req.SlotID == "" && (req.Start == nil || req.End == nil) {
		return echo.NewHTTPError(http.StatusBadRequest, "provide slot_id or start/end")
	}

	in := HoldInput{
		PractitionerID:  req.PractitionerID,
		LocationID:      req.LocationID,
		PatientID:       req.PatientID,
		IntakeSessionID: req.IntakeSessionID,
	}

	if req.SlotID != "" {
		practitionerID, locationID, start, err := ParseSlotID(req.SlotID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		duration := req.Duration
		if duration <= 0 {
			duration = defaultSlotMinutes
		}
		in.PractitionerID = practitionerID
		in.LocationID = locationID
		in.Start = start
		in.End = start.Add(time.Duration(duration) * time.Minute)
	} else {
		if in.PractitionerID == uuid.Nil || in.LocationID == uuid.Nil {
			return echo.NewHTTPError(http.StatusBadRequest, "practitioner_id and location_id are required")
		}
		in.Start = *req.Start
		in.End = *req.End
	}

	hold, err := h.svc.CreateHold(c.Request().Context(), in)
	if err != nil {
		if errors.Is(err, ErrConflictAppointment) || errors.Is(err, ErrConflictHold) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, holdResponse{HoldToken: hold.Token, ExpiresAt: hold.ExpiresAt})
}

type bookRequest struct {
	HoldToken       string                 `json:"hold_token"`
	PatientID       uuid.UUID              `json:"patient_id"`
	IntakeSessionID *uuid.UUID             `json:"intake_session_id"`
	ReasonCode      *string                `json:"reason_code"`
	Contact         map[string]interface{} `json:"contact"`
	Metadata        map[string]interface{} `json:"metadata"`
}

type bookResponse struct {
	AppointmentID string     `json:"appointment_id"`
	Status        string     `json:"status"`
	Start         *time.Time `json:"start"`
	End           *time.Time `json:"end"`
}

func (h *Handler) BookWithHold(c echo.Context) error {
	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.HoldToken == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "hold_token is required")
	}
	if req.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}

	appt, err := h.svc.BookWithHold(c.Request().Context(), BookInput{
		HoldToken:       req.HoldToken,
		PatientID:       req.PatientID,
		IntakeSessionID: req.IntakeSessionID,
		ReasonCode:      req.ReasonCode,
		Meta:            req.Metadata,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidHold) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		if errors.Is(err, ErrExpiredHold) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	start, end := appt.EffectiveSpan()
	return c.JSON(http.StatusOK, bookResponse{
		AppointmentID: appt.ID.String(),
		Status:        string(appt.Status),
		Start:         start,
		End:           end,
	})
}
