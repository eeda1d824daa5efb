package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-ticketing/internal/model"
	"github.com/iliyamo/cinema-ticketing/internal/reservation"
)

// SeatEngine is the reservation engine as used over HTTP.
type SeatEngine interface {
	Locate(ctx context.Context, groupID, roomID uint64, start, date string) (uint64, error)
	Schedule(ctx context.Context, groupID, roomID uint64, start, date string) (*model.SeatMap, error)
	Seats(ctx context.Context, slotID uint64) (*model.SeatMap, error)
	Hold(ctx context.Context, slotID uint64, seats []model.SeatID, holder string) (*reservation.HoldResult, error)
	Confirm(ctx context.Context, slotID uint64, seats []model.SeatID, holder string) (*reservation.ConfirmResult, error)
	Release(ctx context.Context, slotID uint64, seats []model.SeatID, holder string) (*reservation.ReleaseResult, error)
	SetStatus(ctx context.Context, slotID uint64, seats []model.SeatID, status model.SeatStatus) ([]model.SeatID, error)
}

// Sweeps runs and reports the background sweeper.
type Sweeps interface {
	RunOnce(ctx context.Context) (reservation.SweepResult, int)
	Stats() reservation.SweeperStats
}

// SlotHandler serves seat maps and the seat operations that do not go
// through an order.
type SlotHandler struct {
	engine  SeatEngine
	sweeper Sweeps
}

func NewSlotHandler(engine SeatEngine, sweeper Sweeps) *SlotHandler {
	if engine == nil {
		panic("nil engine passed to NewSlotHandler")
	}
	return &SlotHandler{engine: engine, sweeper: sweeper}
}

// customerHolder is the holder reference of a hold placed directly by a
// customer, before an order exists.
func customerHolder(userID uint64) string {
	return "CUST-" + strconv.FormatUint(userID, 10)
}

type seatsBody struct {
	Seats []model.SeatRef `json:"seats"`
}

// Lookup handles GET /v1/showings/lookup and resolves a composite showing
// reference to its slot id.
func (h *SlotHandler) Lookup(c echo.Context) error {
	group, err1 := strconv.ParseUint(c.QueryParam("showing_group_id"), 10, 64)
	room, err2 := strconv.ParseUint(c.QueryParam("room_id"), 10, 64)
	start := strings.TrimSpace(c.QueryParam("start_time"))
	if err1 != nil || err2 != nil || group == 0 || room == 0 || start == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "showing_group_id, room_id and start_time are required"})
	}
	id, err := h.engine.Locate(c.Request().Context(), group, room, start, c.QueryParam("date"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"slot_id": id})
}

// Seats handles GET /v1/slots/:id/seats.  Holder references are internal
// and are stripped from the public view.
func (h *SlotHandler) Seats(c echo.Context) error {
	slotID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid slot id"})
	}
	m, err := h.engine.Seats(c.Request().Context(), slotID)
	if err != nil {
		return fail(c, err)
	}
	counts := map[model.SeatStatus]int{}
	for i := range m.Entries {
		m.Entries[i].HolderRef = ""
		counts[m.Entries[i].Status]++
	}
	return c.JSON(http.StatusOK, echo.Map{"slot": m.Slot, "seats": m.Entries, "summary": counts})
}

// Hold handles POST /v1/slots/:id/hold.  Either every requested seat is
// held for the customer or none is; a conflict answers 409 with the exact
// contended seats.
func (h *SlotHandler) Hold(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	slotID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid slot id"})
	}
	var body seatsBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	res, err := h.engine.Hold(c.Request().Context(), slotID, model.SeatIDs(body.Seats), customerHolder(userID))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"slot_id":      res.SlotID,
		"seats":        res.Seats,
		"expires_at":   res.ExpiresAt,
		"hold_seconds": int(res.HoldWindow.Seconds()),
	})
}

// Release handles DELETE /v1/slots/:id/hold.  Only the caller's own holds
// are released; other seats are reported as skipped.
func (h *SlotHandler) Release(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	slotID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid slot id"})
	}
	var body seatsBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	res, err := h.engine.Release(c.Request().Context(), slotID, model.SeatIDs(body.Seats), customerHolder(userID))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Schedule handles POST /v1/admin/slots.
func (h *SlotHandler) Schedule(c echo.Context) error {
	var body struct {
		ShowingGroupID uint64        `json:"showing_group_id"`
		Room           model.RoomRef `json:"room"`
		Date           string        `json:"date"`
		StartTime      string        `json:"start_time"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.ShowingGroupID == 0 || body.Room.ID == 0 || strings.TrimSpace(body.StartTime) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "showing_group_id, room and start_time are required"})
	}
	m, err := h.engine.Schedule(c.Request().Context(), body.ShowingGroupID, body.Room.ID, body.StartTime, body.Date)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, m)
}

// SetStatus handles PUT /v1/admin/slots/:id/seats/status, used to take
// seats in and out of maintenance.
func (h *SlotHandler) SetStatus(c echo.Context) error {
	slotID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid slot id"})
	}
	var body struct {
		Seats  []model.SeatRef  `json:"seats"`
		Status model.SeatStatus `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	body.Status = model.SeatStatus(strings.ToUpper(string(body.Status)))
	changed, err := h.engine.SetStatus(c.Request().Context(), slotID, model.SeatIDs(body.Seats), body.Status)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"slot_id": slotID, "status": body.Status, "changed": changed})
}

// Confirm handles POST /v1/admin/slots/:id/confirm.  An empty holder_ref
// confirms regardless of who holds the seats.
func (h *SlotHandler) Confirm(c echo.Context) error {
	slotID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid slot id"})
	}
	var body struct {
		Seats     []model.SeatRef `json:"seats"`
		HolderRef string          `json:"holder_ref"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	res, err := h.engine.Confirm(c.Request().Context(), slotID, model.SeatIDs(body.Seats), strings.TrimSpace(body.HolderRef))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Sweep handles POST /v1/admin/sweep: one immediate sweeper pass.
func (h *SlotHandler) Sweep(c echo.Context) error {
	if h.sweeper == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "sweeper not running"})
	}
	res, expired := h.sweeper.RunOnce(c.Request().Context())
	return c.JSON(http.StatusOK, echo.Map{"holds": res, "orders_expired": expired, "stats": h.sweeper.Stats()})
}

// SweepStats handles GET /v1/admin/sweep.
func (h *SlotHandler) SweepStats(c echo.Context) error {
	if h.sweeper == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "sweeper not running"})
	}
	return c.JSON(http.StatusOK, h.sweeper.Stats())
}
