package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-ticketing/internal/discount"
	"github.com/iliyamo/cinema-ticketing/internal/model"
	"github.com/iliyamo/cinema-ticketing/internal/order"
	"github.com/iliyamo/cinema-ticketing/internal/payment"
	"github.com/iliyamo/cinema-ticketing/internal/repository"
	"github.com/iliyamo/cinema-ticketing/internal/reservation"
	"github.com/iliyamo/cinema-ticketing/internal/showtime"
)

// fail writes err as a JSON error body with the matching status code.
// Unexpected errors are reported as 500 without their text.
func fail(c echo.Context, err error) error {
	status, body := errorResponse(err)
	return c.JSON(status, body)
}

func errorResponse(err error) (int, echo.Map) {
	var ve *order.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, echo.Map{"error": ve.Error(), "field": ve.Field}
	case errors.Is(err, reservation.ErrSeatUnavailable):
		return http.StatusConflict, echo.Map{"error": "some seats are unavailable", "unavailable": reservation.UnavailableSeats(err)}
	case errors.Is(err, reservation.ErrSeatNotFound):
		return http.StatusBadRequest, echo.Map{"error": "unknown seats", "unknown": reservation.UnavailableSeats(err)}
	case errors.Is(err, reservation.ErrShowingNotFound):
		return http.StatusNotFound, echo.Map{"error": "showing not found"}
	case errors.Is(err, repository.ErrOrderNotFound):
		return http.StatusNotFound, echo.Map{"error": "order not found"}
	case errors.Is(err, repository.ErrSlotExists):
		return http.StatusConflict, echo.Map{"error": "slot already scheduled"}
	case errors.Is(err, reservation.ErrBusy), errors.Is(err, order.ErrOrderCodeCollision):
		return http.StatusServiceUnavailable, echo.Map{"error": err.Error()}
	case errors.Is(err, order.ErrCannotCancelPaid), errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, payment.ErrPaymentAlreadyProcessed), errors.Is(err, payment.ErrOrderNotPayable):
		return http.StatusConflict, echo.Map{"error": err.Error()}
	case errors.Is(err, reservation.ErrNoSeats), errors.Is(err, reservation.ErrInvalidStatus),
		errors.Is(err, showtime.ErrBadTime), errors.Is(err, model.ErrBadReference),
		errors.Is(err, discount.ErrVoucherInvalid), errors.Is(err, order.ErrInvalidInput):
		return http.StatusBadRequest, echo.Map{"error": err.Error()}
	case errors.Is(err, payment.ErrRailUnavailable):
		return http.StatusUnprocessableEntity, echo.Map{"error": err.Error()}
	case errors.Is(err, payment.ErrSignatureInvalid):
		return http.StatusUnauthorized, echo.Map{"error": "invalid signature"}
	}
	return http.StatusInternalServerError, echo.Map{"error": "internal error"}
}

// getUserID reads the authenticated subject set by the JWT middleware.
func getUserID(c echo.Context) (uint64, error) {
	switch t := c.Get("user_id").(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		if t > 0 {
			return uint64(t), nil
		}
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil && n > 0 {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

func pathID(c echo.Context, name string) (uint64, bool) {
	n, err := strconv.ParseUint(c.Param(name), 10, 64)
	return n, err == nil && n > 0
}
