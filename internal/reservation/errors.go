package reservation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/cinema-ticketing/internal/model"
	"github.com/iliyamo/cinema-ticketing/internal/repository"
)

var (
	// ErrSeatUnavailable matches any *UnavailableError.
	ErrSeatUnavailable = errors.New("seat unavailable")
	// ErrSeatNotFound is returned when a seat id is not part of the slot.
	ErrSeatNotFound = errors.New("seat not found in showing")
	// ErrShowingNotFound is the store's not-found sentinel.
	ErrShowingNotFound = repository.ErrShowingNotFound
	// ErrBusy is returned when optimistic writes kept conflicting until the
	// attempt budget ran out.
	ErrBusy = errors.New("seat map busy, retry")
	// ErrInvalidStatus is returned by SetStatus for statuses it does not set.
	ErrInvalidStatus = errors.New("invalid seat status")
	// ErrNoSeats is returned when an operation is called with no seats.
	ErrNoSeats = errors.New("no seats requested")
)

// UnavailableError names exactly the requested seats that blocked an
// all-or-nothing operation.
type UnavailableError struct {
	Seats []model.SeatID
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("seats unavailable: %s", joinIDs(e.Seats))
}

func (e *UnavailableError) Is(target error) bool { return target == ErrSeatUnavailable }

// UnknownSeatsError lists requested seats that do not exist in the slot.
type UnknownSeatsError struct {
	Seats []model.SeatID
}

func (e *UnknownSeatsError) Error() string {
	return fmt.Sprintf("unknown seats: %s", joinIDs(e.Seats))
}

func (e *UnknownSeatsError) Is(target error) bool { return target == ErrSeatNotFound }

// UnavailableSeats extracts the contended seats from err, if any.
func UnavailableSeats(err error) []model.SeatID {
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return ue.Seats
	}
	var ne *UnknownSeatsError
	if errors.As(err, &ne) {
		return ne.Seats
	}
	return nil
}

func joinIDs(ids []model.SeatID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}
