package reservation

import (
	"time"

	"github.com/iliyamo/cinema-ticketing/internal/model"
)

// The functions in this file are the seat state transitions.  They mutate
// the seat map in memory and return the seats they changed; persistence and
// retry are the engine's concern.  Each one validates every requested seat
// before touching any, so a failure leaves the map unchanged.

func holdExpired(e *model.SeatEntry, now time.Time) bool {
	return e.Status == model.SeatHeld && (e.HoldExpiry == nil || !e.HoldExpiry.After(now))
}

func applyHold(m *model.SeatMap, ids []model.SeatID, holder string, expiry, now time.Time) ([]model.SeatID, error) {
	var unknown, blocked []model.SeatID
	for _, id := range ids {
		e := m.Entry(id)
		switch {
		case e == nil:
			unknown = append(unknown, id)
		case e.Status == model.SeatAvailable, holdExpired(e, now):
		case e.Status == model.SeatHeld && e.HolderRef == holder:
			// same holder re-holding refreshes the expiry
		default:
			blocked = append(blocked, id)
		}
	}
	if len(unknown) > 0 {
		return nil, &UnknownSeatsError{Seats: unknown}
	}
	if len(blocked) > 0 {
		return nil, &UnavailableError{Seats: blocked}
	}
	for _, id := range ids {
		e := m.Entry(id)
		exp := expiry
		e.Status = model.SeatHeld
		e.HoldExpiry = &exp
		e.HolderRef = holder
	}
	return ids, nil
}

// applyConfirm moves seats to CONFIRMED.  Seats already CONFIRMED are left
// alone and reported as such so redelivered callbacks succeed.  When holder
// is set, a live hold owned by someone else blocks the confirmation.
func applyConfirm(m *model.SeatMap, ids []model.SeatID, holder string, now time.Time) (changed, already []model.SeatID, err error) {
	var unknown, blocked []model.SeatID
	for _, id := range ids {
		e := m.Entry(id)
		switch {
		case e == nil:
			unknown = append(unknown, id)
		case e.Status == model.SeatConfirmed:
			already = append(already, id)
		case e.Status == model.SeatAvailable:
			changed = append(changed, id)
		case e.Status == model.SeatHeld:
			if holder != "" && e.HolderRef != holder && !holdExpired(e, now) {
				blocked = append(blocked, id)
				continue
			}
			changed = append(changed, id)
		default:
			blocked = append(blocked, id)
		}
	}
	if len(unknown) > 0 {
		return nil, nil, &UnknownSeatsError{Seats: unknown}
	}
	if len(blocked) > 0 {
		return nil, nil, &UnavailableError{Seats: blocked}
	}
	for _, id := range changed {
		resetEntry(m.Entry(id), model.SeatConfirmed)
	}
	return changed, already, nil
}

// applyRelease returns seats to AVAILABLE.  CONFIRMED seats are never
// touched, unknown seats are ignored, and when holder is set only seats
// that holder owns are released.
func applyRelease(m *model.SeatMap, ids []model.SeatID, holder string) (released, skipped []model.SeatID) {
	for _, id := range ids {
		e := m.Entry(id)
		if e == nil || e.Status == model.SeatConfirmed || e.Status == model.SeatAvailable {
			skipped = append(skipped, id)
			continue
		}
		if holder != "" && e.HolderRef != holder {
			skipped = append(skipped, id)
			continue
		}
		resetEntry(e, model.SeatAvailable)
		released = append(released, id)
	}
	return released, skipped
}

func applySweep(m *model.SeatMap, now time.Time) []model.SeatID {
	var released []model.SeatID
	for i := range m.Entries {
		e := &m.Entries[i]
		if holdExpired(e, now) {
			resetEntry(e, model.SeatAvailable)
			released = append(released, e.SeatID)
		}
	}
	return released
}

func applyStatus(m *model.SeatMap, ids []model.SeatID, status model.SeatStatus) ([]model.SeatID, error) {
	if !status.Valid() || status == model.SeatHeld {
		return nil, ErrInvalidStatus
	}
	var unknown []model.SeatID
	for _, id := range ids {
		if m.Entry(id) == nil {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return nil, &UnknownSeatsError{Seats: unknown}
	}
	var changed []model.SeatID
	for _, id := range ids {
		e := m.Entry(id)
		if e.Status == status && e.HoldExpiry == nil && e.HolderRef == "" {
			continue
		}
		resetEntry(e, status)
		changed = append(changed, id)
	}
	return changed, nil
}

func resetEntry(e *model.SeatEntry, status model.SeatStatus) {
	e.Status = status
	e.HoldExpiry = nil
	e.HolderRef = ""
}
