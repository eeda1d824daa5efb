package model

import "time"

// SeatStatus is the availability state of one seat for one time-slot.
type SeatStatus string

const (
	SeatAvailable   SeatStatus = "AVAILABLE"
	SeatHeld        SeatStatus = "HELD"
	SeatConfirmed   SeatStatus = "CONFIRMED"
	SeatMaintenance SeatStatus = "MAINTENANCE"
)

// Valid reports whether s is one of the known statuses.
func (s SeatStatus) Valid() bool {
	switch s {
	case SeatAvailable, SeatHeld, SeatConfirmed, SeatMaintenance:
		return true
	}
	return false
}

// ShowingKey is the composite reference callers use to address a time-slot:
// a showing group (movie x theater), a room and the UTC start instant.
type ShowingKey struct {
	ShowingGroupID uint64
	RoomID         uint64
	StartsAt       time.Time
}

// Slot is one scheduled screening.  ID is generated when the slot is
// scheduled and stays stable for its lifetime; every seat-map operation is
// routed through it.
type Slot struct {
	ID             uint64    `json:"id"`               // showtime_slots.id
	ShowingGroupID uint64    `json:"showing_group_id"` // showtime_slots.showing_group_id
	RoomID         uint64    `json:"room_id"`          // showtime_slots.room_id
	StartsAt       time.Time `json:"starts_at"`        // showtime_slots.starts_at (UTC)
	Version        uint64    `json:"version"`          // showtime_slots.version
}

// SeatEntry is the dynamic state of one seat within a slot.  HoldExpiry and
// HolderRef are only set while Status is HELD.
type SeatEntry struct {
	SeatID     SeatID     `json:"seat_id"`               // slot_seats.seat_id
	Status     SeatStatus `json:"status"`                // slot_seats.status
	HoldExpiry *time.Time `json:"hold_expiry,omitempty"` // slot_seats.hold_expires_at
	HolderRef  string     `json:"holder_ref,omitempty"`  // slot_seats.holder_ref
}

// SeatMap is the aggregate every engine operation reads, modifies and
// writes back as a unit.  Version is compared on write.
type SeatMap struct {
	Slot    Slot        `json:"slot"`
	Entries []SeatEntry `json:"seats"`
}

// Entry returns a pointer to the entry for id, or nil.
func (m *SeatMap) Entry(id SeatID) *SeatEntry {
	for i := range m.Entries {
		if m.Entries[i].SeatID == id {
			return &m.Entries[i]
		}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without touching a cached
// or shared value.
func (m *SeatMap) Clone() *SeatMap {
	out := &SeatMap{Slot: m.Slot, Entries: make([]SeatEntry, len(m.Entries))}
	for i, e := range m.Entries {
		if e.HoldExpiry != nil {
			t := *e.HoldExpiry
			e.HoldExpiry = &t
		}
		out.Entries[i] = e
	}
	return out
}
