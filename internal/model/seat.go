package model

import "strings"

// SeatID is the canonical seat identifier within a room: row label followed
// by the seat number, e.g. "A1" or "K12".
type SeatID string

// NormalizeSeatID upper-cases and trims a raw seat identifier.
func NormalizeSeatID(raw string) SeatID {
	return SeatID(strings.ToUpper(strings.TrimSpace(raw)))
}

// SeatCategory is the commercial class of a seat.
type SeatCategory string

const (
	SeatNormal   SeatCategory = "NORMAL"
	SeatPremium  SeatCategory = "PREMIUM"
	SeatCouple   SeatCategory = "COUPLE"
	SeatEnhanced SeatCategory = "ENHANCED"
)

// Seat describes a physical seat in a room.  Seats are static catalog
// entries provisioned by room administration; this service only reads them.
//
// Fields:
//  RoomID    – room to which the seat belongs.
//  SeatID    – row + number, unique within the room.
//  RowLabel  – row letter(s).
//  Column    – number of the seat within the row.
//  Category  – NORMAL, PREMIUM, COUPLE or ENHANCED.
//  BasePrice – list price in whole currency units.
type Seat struct {
	RoomID    uint64       `json:"room_id"`    // seats.room_id
	SeatID    SeatID       `json:"seat_id"`    // seats.seat_id
	RowLabel  string       `json:"row"`        // seats.row_label
	Column    int          `json:"column"`     // seats.col_number
	Category  SeatCategory `json:"category"`   // seats.category
	BasePrice int64        `json:"base_price"` // seats.base_price
}
