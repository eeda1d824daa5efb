package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/cinema-ticketing/internal/model"
)

// SeatRepo reads the static seat catalog.  Seats are provisioned by room
// administration; nothing here writes to the seats table.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo constructs a SeatRepo with the given DB handle.
func NewSeatRepo(db *sql.DB) *SeatRepo { return &SeatRepo{db: db} }

// ByRoom lists every seat of a room ordered by row then column.
func (r *SeatRepo) ByRoom(ctx context.Context, roomID uint64) ([]model.Seat, error) {
	const q = `SELECT room_id, seat_id, row_label, col_number, category, base_price
	           FROM seats WHERE room_id = ? ORDER BY row_label, col_number`
	rows, err := r.db.QueryContext(ctx, q, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSeats(rows)
}

// ByIDs returns the catalog rows for the given seat ids keyed by id.  Ids
// missing from the catalog are simply absent from the map.
func (r *SeatRepo) ByIDs(ctx context.Context, roomID uint64, ids []model.SeatID) (map[model.SeatID]model.Seat, error) {
	out := make(map[model.SeatID]model.Seat, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, roomID)
	for _, id := range ids {
		args = append(args, string(id))
	}
	q := `SELECT room_id, seat_id, row_label, col_number, category, base_price
	      FROM seats WHERE room_id = ? AND seat_id IN (` + placeholders(len(ids)) + `)`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seats, err := scanSeats(rows)
	if err != nil {
		return nil, err
	}
	for _, s := range seats {
		out[s.SeatID] = s
	}
	return out, nil
}

func scanSeats(rows *sql.Rows) ([]model.Seat, error) {
	var seats []model.Seat
	for rows.Next() {
		var s model.Seat
		if err := rows.Scan(&s.RoomID, &s.SeatID, &s.RowLabel, &s.Column, &s.Category, &s.BasePrice); err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

// placeholders returns "?, ?, ?" with n question marks.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
