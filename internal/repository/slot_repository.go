package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/cinema-ticketing/internal/model"
)

// SlotRepo stores showtime slots and their seat maps.  A seat map is the
// slot row plus its slot_seats rows; the slot's version column guards
// concurrent writers: Save only succeeds if the version it read is still
// current, and bumps it in the same transaction as the seat rows.
type SlotRepo struct {
	db *sql.DB
}

// NewSlotRepo returns a new SlotRepo bound to the provided database.
func NewSlotRepo(db *sql.DB) *SlotRepo { return &SlotRepo{db: db} }

// Locate finds the slot id for a composite key.  StartsAt must already be
// a normalized UTC instant.
func (r *SlotRepo) Locate(ctx context.Context, key model.ShowingKey) (uint64, error) {
	const q = `SELECT id FROM showtime_slots WHERE showing_group_id = ? AND room_id = ? AND starts_at = ?`
	var id uint64
	err := r.db.QueryRowContext(ctx, q, key.ShowingGroupID, key.RoomID, key.StartsAt.UTC()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrShowingNotFound
	}
	return id, err
}

// GetSlot returns the slot row without seats.
func (r *SlotRepo) GetSlot(ctx context.Context, slotID uint64) (*model.Slot, error) {
	const q = `SELECT id, showing_group_id, room_id, starts_at, version FROM showtime_slots WHERE id = ?`
	var s model.Slot
	err := r.db.QueryRowContext(ctx, q, slotID).Scan(&s.ID, &s.ShowingGroupID, &s.RoomID, &s.StartsAt, &s.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrShowingNotFound
	}
	if err != nil {
		return nil, err
	}
	s.StartsAt = s.StartsAt.UTC()
	return &s, nil
}

// Load reads the slot and all of its seat entries in one consistent
// snapshot.
func (r *SlotRepo) Load(ctx context.Context, slotID uint64) (*model.SeatMap, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	m := &model.SeatMap{}
	const qs = `SELECT id, showing_group_id, room_id, starts_at, version FROM showtime_slots WHERE id = ?`
	err = tx.QueryRowContext(ctx, qs, slotID).Scan(&m.Slot.ID, &m.Slot.ShowingGroupID, &m.Slot.RoomID, &m.Slot.StartsAt, &m.Slot.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrShowingNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Slot.StartsAt = m.Slot.StartsAt.UTC()

	rows, err := tx.QueryContext(ctx,
		`SELECT seat_id, status, hold_expires_at, holder_ref FROM slot_seats WHERE slot_id = ? ORDER BY seat_id`, slotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e      model.SeatEntry
			exp    sql.NullTime
			holder sql.NullString
		)
		if err := rows.Scan(&e.SeatID, &e.Status, &exp, &holder); err != nil {
			return nil, err
		}
		if exp.Valid {
			t := exp.Time.UTC()
			e.HoldExpiry = &t
		}
		e.HolderRef = holder.String
		m.Entries = append(m.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return m, tx.Commit()
}

// Save writes the changed entries of m if the slot version still equals
// m.Slot.Version, then advances m.Slot.Version.  A stale version yields
// ErrVersionConflict and nothing is written.
func (r *SlotRepo) Save(ctx context.Context, m *model.SeatMap, changed []model.SeatID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE showtime_slots SET version = version + 1 WHERE id = ? AND version = ?`, m.Slot.ID, m.Slot.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE slot_seats SET status = ?, hold_expires_at = ?, holder_ref = ? WHERE slot_id = ? AND seat_id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, id := range changed {
		e := m.Entry(id)
		if e == nil {
			continue
		}
		var exp, holder interface{}
		if e.HoldExpiry != nil {
			exp = e.HoldExpiry.UTC()
		}
		if e.HolderRef != "" {
			holder = e.HolderRef
		}
		if _, err := stmt.ExecContext(ctx, string(e.Status), exp, holder, m.Slot.ID, string(e.SeatID)); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	m.Slot.Version++
	return nil
}

// SlotsWithExpiredHolds lists slots that have at least one HELD seat whose
// hold expired at or before now.
func (r *SlotRepo) SlotsWithExpiredHolds(ctx context.Context, now time.Time, limit int) ([]uint64, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT slot_id FROM slot_seats
		 WHERE status = 'HELD' AND (hold_expires_at IS NULL OR hold_expires_at <= ?)
		 ORDER BY slot_id LIMIT ?`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateSlot schedules a slot and copies one AVAILABLE entry per catalog
// seat of the room into slot_seats.
func (r *SlotRepo) CreateSlot(ctx context.Context, key model.ShowingKey) (*model.SeatMap, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	startsAt := key.StartsAt.UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO showtime_slots (showing_group_id, room_id, starts_at) VALUES (?, ?, ?)`,
		key.ShowingGroupID, key.RoomID, startsAt)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, ErrSlotExists
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `SELECT seat_id FROM seats WHERE room_id = ? ORDER BY seat_id`, key.RoomID)
	if err != nil {
		return nil, err
	}
	var seatIDs []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			rows.Close()
			return nil, err
		}
		seatIDs = append(seatIDs, s)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	m := &model.SeatMap{Slot: model.Slot{ID: uint64(id), ShowingGroupID: key.ShowingGroupID, RoomID: key.RoomID, StartsAt: startsAt}}
	if len(seatIDs) > 0 {
		var sb strings.Builder
		sb.WriteString(`INSERT INTO slot_seats (slot_id, seat_id, status) VALUES `)
		args := make([]interface{}, 0, len(seatIDs)*2)
		for i, s := range seatIDs {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString("(?, ?, 'AVAILABLE')")
			args = append(args, id, s)
			m.Entries = append(m.Entries, model.SeatEntry{SeatID: model.SeatID(s), Status: model.SeatAvailable})
		}
		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return m, nil
}
