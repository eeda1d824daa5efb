// Package reservation is the seat inventory engine.  It grants time-limited
// holds, confirms sold seats, releases abandoned ones and sweeps expired
// holds.  Every operation is a read-modify-write of one slot's seat map
// guarded by the slot version: the write only lands if nobody else wrote
// since the read, otherwise the whole operation is re-evaluated.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticketing/internal/model"
	"github.com/iliyamo/cinema-ticketing/internal/repository"
	"github.com/iliyamo/cinema-ticketing/internal/showtime"
)

// Store persists seat maps.  Save must fail with
// repository.ErrVersionConflict when m.Slot.Version is stale, and on
// success must advance m.Slot.Version.
type Store interface {
	Locate(ctx context.Context, key model.ShowingKey) (uint64, error)
	Load(ctx context.Context, slotID uint64) (*model.SeatMap, error)
	Save(ctx context.Context, m *model.SeatMap, changed []model.SeatID) error
	SlotsWithExpiredHolds(ctx context.Context, now time.Time, limit int) ([]uint64, error)
	CreateSlot(ctx context.Context, key model.ShowingKey) (*model.SeatMap, error)
}

// Cache is an optional read-through cache for seat maps.  Set must not
// replace an entry whose Slot.Version is newer than m's, so a reader that
// loaded before a write cannot put the older map back.
type Cache interface {
	Get(ctx context.Context, slotID uint64) (*model.SeatMap, bool)
	Set(ctx context.Context, m *model.SeatMap)
}

// HoldResult describes a granted hold.
type HoldResult struct {
	SlotID     uint64         `json:"slot_id"`
	Seats      []model.SeatID `json:"seats"`
	HolderRef  string         `json:"holder_ref"`
	ExpiresAt  time.Time      `json:"expires_at"`
	HoldWindow time.Duration  `json:"-"`
}

// ConfirmResult separates seats confirmed by this call from seats that were
// already confirmed.
type ConfirmResult struct {
	SlotID           uint64         `json:"slot_id"`
	Confirmed        []model.SeatID `json:"confirmed"`
	AlreadyConfirmed []model.SeatID `json:"already_confirmed"`
}

// ReleaseResult lists released seats and those left untouched.
type ReleaseResult struct {
	SlotID   uint64         `json:"slot_id"`
	Released []model.SeatID `json:"released"`
	Skipped  []model.SeatID `json:"skipped"`
}

// SweepResult summarises one sweep pass.
type SweepResult struct {
	Slots    int `json:"slots"`
	Released int `json:"released"`
	Failed   int `json:"failed"`
}

// Engine implements the reservation operations over a Store.
type Engine struct {
	store       Store
	cache       Cache
	log         *zap.Logger
	holdTTL     time.Duration
	window      time.Duration
	maxAttempts int
	sweepBatch  int
	loc         *time.Location
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithCache(c Cache) Option                  { return func(e *Engine) { e.cache = c } }
func WithHoldTTL(d time.Duration) Option        { return func(e *Engine) { e.holdTTL = d } }
func WithAdvisoryWindow(d time.Duration) Option { return func(e *Engine) { e.window = d } }
func WithMaxAttempts(n int) Option              { return func(e *Engine) { e.maxAttempts = n } }
func WithSweepBatch(n int) Option               { return func(e *Engine) { e.sweepBatch = n } }
func WithLocation(loc *time.Location) Option    { return func(e *Engine) { e.loc = loc } }
func WithClock(now func() time.Time) Option     { return func(e *Engine) { e.now = now } }

// NewEngine builds an Engine.  Defaults: 5 minute holds, 10 minute
// advisory window, 8 write attempts, UTC.
func NewEngine(store Store, log *zap.Logger, opts ...Option) *Engine {
	if store == nil {
		panic("reservation: nil store")
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		store:       store,
		log:         log.Named("reservation"),
		holdTTL:     5 * time.Minute,
		window:      10 * time.Minute,
		maxAttempts: 8,
		sweepBatch:  200,
		loc:         time.UTC,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxAttempts < 1 {
		e.maxAttempts = 1
	}
	return e
}

// Locate resolves a composite showing reference to a slot id.  start and
// date accept every encoding showtime.Normalize understands.
func (e *Engine) Locate(ctx context.Context, groupID, roomID uint64, start, date string) (uint64, error) {
	at, err := showtime.Normalize(start, date, e.loc)
	if err != nil {
		return 0, err
	}
	return e.store.Locate(ctx, model.ShowingKey{ShowingGroupID: groupID, RoomID: roomID, StartsAt: at})
}

// Schedule creates a slot with one AVAILABLE entry per catalog seat of the
// room.
func (e *Engine) Schedule(ctx context.Context, groupID, roomID uint64, start, date string) (*model.SeatMap, error) {
	at, err := showtime.Normalize(start, date, e.loc)
	if err != nil {
		return nil, err
	}
	m, err := e.store.CreateSlot(ctx, model.ShowingKey{ShowingGroupID: groupID, RoomID: roomID, StartsAt: at})
	if err != nil {
		return nil, err
	}
	e.log.Info("slot scheduled", zap.Uint64("slot_id", m.Slot.ID), zap.Time("starts_at", at), zap.Int("seats", len(m.Entries)))
	return m, nil
}

// Seats returns the current seat map of a slot.  Holds that have expired
// but were not swept yet are reported as AVAILABLE.
func (e *Engine) Seats(ctx context.Context, slotID uint64) (*model.SeatMap, error) {
	var m *model.SeatMap
	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, slotID); ok {
			m = cached
		}
	}
	if m == nil {
		loaded, err := e.store.Load(ctx, slotID)
		if err != nil {
			return nil, err
		}
		if e.cache != nil {
			e.cache.Set(ctx, loaded)
		}
		m = loaded
	}
	view := m.Clone()
	now := e.now()
	for i := range view.Entries {
		if holdExpired(&view.Entries[i], now) {
			resetEntry(&view.Entries[i], model.SeatAvailable)
		}
	}
	return view, nil
}

// Hold places an all-or-nothing hold on seats for holder.  If any seat is
// not available the call fails with an *UnavailableError naming exactly
// those seats and nothing changes.
func (e *Engine) Hold(ctx context.Context, slotID uint64, seats []model.SeatID, holder string) (*HoldResult, error) {
	seats = dedupe(seats)
	if len(seats) == 0 {
		return nil, ErrNoSeats
	}
	if holder == "" {
		return nil, errors.New("reservation: empty holder")
	}
	var expiresAt time.Time
	_, err := e.mutate(ctx, slotID, func(m *model.SeatMap, now time.Time) ([]model.SeatID, error) {
		// millisecond precision is what hold_expires_at stores
		expiresAt = now.Add(e.holdTTL).UTC().Truncate(time.Millisecond)
		return applyHold(m, seats, holder, expiresAt, now)
	})
	if err != nil {
		if errors.Is(err, ErrSeatUnavailable) {
			e.log.Debug("hold rejected", zap.Uint64("slot_id", slotID), zap.String("holder", holder), zap.Error(err))
		}
		return nil, err
	}
	e.log.Info("seats held", zap.Uint64("slot_id", slotID), zap.String("holder", holder), zap.Int("count", len(seats)), zap.Time("expires_at", expiresAt))
	return &HoldResult{SlotID: slotID, Seats: seats, HolderRef: holder, ExpiresAt: expiresAt, HoldWindow: e.window}, nil
}

// Confirm marks seats CONFIRMED and clears their hold in the same write,
// so a concurrent sweep can never hand them back.  Confirming seats that
// are already CONFIRMED succeeds without a write.  A non-empty holder
// protects live holds belonging to somebody else.
func (e *Engine) Confirm(ctx context.Context, slotID uint64, seats []model.SeatID, holder string) (*ConfirmResult, error) {
	seats = dedupe(seats)
	if len(seats) == 0 {
		return nil, ErrNoSeats
	}
	res := &ConfirmResult{SlotID: slotID}
	_, err := e.mutate(ctx, slotID, func(m *model.SeatMap, now time.Time) ([]model.SeatID, error) {
		changed, already, err := applyConfirm(m, seats, holder, now)
		res.Confirmed, res.AlreadyConfirmed = changed, already
		return changed, err
	})
	if err != nil {
		return nil, err
	}
	if len(res.Confirmed) > 0 {
		e.log.Info("seats confirmed", zap.Uint64("slot_id", slotID), zap.String("holder", holder), zap.Int("count", len(res.Confirmed)))
	}
	return res, nil
}

// Release returns seats to AVAILABLE.  CONFIRMED seats are never released.
// With a non-empty holder only seats held by that holder are affected.
func (e *Engine) Release(ctx context.Context, slotID uint64, seats []model.SeatID, holder string) (*ReleaseResult, error) {
	seats = dedupe(seats)
	if len(seats) == 0 {
		return nil, ErrNoSeats
	}
	res := &ReleaseResult{SlotID: slotID}
	_, err := e.mutate(ctx, slotID, func(m *model.SeatMap, _ time.Time) ([]model.SeatID, error) {
		res.Released, res.Skipped = applyRelease(m, seats, holder)
		return res.Released, nil
	})
	if err != nil {
		return nil, err
	}
	if len(res.Released) > 0 {
		e.log.Info("seats released", zap.Uint64("slot_id", slotID), zap.String("holder", holder), zap.Int("count", len(res.Released)))
	}
	return res, nil
}

// SetStatus is the administrative override.  Any status but HELD may be
// set; the hold fields are cleared.
func (e *Engine) SetStatus(ctx context.Context, slotID uint64, seats []model.SeatID, status model.SeatStatus) ([]model.SeatID, error) {
	seats = dedupe(seats)
	if len(seats) == 0 {
		return nil, ErrNoSeats
	}
	var changed []model.SeatID
	_, err := e.mutate(ctx, slotID, func(m *model.SeatMap, _ time.Time) ([]model.SeatID, error) {
		var err error
		changed, err = applyStatus(m, seats, status)
		return changed, err
	})
	if err != nil {
		return nil, err
	}
	e.log.Warn("seat status overridden", zap.Uint64("slot_id", slotID), zap.String("status", string(status)), zap.Int("count", len(changed)))
	return changed, nil
}

// Sweep releases every HELD seat whose hold has expired, visiting at most
// the configured batch of slots.  A slot that fails is logged and counted;
// the pass carries on with the others.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	ids, err := e.store.SlotsWithExpiredHolds(ctx, e.now(), e.sweepBatch)
	if err != nil {
		return res, fmt.Errorf("list expired holds: %w", err)
	}
	for _, slotID := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		var released []model.SeatID
		_, err := e.mutate(ctx, slotID, func(m *model.SeatMap, now time.Time) ([]model.SeatID, error) {
			released = applySweep(m, now)
			return released, nil
		})
		if err != nil {
			res.Failed++
			e.log.Warn("sweep slot failed", zap.Uint64("slot_id", slotID), zap.Error(err))
			continue
		}
		res.Slots++
		res.Released += len(released)
	}
	if res.Released > 0 || res.Failed > 0 {
		e.log.Info("sweep finished", zap.Int("slots", res.Slots), zap.Int("released", res.Released), zap.Int("failed", res.Failed))
	}
	return res, nil
}

type mutation func(m *model.SeatMap, now time.Time) ([]model.SeatID, error)

// mutate loads the seat map, applies fn and saves it if fn changed
// anything.  A version conflict re-runs the whole read-check-write with a
// short jittered backoff, up to maxAttempts times.
func (e *Engine) mutate(ctx context.Context, slotID uint64, fn mutation) (*model.SeatMap, error) {
	op := func() (*model.SeatMap, error) {
		m, err := e.store.Load(ctx, slotID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		changed, err := fn(m, e.now())
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if len(changed) == 0 {
			return m, nil
		}
		if err := e.store.Save(ctx, m, changed); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		if e.cache != nil {
			e.cache.Set(ctx, m)
		}
		return m, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	m, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(e.maxAttempts)),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		if errors.Is(err, repository.ErrVersionConflict) {
			e.log.Warn("seat map contention", zap.Uint64("slot_id", slotID), zap.Int("attempts", e.maxAttempts))
			return nil, fmt.Errorf("%w: slot %d", ErrBusy, slotID)
		}
		return nil, err
	}
	return m, nil
}

func dedupe(ids []model.SeatID) []model.SeatID {
	seen := make(map[model.SeatID]struct{}, len(ids))
	out := make([]model.SeatID, 0, len(ids))
	for _, id := range ids {
		id = model.NormalizeSeatID(string(id))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
