package order

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/cinema-ticketing/internal/model"
	"github.com/iliyamo/cinema-ticketing/internal/queue"
	"github.com/iliyamo/cinema-ticketing/internal/repository"
)

// seatStore is a minimal in-memory reservation.Store.
type seatStore struct {
	mu   sync.Mutex
	maps map[uint64]*model.SeatMap
}

func newSeatStore(slot model.Slot, seats ...model.SeatID) *seatStore {
	m := &model.SeatMap{Slot: slot}
	for _, id := range seats {
		m.Entries = append(m.Entries, model.SeatEntry{SeatID: id, Status: model.SeatAvailable})
	}
	return &seatStore{maps: map[uint64]*model.SeatMap{slot.ID: m}}
}

func (s *seatStore) Locate(_ context.Context, key model.ShowingKey) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.maps {
		if m.Slot.ShowingGroupID == key.ShowingGroupID && m.Slot.RoomID == key.RoomID && m.Slot.StartsAt.Equal(key.StartsAt) {
			return id, nil
		}
	}
	return 0, repository.ErrShowingNotFound
}

func (s *seatStore) Load(_ context.Context, slotID uint64) (*model.SeatMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.maps[slotID]
	if !ok {
		return nil, repository.ErrShowingNotFound
	}
	return m.Clone(), nil
}

func (s *seatStore) Save(_ context.Context, m *model.SeatMap, _ []model.SeatID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.maps[m.Slot.ID]
	if cur.Slot.Version != m.Slot.Version {
		return repository.ErrVersionConflict
	}
	m.Slot.Version++
	s.maps[m.Slot.ID] = m.Clone()
	return nil
}

func (s *seatStore) SlotsWithExpiredHolds(context.Context, time.Time, int) ([]uint64, error) {
	return nil, nil
}

func (s *seatStore) CreateSlot(context.Context, model.ShowingKey) (*model.SeatMap, error) {
	return nil, repository.ErrSlotExists
}

func (s *seatStore) entry(slotID uint64, id model.SeatID) model.SeatEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.maps[slotID].Entry(id)
}

// memOrders mirrors the conditional updates of the MySQL order repository.
type memOrders struct {
	mu         sync.Mutex
	byID       map[uint64]*model.Order
	nextID     uint64
	taken      map[string]bool
	createErr  error
	vouchersIn map[uint64]uint64 // orderID -> voucher consumed at create
}

func newMemOrders() *memOrders {
	return &memOrders{byID: map[uint64]*model.Order{}, nextID: 1, taken: map[string]bool{}, vouchersIn: map[uint64]uint64{}}
}

func (r *memOrders) CodeExists(_ context.Context, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taken[code] {
		return true, nil
	}
	for _, o := range r.byID {
		if o.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (r *memOrders) Create(_ context.Context, o *model.Order, voucherID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	o.ID = r.nextID
	r.nextID++
	o.CreatedAt, o.UpdatedAt = time.Now(), time.Now()
	cp := *o
	r.byID[o.ID] = &cp
	if voucherID != 0 {
		r.vouchersIn[o.ID] = voucherID
	}
	return nil
}

func (r *memOrders) GetByID(_ context.Context, id uint64) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memOrders) GetByCode(_ context.Context, code string) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.byID {
		if o.Code == code {
			cp := *o
			return &cp, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (r *memOrders) MarkPaid(_ context.Context, id uint64, exp time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.byID[id]
	if o.PaymentStatus == model.PaymentPaid || o.PaymentStatus == model.PaymentRefunded {
		return false, nil
	}
	o.PaymentStatus, o.OrderStatus, o.ExpiresAt = model.PaymentPaid, model.OrderConfirmed, &exp
	return true, nil
}

func (r *memOrders) MarkPaymentFailed(_ context.Context, id uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.byID[id]
	if o.PaymentStatus != model.PaymentPending {
		return false, nil
	}
	o.PaymentStatus = model.PaymentFailed
	return true, nil
}

func (r *memOrders) Cancel(_ context.Context, id uint64, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.byID[id]
	if o.PaymentStatus != model.PaymentPending && o.PaymentStatus != model.PaymentFailed {
		return false, nil
	}
	o.PaymentStatus, o.OrderStatus, o.CancelReason = model.PaymentCancelled, model.OrderCancelled, reason
	return true, nil
}

func (r *memOrders) SetSeatSyncFailed(_ context.Context, id uint64, failed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id].SeatSyncFailed = failed
	return nil
}

func (r *memOrders) ListAbandoned(_ context.Context, now time.Time, _ int) ([]*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Order
	for _, o := range r.byID {
		if o.PaymentStatus == model.PaymentPending && o.ExpiresAt != nil && !o.ExpiresAt.After(now) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memOrders) Stats(context.Context, time.Time, time.Time) (*model.OrderStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := &model.OrderStats{ByPaymentStatus: map[model.PaymentStatus]int64{}, ByOrderStatus: map[model.OrderStatus]int64{}}
	for _, o := range r.byID {
		st.TotalOrders++
		st.ByPaymentStatus[o.PaymentStatus]++
		st.ByOrderStatus[o.OrderStatus]++
		if o.PaymentStatus == model.PaymentPaid {
			st.Revenue += o.FinalAmount
		}
	}
	return st, nil
}

func (r *memOrders) get(id uint64) model.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.byID[id]
}

type priceList map[model.SeatID]model.Seat

func (p priceList) ByIDs(_ context.Context, _ uint64, ids []model.SeatID) (map[model.SeatID]model.Seat, error) {
	out := map[model.SeatID]model.Seat{}
	for _, id := range ids {
		if s, ok := p[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

type productList map[uint64]repository.Product

func (p productList) ActiveByIDs(_ context.Context, ids []uint64) (map[uint64]repository.Product, error) {
	out := map[uint64]repository.Product{}
	for _, id := range ids {
		if pr, ok := p[id]; ok {
			out[id] = pr
		}
	}
	return out, nil
}

type fixedDiscounts struct {
	voucher model.OrderDiscount
	err     error
	tier    *model.OrderDiscount
}

func (f fixedDiscounts) VoucherDiscount(_ context.Context, code string, amount int64, _ uint64) (model.OrderDiscount, error) {
	if f.err != nil {
		return model.OrderDiscount{}, f.err
	}
	d := f.voucher
	d.Code = code
	if d.Amount > amount {
		d.Amount = amount
	}
	return d, nil
}

func (f fixedDiscounts) AmountDiscount(context.Context, int64) (*model.OrderDiscount, error) {
	if f.tier == nil {
		return nil, nil
	}
	cp := *f.tier
	return &cp, nil
}

type voucherLedger struct {
	mu       sync.Mutex
	restored []uint64
}

func (v *voucherLedger) Restore(_ context.Context, voucherID, _ uint64) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.restored = append(v.restored, voucherID)
	return true, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.OrderEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []queue.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]queue.EventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
