package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/iliyamo/cinema-ticketing/internal/model"
	"github.com/iliyamo/cinema-ticketing/internal/order"
	"github.com/iliyamo/cinema-ticketing/internal/repository"
)

// fakeOrders follows the order manager's conditional transitions.
type fakeOrders struct {
	mu      sync.Mutex
	byCode  map[string]*model.Order
	paid    int
	failed  int
	syncBad bool
}

func newFakeOrders(orders ...*model.Order) *fakeOrders {
	f := &fakeOrders{byCode: map[string]*model.Order{}}
	for _, o := range orders {
		f.byCode[o.Code] = o
	}
	return f
}

func (f *fakeOrders) GetByID(_ context.Context, id, customerID uint64) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.byCode {
		if o.ID == id && (customerID == 0 || o.CustomerID == customerID) {
			cp := *o
			return &cp, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (f *fakeOrders) GetByCode(_ context.Context, code string, _ uint64) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byCode[code]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) MarkPaid(_ context.Context, o *model.Order) (*order.PaidResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur := f.byCode[o.Code]
	if cur.PaymentStatus == model.PaymentPaid {
		return &order.PaidResult{Order: o}, nil
	}
	f.paid++
	cur.PaymentStatus, cur.OrderStatus = model.PaymentPaid, model.OrderConfirmed
	cur.SeatSyncFailed = f.syncBad
	cp := *cur
	return &order.PaidResult{Order: &cp, Changed: true, SeatSyncFailed: f.syncBad}, nil
}

func (f *fakeOrders) MarkFailed(_ context.Context, o *model.Order, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur := f.byCode[o.Code]
	if cur.PaymentStatus != model.PaymentPending {
		return false, nil
	}
	f.failed++
	cur.PaymentStatus = model.PaymentFailed
	return true, nil
}

func (f *fakeOrders) get(code string) model.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.byCode[code]
}

type fakePayments struct {
	mu     sync.Mutex
	rows   []*model.Payment
	nextID uint64
}

func (f *fakePayments) Create(_ context.Context, p *model.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p.ID = f.nextID
	p.CreatedAt = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	cp := *p
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakePayments) find(id uint64) *model.Payment {
	for _, p := range f.rows {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (f *fakePayments) SetGatewayRef(_ context.Context, id uint64, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.find(id).GatewayRef = ref
	return nil
}

func (f *fakePayments) LatestByOrder(_ context.Context, orderID uint64) (*model.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.rows) - 1; i >= 0; i-- {
		if f.rows[i].OrderID == orderID {
			cp := *f.rows[i]
			return &cp, nil
		}
	}
	return nil, repository.ErrPaymentNotFound
}

func (f *fakePayments) ByGatewayRef(_ context.Context, ref string) (*model.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.rows) - 1; i >= 0; i-- {
		if f.rows[i].GatewayRef == ref {
			cp := *f.rows[i]
			return &cp, nil
		}
	}
	return nil, repository.ErrPaymentNotFound
}

func (f *fakePayments) MarkCancelled(_ context.Context, orderID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if p.OrderID == orderID && p.Status == model.PaymentRecordPending {
			p.Status = model.PaymentRecordCancelled
		}
	}
	return nil
}

func (f *fakePayments) MarkSuccess(_ context.Context, id uint64, txRef string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.find(id)
	if p.Status == model.PaymentRecordSuccess {
		return false, nil
	}
	p.Status, p.TransactionRef = model.PaymentRecordSuccess, txRef
	return true, nil
}

func (f *fakePayments) MarkFailed(_ context.Context, id uint64, txRef string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.find(id)
	if p.Status != model.PaymentRecordPending {
		return false, nil
	}
	p.Status = model.PaymentRecordFailed
	if txRef != "" {
		p.TransactionRef = txRef
	}
	return true, nil
}

func (f *fakePayments) status(id uint64) model.PaymentRecordStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(id).Status
}

// pointsLedger guards on a per-order flag like the points_processed column.
type pointsLedger struct {
	mu        sync.Mutex
	processed map[uint64]bool
	balance   map[uint64]int64
	calls     int
}

func (l *pointsLedger) AwardPoints(_ context.Context, orderID, customerID uint64, points int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.processed == nil {
		l.processed, l.balance = map[uint64]bool{}, map[uint64]int64{}
	}
	if l.processed[orderID] {
		return false, nil
	}
	l.processed[orderID] = true
	l.balance[customerID] += points
	return true, nil
}

// flakyLedger fails its first calls the way a deadlocked transaction would.
type flakyLedger struct {
	pointsLedger
	failures int
}

func (l *flakyLedger) AwardPoints(ctx context.Context, orderID, customerID uint64, points int64) (bool, error) {
	l.mu.Lock()
	if l.failures > 0 {
		l.failures--
		l.calls++
		l.mu.Unlock()
		return false, errors.New("Error 1213: Deadlock found when trying to get lock")
	}
	l.mu.Unlock()
	return l.pointsLedger.AwardPoints(ctx, orderID, customerID, points)
}

type usedVouchers struct {
	mu    sync.Mutex
	used  map[uint64]bool
	marks int
}

func (v *usedVouchers) MarkUsed(_ context.Context, voucherID, _ uint64, _ time.Time) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.used == nil {
		v.used = map[uint64]bool{}
	}
	if v.used[voucherID] {
		return false, nil
	}
	v.used[voucherID] = true
	v.marks++
	return true, nil
}
