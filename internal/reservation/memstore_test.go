package reservation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/cinema-ticketing/internal/model"
	"github.com/iliyamo/cinema-ticketing/internal/repository"
)

// memStore is an in-memory Store with the same version-check contract as
// the MySQL implementation.
type memStore struct {
	mu       sync.Mutex
	maps     map[uint64]*model.SeatMap
	catalog  map[uint64][]model.SeatID
	nextID   uint64
	saves    int
	failSave error
}

func newMemStore() *memStore {
	return &memStore{maps: map[uint64]*model.SeatMap{}, catalog: map[uint64][]model.SeatID{}, nextID: 1}
}

// addSlot schedules a slot with the given seats, all AVAILABLE.
func (s *memStore) addSlot(key model.ShowingKey, seats ...model.SeatID) uint64 {
	s.catalog[key.RoomID] = seats
	m, _ := s.CreateSlot(context.Background(), key)
	return m.Slot.ID
}

func (s *memStore) Locate(_ context.Context, key model.ShowingKey) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.maps {
		if m.Slot.ShowingGroupID == key.ShowingGroupID && m.Slot.RoomID == key.RoomID && m.Slot.StartsAt.Equal(key.StartsAt) {
			return id, nil
		}
	}
	return 0, repository.ErrShowingNotFound
}

func (s *memStore) Load(_ context.Context, slotID uint64) (*model.SeatMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.maps[slotID]
	if !ok {
		return nil, repository.ErrShowingNotFound
	}
	return m.Clone(), nil
}

func (s *memStore) Save(_ context.Context, m *model.SeatMap, _ []model.SeatID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return s.failSave
	}
	cur, ok := s.maps[m.Slot.ID]
	if !ok {
		return repository.ErrShowingNotFound
	}
	if cur.Slot.Version != m.Slot.Version {
		return repository.ErrVersionConflict
	}
	m.Slot.Version++
	s.maps[m.Slot.ID] = m.Clone()
	s.saves++
	return nil
}

func (s *memStore) SlotsWithExpiredHolds(_ context.Context, now time.Time, limit int) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uint64
	for id, m := range s.maps {
		for i := range m.Entries {
			if holdExpired(&m.Entries[i], now) {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *memStore) CreateSlot(_ context.Context, key model.ShowingKey) (*model.SeatMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.maps {
		if m.Slot.ShowingGroupID == key.ShowingGroupID && m.Slot.RoomID == key.RoomID && m.Slot.StartsAt.Equal(key.StartsAt) {
			return nil, repository.ErrSlotExists
		}
	}
	m := &model.SeatMap{Slot: model.Slot{ID: s.nextID, ShowingGroupID: key.ShowingGroupID, RoomID: key.RoomID, StartsAt: key.StartsAt}}
	for _, id := range s.catalog[key.RoomID] {
		m.Entries = append(m.Entries, model.SeatEntry{SeatID: id, Status: model.SeatAvailable})
	}
	s.maps[m.Slot.ID] = m
	s.nextID++
	return m.Clone(), nil
}

func (s *memStore) entry(slotID uint64, id model.SeatID) model.SeatEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.maps[slotID].Entry(id)
}

// fakeClock is a manually advanced clock.
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
