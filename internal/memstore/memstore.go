// Package memstore is an in-memory unit of work over order records and
// holdings. It shares the merge and ledger rules of the gorm stores and
// serializes units of work with a single mutex.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ksred/klear-ramp/internal/holdings"
	"github.com/ksred/klear-ramp/internal/orders"
	"github.com/ksred/klear-ramp/internal/settlement"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu       sync.Mutex
	orders   map[string]*orders.OrderRecord
	holdings map[holdings.Key]*holdings.Holding
	nextID   uint
	now      func() time.Time
}

func New() *Store {
	return &Store{
		orders:   make(map[string]*orders.OrderRecord),
		holdings: make(map[holdings.Key]*holdings.Holding),
		now:      time.Now,
	}
}

// Do runs fn against a private copy of the state and publishes the copy only
// if fn succeeds
func (s *Store) Do(ctx context.Context, fn func(store settlement.OrderStore, ledger settlement.Ledger) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	t := &tx{
		orders:   make(map[string]*orders.OrderRecord, len(s.orders)),
		holdings: make(map[holdings.Key]*holdings.Holding, len(s.holdings)),
		nextID:   s.nextID,
		now:      s.now,
	}
	for id, rec := range s.orders {
		t.orders[id] = cloneRecord(rec)
	}
	for k, h := range s.holdings {
		t.holdings[k] = cloneHolding(h)
	}

	if err := fn(t, t); err != nil {
		return err
	}

	s.orders = t.orders
	s.holdings = t.holdings
	s.nextID = t.nextID
	return nil
}

// Order returns a copy of the stored record, or nil
func (s *Store) Order(orderID string) *orders.OrderRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.orders[orderID]; ok {
		return cloneRecord(rec)
	}
	return nil
}

// Holding returns a copy of the stored holding, or nil
func (s *Store) Holding(key holdings.Key) *holdings.Holding {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.holdings[key]; ok {
		return cloneHolding(h)
	}
	return nil
}

// HoldingCount returns the number of open holdings
func (s *Store) HoldingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.holdings)
}

// GetForOwner returns a copy of the record if it belongs to ownerID
func (s *Store) GetForOwner(_ context.Context, orderID, ownerID string) (*orders.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.orders[orderID]
	if !ok || rec.OwnerID != ownerID {
		return nil, orders.ErrOrderNotFound
	}
	return cloneRecord(rec), nil
}

// ListByOwner returns the owner's holdings ordered by symbol and currency
func (s *Store) ListByOwner(_ context.Context, ownerID string) ([]holdings.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []holdings.Holding
	for k, h := range s.holdings {
		if k.OwnerID == ownerID {
			list = append(list, *h)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].AssetSymbol != list[j].AssetSymbol {
			return list[i].AssetSymbol < list[j].AssetSymbol
		}
		return list[i].FiatCurrency < list[j].FiatCurrency
	})
	return list, nil
}

type tx struct {
	orders   map[string]*orders.OrderRecord
	holdings map[holdings.Key]*holdings.Holding
	nextID   uint
	now      func() time.Time
}

func (t *tx) Upsert(_ context.Context, snap *orders.Snapshot) (*orders.UpsertResult, error) {
	rec, ok := t.orders[snap.OrderID]
	if !ok {
		created, change, err := orders.NewRecord(snap, t.now())
		if err != nil {
			return nil, err
		}
		t.nextID++
		created.ID = t.nextID
		t.orders[snap.OrderID] = created
		return &orders.UpsertResult{Record: cloneRecord(created), WasNew: true, Transition: change.Transition}, nil
	}

	change, err := rec.Apply(snap, t.now())
	if err != nil {
		return nil, err
	}
	return &orders.UpsertResult{
		Record:     cloneRecord(rec),
		Previous:   change.Previous,
		Transition: change.Transition,
	}, nil
}

func (t *tx) MarkSettled(_ context.Context, orderID string, at time.Time) error {
	rec, ok := t.orders[orderID]
	if !ok {
		return orders.ErrOrderNotFound
	}
	if rec.SettledAt != nil {
		return orders.ErrAlreadySettled
	}
	rec.SettledAt = &at
	return nil
}

func (t *tx) UpsertOnBuy(_ context.Context, key holdings.Key, deltaQty, deltaInvested decimal.Decimal) (*holdings.Holding, error) {
	h, ok := t.holdings[key]
	if !ok {
		created, err := holdings.NewHolding(key, deltaQty, deltaInvested)
		if err != nil {
			return nil, err
		}
		t.holdings[key] = created
		return cloneHolding(created), nil
	}
	if err := h.Add(deltaQty, deltaInvested); err != nil {
		return nil, err
	}
	return cloneHolding(h), nil
}

func (t *tx) ReduceOnSell(_ context.Context, key holdings.Key, sellQty decimal.Decimal) (holdings.SellEffect, error) {
	h, ok := t.holdings[key]
	if !ok {
		return holdings.SellEffect{}, nil
	}
	effect, err := h.Reduce(sellQty)
	if err != nil {
		return holdings.SellEffect{}, err
	}
	if effect.Closed {
		delete(t.holdings, key)
	} else {
		effect.Remaining = cloneHolding(h)
	}
	return effect, nil
}

func cloneRecord(rec *orders.OrderRecord) *orders.OrderRecord {
	c := *rec
	c.StatusHistory = append([]orders.StatusEntry(nil), rec.StatusHistory...)
	if rec.AmountPaid != nil {
		v := *rec.AmountPaid
		c.AmountPaid = &v
	}
	if rec.FiatAmountInUSD != nil {
		v := *rec.FiatAmountInUSD
		c.FiatAmountInUSD = &v
	}
	if rec.SettledAt != nil {
		v := *rec.SettledAt
		c.SettledAt = &v
	}
	return &c
}

func cloneHolding(h *holdings.Holding) *holdings.Holding {
	c := *h
	return &c
}
