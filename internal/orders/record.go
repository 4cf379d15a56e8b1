package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/ksred/klear-ramp/internal/status"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrOwnerMismatch   = errors.New("order belongs to a different owner")
	ErrInvalidSnapshot = errors.New("invalid order snapshot")
	ErrAlreadySettled  = errors.New("order completion already settled")
)

// Change describes what applying a snapshot did to a record
type Change struct {
	Previous   status.Canonical
	Transition status.Transition
	Added      []StatusEntry
}

// Validate checks the invariants every stored record must keep
func (s *Snapshot) Validate() error {
	if s.OrderID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSnapshot)
	}
	if s.Direction != "" && !s.Direction.Valid() {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidSnapshot, s.Direction)
	}
	if s.FiatAmount != nil && *s.FiatAmount < 0 {
		return fmt.Errorf("%w: fiat amount is negative", ErrInvalidSnapshot)
	}
	if s.AmountPaid != nil && *s.AmountPaid < 0 {
		return fmt.Errorf("%w: amount paid is negative", ErrInvalidSnapshot)
	}
	if s.AssetAmount.Valid && s.AssetAmount.Decimal.IsNegative() {
		return fmt.Errorf("%w: asset amount is negative", ErrInvalidSnapshot)
	}
	if s.TotalFee.Valid && s.TotalFee.Decimal.IsNegative() {
		return fmt.Errorf("%w: total fee is negative", ErrInvalidSnapshot)
	}
	if s.Status != "" && !s.Status.Valid() {
		return fmt.Errorf("%w: unknown canonical status %q", ErrInvalidSnapshot, s.Status)
	}
	for _, h := range s.History {
		if h.Status == "" || h.Timestamp.IsZero() {
			return fmt.Errorf("%w: status history entries need a status and a timestamp", ErrInvalidSnapshot)
		}
	}
	return nil
}

// NewRecord builds the first record for an order. A snapshot without a
// status starts the order as PENDING.
func NewRecord(snap *Snapshot, now time.Time) (*OrderRecord, Change, error) {
	rec := &OrderRecord{
		OrderID:   snap.OrderID,
		OwnerID:   snap.OwnerID,
		Direction: snap.Direction,
		CreatedAt: now,
	}
	seed := *snap
	if seed.Status == "" {
		seed.Status = status.Pending
	}
	change, err := rec.Apply(&seed, now)
	return rec, change, err
}

// Apply merges an inbound snapshot into the record. The status only moves
// forward (see status.Advance); history is appended, never rewritten.
func (r *OrderRecord) Apply(snap *Snapshot, now time.Time) (Change, error) {
	change := Change{Previous: r.CanonicalStatus}
	if err := snap.Validate(); err != nil {
		return change, err
	}
	if r.OwnerID != "" && snap.OwnerID != "" && r.OwnerID != snap.OwnerID {
		return change, ErrOwnerMismatch
	}
	if r.OwnerID == "" {
		r.OwnerID = snap.OwnerID
	}
	if r.Direction == "" {
		r.Direction = snap.Direction
	}

	if snap.FiatAmount != nil {
		r.FiatAmount = *snap.FiatAmount
	}
	if snap.FiatCurrency != "" {
		r.FiatCurrency = snap.FiatCurrency
	}
	if snap.AssetSymbol != "" {
		r.AssetSymbol = snap.AssetSymbol
	}
	if snap.AssetAmount.Valid {
		r.AssetAmount = snap.AssetAmount.Decimal
	}
	if snap.WalletAddress != "" {
		r.WalletAddress = snap.WalletAddress
	}
	if snap.Network != "" {
		r.Network = snap.Network
	}
	if snap.PaymentMethodID != "" {
		r.PaymentMethodID = snap.PaymentMethodID
	}
	if snap.AmountPaid != nil {
		paid := *snap.AmountPaid
		r.AmountPaid = &paid
	}
	if snap.TotalFee.Valid {
		r.TotalFee = snap.TotalFee
	}
	if snap.FiatAmountInUSD != nil {
		usd := *snap.FiatAmountInUSD
		r.FiatAmountInUSD = &usd
	}
	if snap.RawStatus != "" {
		r.RawProviderStatus = snap.RawStatus
	}

	if snap.Status != "" {
		r.CanonicalStatus, change.Transition = status.Advance(r.CanonicalStatus, snap.Status)
	} else {
		change.Transition = status.TransitionUnchanged
	}

	incoming := snap.History
	if len(incoming) == 0 && snap.RawStatus != "" {
		last := len(r.StatusHistory) - 1
		if last < 0 || r.StatusHistory[last].Status != snap.RawStatus {
			incoming = []HistoryEntry{{Status: snap.RawStatus, Timestamp: now}}
		}
	}
	r.StatusHistory, change.Added = MergeHistory(r.StatusHistory, incoming)

	r.UpdatedAt = now
	return change, nil
}

// MergeHistory appends the entries of incoming that are not already present
// (same status and timestamp) and returns the full history plus the entries
// that were added. Existing entries are never reordered or dropped.
func MergeHistory(existing []StatusEntry, incoming []HistoryEntry) ([]StatusEntry, []StatusEntry) {
	var added []StatusEntry
	seq := 0
	if n := len(existing); n > 0 {
		seq = existing[n-1].Seq
	}

	for _, in := range incoming {
		ts := in.Timestamp.UTC().Truncate(time.Microsecond)
		if containsEntry(existing, in.Status, ts) {
			continue
		}
		seq++
		entry := StatusEntry{
			Seq:       seq,
			Status:    in.Status,
			Timestamp: ts,
			Message:   in.Message,
		}
		existing = append(existing, entry)
		added = append(added, entry)
	}
	return existing, added
}

func containsEntry(entries []StatusEntry, st string, ts time.Time) bool {
	for _, e := range entries {
		if e.Status == st && e.Timestamp.Equal(ts) {
			return true
		}
	}
	return false
}

// EffectiveFiatAmount is the settled fiat amount: amount paid when the
// provider reported a positive one, the order's fiat amount otherwise
func (r *OrderRecord) EffectiveFiatAmount() int64 {
	if r.AmountPaid != nil && *r.AmountPaid > 0 {
		return *r.AmountPaid
	}
	return r.FiatAmount
}
