package wifi

import (
	"context"
	"fmt"
	"sync"
)

// NVStore persists the fixed-size driver record.
type NVStore interface {
	// Read returns the stored record, or an empty slice when nothing was ever
	// written.
	Read(ctx context.Context) ([]byte, error)
	// Write replaces the whole record. A failed Write leaves the old one.
	Write(ctx context.Context, data []byte) error
	Erase(ctx context.Context) error
}

const (
	nvMarker    = "SLSI"
	nvSize      = 7
	nvCountryAt = 4
	nvPowerAt   = 6

	// DefaultCountryCode is written on first boot. "00" is the world domain.
	DefaultCountryCode = "00"
	// DefaultTxPower is written on first boot, in dBm.
	DefaultTxPower = 30

	minTxPower = 12
	maxTxPower = 30
)

// nvRecord is the decoded form of the persisted record.
type nvRecord struct {
	Country string
	TxPower uint8
}

func (r nvRecord) encode() []byte {
	b := make([]byte, nvSize)
	copy(b, nvMarker)
	copy(b[nvCountryAt:], r.Country)
	b[nvPowerAt] = r.TxPower
	return b
}

func decodeNV(b []byte) (nvRecord, bool) {
	if len(b) < nvSize || string(b[:len(nvMarker)]) != nvMarker {
		return nvRecord{}, false
	}
	return nvRecord{Country: string(b[nvCountryAt:nvPowerAt]), TxPower: b[nvPowerAt]}, true
}

// loadNV reads the record, writing defaults when the marker is absent. A
// block holding something else is erased first.
func loadNV(ctx context.Context, store NVStore) (nvRecord, error) {
	b, err := store.Read(ctx)
	if err != nil {
		return nvRecord{}, fmt.Errorf("read nv record: %w", err)
	}
	if rec, ok := decodeNV(b); ok {
		return rec, nil
	}
	if len(b) > 0 {
		if err := store.Erase(ctx); err != nil {
			return nvRecord{}, fmt.Errorf("erase nv record: %w", err)
		}
	}

	rec := nvRecord{Country: DefaultCountryCode, TxPower: DefaultTxPower}
	if err := storeNV(ctx, store, rec); err != nil {
		return nvRecord{}, err
	}
	return rec, nil
}

// storeNV replaces the record in one Write, so a failed write leaves the
// previous record in place.
func storeNV(ctx context.Context, store NVStore, rec nvRecord) error {
	if err := store.Write(ctx, rec.encode()); err != nil {
		return fmt.Errorf("write nv record: %w", err)
	}
	return nil
}

// updateNV applies fn to the current record and writes it back.
func updateNV(ctx context.Context, store NVStore, fn func(*nvRecord)) error {
	rec, err := loadNV(ctx, store)
	if err != nil {
		return err
	}
	fn(&rec)
	return storeNV(ctx, store, rec)
}

// MemoryNVStore keeps the record in memory.
type MemoryNVStore struct {
	mu   sync.Mutex
	data []byte
}

// Read returns a copy of the record.
func (m *MemoryNVStore) Read(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...), nil
}

// Write stores a copy of data.
func (m *MemoryNVStore) Write(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	return nil
}

// Erase forgets the record.
func (m *MemoryNVStore) Erase(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}
