package wifi

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingNVStore struct {
	MemoryNVStore
	writeErr error
	erases   int
}

func (f *failingNVStore) Erase(ctx context.Context) error {
	f.erases++
	return f.MemoryNVStore.Erase(ctx)
}

func (f *failingNVStore) Write(ctx context.Context, data []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	return f.MemoryNVStore.Write(ctx, data)
}

func TestLoadNV_WritesDefaultsOnFirstBoot(t *testing.T) {
	ctx := context.Background()
	store := &MemoryNVStore{}

	rec, err := loadNV(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, nvRecord{Country: DefaultCountryCode, TxPower: DefaultTxPower}, rec)

	raw, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{'S', 'L', 'S', 'I', '0', '0', DefaultTxPower}, raw)
}

func TestLoadNV_KeepsExistingRecord(t *testing.T) {
	ctx := context.Background()
	store := &MemoryNVStore{}
	require.NoError(t, store.Write(ctx, nvRecord{Country: "GB", TxPower: 20}.encode()))

	rec, err := loadNV(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "GB", rec.Country)
	assert.Equal(t, uint8(20), rec.TxPower)
}

func TestUpdateNV(t *testing.T) {
	ctx := context.Background()
	store := &MemoryNVStore{}

	require.NoError(t, updateNV(ctx, store, func(r *nvRecord) { r.TxPower = 15 }))
	require.NoError(t, updateNV(ctx, store, func(r *nvRecord) { r.Country = "JP" }))

	rec, err := loadNV(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, nvRecord{Country: "JP", TxPower: 15}, rec)
}

func TestLoadNV_WriteError(t *testing.T) {
	boom := errors.New("flash busy")
	_, err := loadNV(context.Background(), &failingNVStore{writeErr: boom})
	assert.ErrorIs(t, err, boom)
}

func TestUpdateNV_FailedWriteKeepsRecord(t *testing.T) {
	ctx := context.Background()
	store := &failingNVStore{}
	require.NoError(t, store.MemoryNVStore.Write(ctx, nvRecord{Country: "GB", TxPower: 20}.encode()))

	store.writeErr = errors.New("flash busy")
	err := updateNV(ctx, store, func(r *nvRecord) { r.TxPower = 15 })
	assert.ErrorIs(t, err, store.writeErr)
	assert.Zero(t, store.erases)

	store.writeErr = nil
	rec, err := loadNV(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, nvRecord{Country: "GB", TxPower: 20}, rec)
}

func TestLoadNV_ErasesCorruptRecord(t *testing.T) {
	ctx := context.Background()
	store := &failingNVStore{}
	require.NoError(t, store.MemoryNVStore.Write(ctx, []byte("garbage")))

	rec, err := loadNV(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, nvRecord{Country: DefaultCountryCode, TxPower: DefaultTxPower}, rec)
	assert.Equal(t, 1, store.erases)

	// a valid record is never erased
	_, err = loadNV(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 1, store.erases)
}

func TestDecodeNV(t *testing.T) {
	_, ok := decodeNV(nil)
	assert.False(t, ok)
	_, ok = decodeNV([]byte("XXXX00\x1e"))
	assert.False(t, ok)
	_, ok = decodeNV([]byte("SLSI"))
	assert.False(t, ok)

	rec, ok := decodeNV([]byte("SLSIUS\x0c"))
	assert.True(t, ok)
	assert.Equal(t, nvRecord{Country: "US", TxPower: 12}, rec)
}
