package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streampay/internal/ir"
	"github.com/roach88/streampay/internal/store"
)

// memStore is an in-memory BindingStore with the same uniqueness rules as
// the SQLite table.
type memStore struct {
	byHash map[ir.IdentityHash]ir.Binding
}

func newMemStore() *memStore {
	return &memStore{byHash: map[ir.IdentityHash]ir.Binding{}}
}

func (m *memStore) GetBinding(_ context.Context, h ir.IdentityHash) (ir.Binding, error) {
	b, ok := m.byHash[h]
	if !ok {
		return ir.Binding{}, store.ErrNotFound
	}
	return b, nil
}

func (m *memStore) GetBindingByAddress(_ context.Context, addr ir.Address) (ir.Binding, error) {
	for _, b := range m.byHash {
		if b.Address == addr {
			return b, nil
		}
	}
	return ir.Binding{}, store.ErrNotFound
}

func (m *memStore) InsertBinding(ctx context.Context, b ir.Binding) error {
	if _, ok := m.byHash[b.IdentityHash]; ok {
		return store.ErrAlreadyExists
	}
	if _, err := m.GetBindingByAddress(ctx, b.Address); err == nil {
		return store.ErrAlreadyExists
	}
	m.byHash[b.IdentityHash] = b
	return nil
}

func (m *memStore) ReplaceBinding(ctx context.Context, b ir.Binding) error {
	if _, ok := m.byHash[b.IdentityHash]; !ok {
		return store.ErrNotFound
	}
	if other, err := m.GetBindingByAddress(ctx, b.Address); err == nil && other.IdentityHash != b.IdentityHash {
		return store.ErrAlreadyExists
	}
	m.byHash[b.IdentityHash] = b
	return nil
}

var (
	hAlice = ir.HashIdentity("email", "alice@example.com")
	hBob   = ir.HashIdentity("x", "bob")

	placeholder = ir.PlaceholderAddress(hAlice, "nonce")
	ownerAddr   = ir.MustParseAddress("0x" + "1111111111111111111111111111111111111111111111111111111111111111")
	other       = ir.MustParseAddress("0x" + "2222222222222222222222222222222222222222222222222222222222222222")
)

func TestLookup_Unbound(t *testing.T) {
	r := New(newMemStore())

	_, ok, err := r.Lookup(context.Background(), hAlice)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBindOrCreate(t *testing.T) {
	ctx := context.Background()
	r := New(newMemStore())

	b, err := r.BindOrCreate(ctx, hAlice, placeholder, false, 100)
	require.NoError(t, err)
	assert.Equal(t, placeholder, b.Address)
	assert.False(t, b.Claimed)

	t.Run("same address is a no-op", func(t *testing.T) {
		again, err := r.BindOrCreate(ctx, hAlice, placeholder, true, 200)
		require.NoError(t, err)
		assert.Equal(t, b, again)
	})

	t.Run("different address rejected", func(t *testing.T) {
		_, err := r.BindOrCreate(ctx, hAlice, ownerAddr, true, 200)
		assert.ErrorIs(t, err, ErrBoundElsewhere)
	})

	t.Run("address owned by another identity rejected", func(t *testing.T) {
		_, err := r.BindOrCreate(ctx, hBob, placeholder, false, 200)
		assert.ErrorIs(t, err, ErrAddressTaken)
	})

	t.Run("zero hash rejected", func(t *testing.T) {
		_, err := r.BindOrCreate(ctx, ir.IdentityHash{}, other, false, 200)
		assert.Error(t, err)
	})

	t.Run("reverse lookup", func(t *testing.T) {
		got, ok, err := r.ReverseLookup(ctx, placeholder)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, hAlice, got.IdentityHash)
	})
}

func TestRebind(t *testing.T) {
	ctx := context.Background()
	r := New(newMemStore())

	_, err := r.BindOrCreate(ctx, hAlice, placeholder, false, 100)
	require.NoError(t, err)

	b, err := r.Rebind(ctx, hAlice, placeholder, ownerAddr, 150)
	require.NoError(t, err)
	assert.Equal(t, ownerAddr, b.Address)
	assert.True(t, b.Claimed)
	assert.Equal(t, int64(100), b.CreatedAt)
	assert.Equal(t, int64(150), b.UpdatedAt)

	_, ok, err := r.ReverseLookup(ctx, placeholder)
	require.NoError(t, err)
	assert.False(t, ok, "old address must no longer resolve")

	got, ok, err := r.Lookup(ctx, hAlice)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ownerAddr, got.Address)
}

func TestRebind_StaleOldAddress(t *testing.T) {
	ctx := context.Background()
	r := New(newMemStore())

	_, err := r.BindOrCreate(ctx, hAlice, placeholder, false, 100)
	require.NoError(t, err)

	_, err = r.Rebind(ctx, hAlice, other, ownerAddr, 150)
	assert.ErrorIs(t, err, ErrBoundElsewhere)
}

func TestRebind_TargetTaken(t *testing.T) {
	ctx := context.Background()
	r := New(newMemStore())

	_, err := r.BindOrCreate(ctx, hAlice, placeholder, false, 100)
	require.NoError(t, err)
	_, err = r.BindOrCreate(ctx, hBob, ownerAddr, true, 100)
	require.NoError(t, err)

	_, err = r.Rebind(ctx, hAlice, placeholder, ownerAddr, 150)
	assert.ErrorIs(t, err, ErrAddressTaken)

	got, _, err := r.Lookup(ctx, hAlice)
	require.NoError(t, err)
	assert.Equal(t, placeholder, got.Address, "failed rebind must not change the binding")
}

func TestRebind_PlaceholderTarget(t *testing.T) {
	ctx := context.Background()
	r := New(newMemStore())

	_, err := r.BindOrCreate(ctx, hAlice, placeholder, false, 100)
	require.NoError(t, err)
	bobPlaceholder := ir.PlaceholderAddress(hBob, "nonce")
	_, err = r.BindOrCreate(ctx, hBob, bobPlaceholder, false, 100)
	require.NoError(t, err)

	_, err = r.Rebind(ctx, hAlice, placeholder, placeholder, 150)
	assert.ErrorIs(t, err, ErrPlaceholderTarget, "an identity cannot be claimed by its own placeholder")

	_, err = r.Rebind(ctx, hAlice, placeholder, bobPlaceholder, 150)
	assert.ErrorIs(t, err, ErrPlaceholderTarget)

	got, _, err := r.Lookup(ctx, hAlice)
	require.NoError(t, err)
	assert.Equal(t, placeholder, got.Address)
	assert.False(t, got.Claimed)

	_, err = r.Rebind(ctx, hAlice, placeholder, ownerAddr, 160)
	require.NoError(t, err)
}

func TestRebind_Unbound(t *testing.T) {
	ctx := context.Background()
	r := New(newMemStore())

	b, err := r.Rebind(ctx, hAlice, placeholder, ownerAddr, 150)
	require.NoError(t, err)
	assert.True(t, b.Claimed)
	assert.Equal(t, ownerAddr, b.Address)
}

func TestRegistry_OverSQLiteStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	err = st.WithTx(ctx, func(tx *store.Tx) error {
		r := New(tx)
		if _, err := r.BindOrCreate(ctx, hAlice, placeholder, false, 100); err != nil {
			return err
		}
		_, err := r.Rebind(ctx, hAlice, placeholder, ownerAddr, 200)
		return err
	})
	require.NoError(t, err)

	b, err := st.ReadBinding(ctx, hAlice)
	require.NoError(t, err)
	assert.Equal(t, ownerAddr, b.Address)
	assert.True(t, b.Claimed)
}
