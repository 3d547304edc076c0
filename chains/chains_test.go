package chains

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ipfs-force-community/sophon-bridge/storage"
	"github.com/ipfs-force-community/sophon-bridge/types"
)

func TestResolve(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(ctx, storage.NewMemStore(), "")

	t.Run("builtin", func(t *testing.T) {
		c, ok := r.Resolve("0x1")
		require.True(t, ok)
		require.Equal(t, "Ethereum Mainnet", c.Name)
		require.NotEmpty(t, c.RpcUrls)
		require.False(t, c.Custom)
	})

	t.Run("case insensitive", func(t *testing.T) {
		c, ok := r.Resolve("0xA4B1")
		require.True(t, ok)
		require.Equal(t, "Arbitrum One", c.Name)
	})

	t.Run("unknown", func(t *testing.T) {
		_, ok := r.Resolve("0x539")
		require.False(t, ok)
	})
}

func TestCustomChains(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	r := NewRegistry(ctx, store, "")

	r.Add(ctx, &types.CustomChain{
		ChainID:   "0x7A69",
		ChainName: "Localnet",
		RpcUrls:   []string{"http://127.0.0.1:8545"},
		AddedBy:   "https://dapp.example",
	})

	c, ok := r.Resolve("0x7a69")
	require.True(t, ok)
	require.True(t, c.Custom)
	require.Equal(t, "Localnet", c.Name)

	// custom overrides builtin for the same id
	r.Add(ctx, &types.CustomChain{
		ChainID:   "0x1",
		ChainName: "My Fork",
		RpcUrls:   []string{"http://127.0.0.1:9545"},
	})
	c, ok = r.Resolve("0x1")
	require.True(t, ok)
	require.True(t, c.Custom)
	require.Equal(t, "My Fork", c.Name)

	// re-add for the same id overwrites
	r.Add(ctx, &types.CustomChain{
		ChainID:   "0x7a69",
		ChainName: "Localnet v2",
		RpcUrls:   []string{"http://127.0.0.1:8545"},
	})
	c, _ = r.Resolve("0x7a69")
	require.Equal(t, "Localnet v2", c.Name)
	require.Len(t, r.ListCustom(), 2)

	// custom chains survive a restart through the store
	r2 := NewRegistry(ctx, store, "")
	c, ok = r2.Resolve("0x7a69")
	require.True(t, ok)
	require.Equal(t, "Localnet v2", c.Name)
}

func TestDefault(t *testing.T) {
	ctx := context.Background()

	t.Run("configured default", func(t *testing.T) {
		r := NewRegistry(ctx, storage.NewMemStore(), "0x89")
		require.Equal(t, "0x89", r.Default())
	})

	t.Run("empty falls back", func(t *testing.T) {
		r := NewRegistry(ctx, storage.NewMemStore(), "")
		require.Equal(t, DefaultChainID, r.Default())
	})

	t.Run("unresolvable falls back", func(t *testing.T) {
		r := NewRegistry(ctx, storage.NewMemStore(), "0x539")
		require.Equal(t, DefaultChainID, r.Default())
	})
}

func TestDecimal(t *testing.T) {
	require.Equal(t, "1", Decimal("0x1"))
	require.Equal(t, "137", Decimal("0x89"))
	require.Equal(t, "42161", Decimal("0xA4B1"))
	require.Equal(t, "0", Decimal("not-hex"))
}
