package registry

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"weightedVault/internal/access"
	"weightedVault/internal/fixedpoint"
)

var (
	manager = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenA  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenB  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	tokenC  = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

func half() *uint256.Int { return uint256.NewInt(5e17) }

func validConfig() PoolConfig {
	return PoolConfig{
		Assets:   []common.Address{tokenA, tokenB},
		Weights:  []*uint256.Int{half(), half()},
		Decimals: []uint8{18, 6},
		SwapFee:  uint256.NewInt(3e15),
	}
}

func TestRegisterDerivesID(t *testing.T) {
	r := New(manager)
	pool, err := r.Register(validConfig())
	require.NoError(t, err)
	require.Equal(t, DerivePoolID(pool.Assets, pool.Weights, nil), pool.ID)
	require.Equal(t, "1", pool.Multipliers[0].Dec())
	require.Equal(t, "1000000000000", pool.Multipliers[1].Dec())

	got, err := r.Pool(pool.ID)
	require.NoError(t, err)
	require.Equal(t, pool.Assets, got.Assets)

	idx, ok := got.IndexOf(tokenB)
	require.True(t, ok)
	require.Equal(t, 1, idx)

	_, err = r.Register(validConfig())
	require.ErrorIs(t, err, ErrPoolExists)

	salted := validConfig()
	salted.Salt = []byte("second")
	second, err := r.Register(salted)
	require.NoError(t, err)
	require.NotEqual(t, pool.ID, second.ID)
	require.Len(t, r.Pools(), 2)
}

func TestRegisterRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*PoolConfig)
		want   error
	}{
		{"one asset", func(c *PoolConfig) {
			c.Assets = c.Assets[:1]
			c.Weights = []*uint256.Int{fixedpoint.One()}
			c.Decimals = c.Decimals[:1]
		}, ErrTooFewAssets},
		{"duplicate", func(c *PoolConfig) { c.Assets = []common.Address{tokenA, tokenA} }, ErrDuplicateAsset},
		{"unsorted", func(c *PoolConfig) { c.Assets = []common.Address{tokenB, tokenA} }, ErrUnsortedAssets},
		{"weights sum", func(c *PoolConfig) { c.Weights = []*uint256.Int{half(), uint256.NewInt(4e17)} }, ErrBadWeights},
		{"fee", func(c *PoolConfig) { c.SwapFee = uint256.NewInt(6e15) }, ErrFeeTooHigh},
		{"decimals", func(c *PoolConfig) { c.Decimals = []uint8{18, 24} }, ErrConfiguration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			_, err := New(manager).Register(cfg)
			require.ErrorIs(t, err, tc.want)
			require.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestAssetDecimalsFixed(t *testing.T) {
	r := New(manager)
	_, err := r.Register(validConfig())
	require.NoError(t, err)

	cfg := PoolConfig{
		Assets:   []common.Address{tokenB, tokenC},
		Weights:  []*uint256.Int{half(), half()},
		Decimals: []uint8{18, 18},
		SwapFee:  uint256.NewInt(1e15),
	}
	_, err = r.Register(cfg)
	require.ErrorIs(t, err, ErrDecimalsMismatch)

	cfg.Decimals = []uint8{6, 18}
	_, err = r.Register(cfg)
	require.NoError(t, err)
	d, ok := r.AssetDecimals(tokenB)
	require.True(t, ok)
	require.Equal(t, uint8(6), d)
}

func TestSetSwapFee(t *testing.T) {
	r := New(manager)
	pool, err := r.Register(validConfig())
	require.NoError(t, err)

	require.ErrorIs(t, r.SetSwapFee(tokenA, pool.ID, uint256.NewInt(1e15)), access.ErrUnauthorized)
	require.ErrorIs(t, r.SetSwapFee(manager, pool.ID, uint256.NewInt(5e15+1)), ErrFeeTooHigh)
	require.ErrorIs(t, r.SetSwapFee(manager, tokenC, uint256.NewInt(1e15)), ErrUnknownPool)
	require.NoError(t, r.SetSwapFee(manager, pool.ID, uint256.NewInt(5e15)))

	got, err := r.Pool(pool.ID)
	require.NoError(t, err)
	require.Equal(t, "5000000000000000", got.SwapFee.Dec())

	require.NoError(t, r.ChangeManager(manager, tokenC))
	require.Equal(t, tokenC, r.Manager())
}
