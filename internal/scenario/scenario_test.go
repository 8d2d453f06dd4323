package scenario

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"weightedVault/internal/config"
	"weightedVault/internal/model"
	"weightedVault/internal/storage"
	"weightedVault/internal/vault"
)

const (
	manager  = "0x00000000000000000000000000000000000000aa"
	feeAcct  = "0x00000000000000000000000000000000000000fe"
	vaultAcc = "0x00000000000000000000000000000000000000ee"
	alice    = "0x00000000000000000000000000000000000000a1"
	bob      = "0x00000000000000000000000000000000000000b0"
	borrower = "0x00000000000000000000000000000000000000c0"
	tokenX   = "0x1000000000000000000000000000000000000001"
	tokenY   = "0x2000000000000000000000000000000000000002"
	poolXY   = "0x00000000000000000000000000000000000000d1"
)

func vaultConfig() config.VaultConfig {
	eighteen := uint8(18)
	return config.VaultConfig{
		Address:            vaultAcc,
		Manager:            manager,
		FeeReceiver:        feeAcct,
		FeeReceiverManager: manager,
		Tokens: []config.TokenConfig{
			{Address: tokenX, Symbol: "X", Decimals: &eighteen, Balances: map[string]string{alice: "1000000000000000000000000"}},
			{Address: tokenY, Symbol: "Y", Decimals: &eighteen, Balances: map[string]string{alice: "1000000000000000000000000"}},
		},
		Pools: []config.PoolConfig{{
			ID:      poolXY,
			Assets:  []string{tokenY, tokenX},
			Weights: []string{"500000000000000000", "500000000000000000"},
			SwapFee: "3000000000000000",
		}},
	}
}

func fixedClock() uint64 { return 1000 }

const script = `# setup
{"op":"approve","token":"` + tokenX + `","holder":"` + alice + `"}
{"op":"approve","token":"` + tokenY + `","holder":"` + alice + `"}
{"op":"mint","token":"` + tokenX + `","holder":"` + borrower + `","amount":"1000000000000000000"}
{"op":"mint","token":"` + tokenY + `","holder":"` + borrower + `","amount":"1000000000000000000"}

{"op":"join","pool":"` + poolXY + `","sender":"` + alice + `","amounts":["1000000000000000000000","1000000000000000000000"]}
{"op":"swap","pool":"` + poolXY + `","sender":"` + alice + `","token_in":"` + tokenX + `","token_out":"` + tokenY + `","kind":"exact_in","amount":"10000000000000000000"}
{"op":"swap","pool":"` + poolXY + `","sender":"` + alice + `","token_in":"` + tokenX + `","token_out":"` + tokenY + `","amount":"10000000000000000000","limit":"1000000000000000000000"}
{"op":"exit-single","pool":"` + poolXY + `","sender":"` + alice + `","lp":"1000000000000000000","assets":["` + tokenY + `"]}
{"op":"dance"}
{"op":"flashloan","sender":"` + borrower + `","assets":["` + tokenX + `","` + tokenY + `"],"amounts":["1000000000000000000","1000000000000000000"]}
{"op":"flashloan","sender":"` + borrower + `","assets":["` + tokenX + `"],"amounts":["1000000000000000000"],"repay":"short"}
{"op":"set-protocol-fee","sender":"` + bob + `","fee":"1"}
{"op":"withdraw-flashloan-fees","sender":"` + manager + `","assets":["` + tokenX + `"],"amounts":["1000000000000000"],"receivers":["` + bob + `"]}
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ops.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func readOpErrors(t *testing.T, path string) []model.OpError {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	var out []model.OpError
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec model.OpError
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, scanner.Err())
	return out
}

func runScript(t *testing.T) (*World, Summary, string, *storage.Memory) {
	t.Helper()
	events := &storage.Memory{}
	world, err := Build(context.Background(), vaultConfig(), Options{Sink: events, Clock: fixedClock})
	require.NoError(t, err)

	ops, err := ReadOps(writeScript(t, script))
	require.NoError(t, err)
	require.Len(t, ops, 13)

	errPath := filepath.Join(t.TempDir(), "errors.jsonl")
	sum, err := NewRunner(world, storage.NewJsonlStorage(errPath), nil).Run(context.Background(), ops)
	require.NoError(t, err)
	return world, sum, errPath, events
}

func TestRunnerAppliesScript(t *testing.T) {
	world, sum, errPath, events := runScript(t)

	require.Equal(t, Summary{Total: 13, Applied: 9, Failed: 4}, sum)

	rejected := readOpErrors(t, errPath)
	require.Len(t, rejected, 4)
	lines := make([]int, len(rejected))
	for i, rec := range rejected {
		lines[i] = rec.Line
	}
	require.Equal(t, []int{9, 11, 13, 14}, lines)
	require.Equal(t, "swap", rejected[0].Op)
	require.Equal(t, poolXY, strings.ToLower(rejected[0].Pool))
	require.Contains(t, rejected[1].Error, "unknown op")

	x := world.Tokens[common.HexToAddress(tokenX)]
	require.Equal(t, "1000000000000000", x.BalanceOf(common.HexToAddress(bob)).Dec())
	require.True(t, x.BalanceOf(common.HexToAddress(feeAcct)).IsZero())
	require.Equal(t, "999000000000000000", x.BalanceOf(common.HexToAddress(borrower)).Dec())

	require.Len(t, events.Named(model.EventFlashloan), 1)
	require.Len(t, events.Named(model.EventSwap), 1)
	require.Len(t, events.Named(model.EventFlashloanFeesWithdrawn), 1)
	require.Equal(t, vault.FlashIdle, world.Vault.FlashState())
}

func TestBuildSortsPoolAssets(t *testing.T) {
	world, err := Build(context.Background(), vaultConfig(), Options{Clock: fixedClock})
	require.NoError(t, err)

	pool, err := world.Vault.Registry().Pool(common.HexToAddress(poolXY))
	require.NoError(t, err)
	require.Equal(t, []common.Address{common.HexToAddress(tokenX), common.HexToAddress(tokenY)}, pool.Assets)
	require.Equal(t, common.HexToAddress(feeAcct), world.FeeReceiver.Address())
}

func TestBuildRestoresSnapshot(t *testing.T) {
	world, _, _, _ := runScript(t)
	snap := world.Vault.Export()

	restored, err := Build(context.Background(), vaultConfig(), Options{Clock: fixedClock, Snapshot: &snap})
	require.NoError(t, err)
	require.Equal(t, snap, restored.Vault.Export())

	vaultAddr := common.HexToAddress(vaultAcc)
	for addr, tok := range world.Tokens {
		require.Equal(t, tok.BalanceOf(vaultAddr), restored.Tokens[addr].BalanceOf(vaultAddr))
	}

	req := vault.SwapRequest{
		Pool:     common.HexToAddress(poolXY),
		TokenIn:  common.HexToAddress(tokenY),
		TokenOut: common.HexToAddress(tokenX),
		Kind:     vault.ExactOut,
		Amount:   uint256.NewInt(5e18),
	}
	want, err := world.Vault.CalculateSwap(req)
	require.NoError(t, err)
	got, err := restored.Vault.CalculateSwap(req)
	require.NoError(t, err)
	require.Equal(t, want.AmountIn, got.AmountIn)
}

type fakeMeta struct {
	calls int
}

func (f *fakeMeta) Tokens(ctx context.Context, tokens []common.Address) ([]model.TokenMeta, error) {
	f.calls++
	out := make([]model.TokenMeta, len(tokens))
	for i, t := range tokens {
		out[i] = model.TokenMeta{Address: t.Hex(), Decimals: 6, Symbol: "FAKE"}
	}
	return out, nil
}

func TestBuildResolvesMissingDecimals(t *testing.T) {
	cfg := vaultConfig()
	cfg.Tokens[1].Decimals = nil
	cfg.Tokens[1].Symbol = ""

	_, err := Build(context.Background(), cfg, Options{Clock: fixedClock})
	require.ErrorContains(t, err, "no decimals")

	meta := &fakeMeta{}
	world, err := Build(context.Background(), cfg, Options{Clock: fixedClock, Meta: meta})
	require.NoError(t, err)
	require.Equal(t, 1, meta.calls)
	y := world.Tokens[common.HexToAddress(tokenY)]
	require.Equal(t, uint8(6), y.Decimals())
	require.Equal(t, "FAKE", y.Symbol())
}

func TestReadOpsRejectsMalformedLines(t *testing.T) {
	_, err := ReadOps(writeScript(t, "{\"op\":\"swap\"}\n{\"op\":\"swap\",\"bogus\":1}\n"))
	require.ErrorContains(t, err, "line 2")

	_, err = ReadOps(writeScript(t, "{\"pool\":\"0x1\"}\n"))
	require.ErrorContains(t, err, "missing op")
}

func TestApplyValidatesFields(t *testing.T) {
	world, err := Build(context.Background(), vaultConfig(), Options{Clock: fixedClock})
	require.NoError(t, err)
	r := NewRunner(world, nil, nil)

	err = r.Apply(Op{Op: OpSwap, Pool: "pool", Sender: alice})
	require.ErrorContains(t, err, "pool: invalid address")

	err = r.Apply(Op{Op: OpSwap, Pool: poolXY, Sender: alice, TokenIn: tokenX, TokenOut: tokenY, Kind: "sideways", Amount: "1"})
	require.ErrorContains(t, err, "unknown swap kind")

	err = r.Apply(Op{Op: OpJoin, Pool: poolXY, Sender: alice, Amounts: []string{"1", "-5"}})
	require.ErrorContains(t, err, "amounts[1]")
}

func TestJoinForLPPaysQuotedAmounts(t *testing.T) {
	world, err := Build(context.Background(), vaultConfig(), Options{Clock: fixedClock})
	require.NoError(t, err)
	r := NewRunner(world, nil, nil)
	require.NoError(t, r.Apply(Op{Op: OpApprove, Token: tokenX, Holder: alice}))
	require.NoError(t, r.Apply(Op{Op: OpApprove, Token: tokenY, Holder: alice}))
	require.NoError(t, r.Apply(Op{Op: OpJoin, Pool: poolXY, Sender: alice, Amounts: []string{"1000000000000000000000", "1000000000000000000000"}}))

	const lp = "10000000000000000000"
	err = r.Apply(Op{Op: OpJoinForLP, Pool: poolXY, Sender: alice, LP: lp, Limits: []string{"1", ""}})
	require.ErrorIs(t, err, vault.ErrSlippageExceeded)

	want, err := world.Vault.CalculateJoinForLP(common.HexToAddress(poolXY), uint256.MustFromDecimal(lp))
	require.NoError(t, err)
	x := world.Tokens[common.HexToAddress(tokenX)]
	before := x.BalanceOf(common.HexToAddress(alice))

	require.NoError(t, r.Apply(Op{Op: OpJoinForLP, Pool: poolXY, Sender: alice, LP: lp}))
	paid := new(uint256.Int).Sub(before, x.BalanceOf(common.HexToAddress(alice)))
	require.Equal(t, want[0].Dec(), paid.Dec())
}
