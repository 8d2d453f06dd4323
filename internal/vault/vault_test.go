package vault

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"weightedVault/internal/access"
	"weightedVault/internal/model"
	"weightedVault/internal/registry"
	"weightedVault/internal/storage"
	"weightedVault/internal/token"
	"weightedVault/internal/weighted"
)

var (
	manager     = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	vaultAddr   = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	feeAccount  = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	alice       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob         = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	borrowerID  = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	tokenX      = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenY      = common.HexToAddress("0x2000000000000000000000000000000000000002")
	tokenZ      = common.HexToAddress("0x3000000000000000000000000000000000000003")
	farDeadline = uint64(1 << 40)
)

func e18(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), uint256.NewInt(1e18))
}

func units(v uint64, decimals uint8) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals))))
}

type harness struct {
	t      *testing.T
	v      *Vault
	tokens map[common.Address]*token.Memory
	events *storage.Memory
	now    uint64
}

// newHarness builds a vault over X, Y and Z, funds alice with each and
// approves the vault.
func newHarness(t *testing.T, protocolFee *uint256.Int, decimals map[common.Address]uint8) *harness {
	t.Helper()
	h := &harness{t: t, tokens: make(map[common.Address]*token.Memory), events: &storage.Memory{}, now: 1000}
	set := token.NewSet()
	for i, addr := range []common.Address{tokenX, tokenY, tokenZ} {
		d := uint8(18)
		if dd, ok := decimals[addr]; ok {
			d = dd
		}
		tok := token.NewMemory(addr, []string{"X", "Y", "Z"}[i], d)
		require.NoError(t, tok.Mint(alice, units(1_000_000, d)))
		tok.Approve(alice, vaultAddr, new(uint256.Int).SetAllOne())
		set.Add(tok)
		h.tokens[addr] = tok
	}
	v, err := New(Config{
		Address:     vaultAddr,
		Manager:     manager,
		FeeReceiver: feeAccount,
		ProtocolFee: protocolFee,
		Registry:    registry.New(manager),
		Assets:      set,
		Sink:        h.events,
		Clock:       func() uint64 { return h.now },
	})
	require.NoError(t, err)
	h.v = v
	return h
}

func (h *harness) pool(assets []common.Address, weights []*uint256.Int, salt string) registry.Pool {
	h.t.Helper()
	decimals := make([]uint8, len(assets))
	for i, a := range assets {
		decimals[i] = h.tokens[a].Decimals()
	}
	pool, err := h.v.RegisterPool(registry.PoolConfig{
		Assets:   assets,
		Weights:  weights,
		Decimals: decimals,
		SwapFee:  uint256.NewInt(3e15),
		Salt:     []byte(salt),
	})
	require.NoError(h.t, err)
	return pool
}

func (h *harness) initPool(pool registry.Pool, amounts ...*uint256.Int) JoinResult {
	h.t.Helper()
	res, err := h.v.JoinPool(JoinRequest{Pool: pool.ID, Amounts: amounts, Sender: alice, Receiver: alice, Deadline: farDeadline})
	require.NoError(h.t, err)
	return res
}

func (h *harness) balances(pool registry.Pool) []string {
	h.t.Helper()
	b, err := h.v.PoolBalances(pool.ID)
	require.NoError(h.t, err)
	return amountStrings(b)
}

func half() *uint256.Int { return uint256.NewInt(5e17) }

func zero() *uint256.Int { return new(uint256.Int) }

func TestInitializeScenario(t *testing.T) {
	h := newHarness(t, zero(), nil)
	pool := h.pool([]common.Address{tokenX, tokenY}, []*uint256.Int{half(), half()}, "xy")

	res := h.initPool(pool, e18(1000), e18(1000))
	want, err := weighted.Initialize([]*uint256.Int{e18(1000), e18(1000)}, pool.Weights)
	require.NoError(t, err)
	require.Equal(t, want.LPOut.Dec(), res.LPOut.Dec())
	require.False(t, res.LPOut.IsZero())
	require.Equal(t, model.KindInitialize, res.Kind)

	require.Equal(t, []string{e18(1000).Dec(), e18(1000).Dec()}, h.balances(pool))
	lp, err := h.v.LPBalance(pool.ID, alice)
	require.NoError(t, err)
	require.Equal(t, res.LPOut.Dec(), lp.Dec())
	supply, err := h.v.TotalSupply(pool.ID)
	require.NoError(t, err)
	require.Equal(t, res.LPOut.Dec(), supply.Dec())
	require.Equal(t, e18(1000).Dec(), h.tokens[tokenX].BalanceOf(vaultAddr).Dec())

	deposits := h.events.Named(model.EventDeposit)
	require.Len(t, deposits, 1)
	require.Equal(t, pool.ID.Hex(), deposits[0].Pool)
	require.Equal(t, model.KindInitialize, deposits[0].Decoded.(model.DepositData).Kind)
}

func TestSwapScenario(t *testing.T) {
	h := newHarness(t, zero(), nil)
	pool := h.pool([]common.Address{tokenX, tokenY}, []*uint256.Int{half(), half()}, "xy")
	h.initPool(pool, e18(1000), e18(1000))
	before, err := h.v.Invariant(pool.ID)
	require.NoError(t, err)

	req := SwapRequest{Pool: pool.ID, TokenIn: tokenX, TokenOut: tokenY, Kind: ExactIn, Amount: e18(100), Sender: alice, Receiver: bob, Deadline: farDeadline}
	quoted, err := h.v.CalculateSwap(req)
	require.NoError(t, err)
	require.Equal(t, []string{e18(1000).Dec(), e18(1000).Dec()}, h.balances(pool))

	res, err := h.v.Swap(req)
	require.NoError(t, err)
	require.Equal(t, quoted.AmountOut.Dec(), res.AmountOut.Dec())

	want, err := weighted.OutGivenIn(e18(1000), half(), e18(1000), half(), e18(100), uint256.NewInt(3e15), zero())
	require.NoError(t, err)
	require.Equal(t, want.AmountOut.Dec(), res.AmountOut.Dec())
	require.True(t, res.AmountOut.Lt(e18(100)))

	remaining := new(uint256.Int).Sub(e18(1000), res.AmountOut)
	require.Equal(t, []string{e18(1100).Dec(), remaining.Dec()}, h.balances(pool))
	require.Equal(t, res.AmountOut.Dec(), h.tokens[tokenY].BalanceOf(bob).Dec())

	after, err := h.v.Invariant(pool.ID)
	require.NoError(t, err)
	require.False(t, after.Lt(before))

	swaps := h.events.Named(model.EventSwap)
	require.Len(t, swaps, 1)
	data := swaps[0].Decoded.(model.SwapData)
	require.Equal(t, alice.Hex(), data.Sender)
	require.Equal(t, bob.Hex(), data.Receiver)
	require.Equal(t, res.AmountOut.Dec(), data.AmountOut)
}

func TestSwapAccruesProtocolFee(t *testing.T) {
	rate := uint256.NewInt(2e17)
	h := newHarness(t, rate, nil)
	pool := h.pool([]common.Address{tokenX, tokenY}, []*uint256.Int{half(), half()}, "xy")
	h.initPool(pool, e18(1000), e18(1000))

	res, err := h.v.Swap(SwapRequest{Pool: pool.ID, TokenIn: tokenX, TokenOut: tokenY, Amount: e18(100), Sender: alice, Receiver: alice, Deadline: farDeadline})
	require.NoError(t, err)
	hop := res.Hops[0]
	require.Equal(t, "300000000000000000", hop.Fee.Dec())
	require.Equal(t, "60000000000000000", hop.ProtocolFee.Dec())
	require.Equal(t, hop.ProtocolFee.Dec(), h.v.CollectedFees(tokenX).Dec())

	kept := new(uint256.Int).Sub(e18(1100), hop.ProtocolFee)
	require.Equal(t, kept.Dec(), h.balances(pool)[0])
	require.Equal(t, e18(1100).Dec(), h.tokens[tokenX].BalanceOf(vaultAddr).Dec())
}

func TestSwapExactOutAndSlippage(t *testing.T) {
	h := newHarness(t, zero(), nil)
	pool := h.pool([]common.Address{tokenX, tokenY}, []*uint256.Int{uint256.NewInt(8e17), uint256.NewInt(2e17)}, "xy")
	h.initPool(pool, e18(1000), e18(1000))

	req := SwapRequest{Pool: pool.ID, TokenIn: tokenX, TokenOut: tokenY, Kind: ExactOut, Amount: e18(50), Sender: alice, Receiver: bob, Deadline: farDeadline}
	quote, err := h.v.CalculateSwap(req)
	require.NoError(t, err)

	req.Limit = new(uint256.Int).SubUint64(quote.AmountIn, 1)
	_, err = h.v.Swap(req)
	require.ErrorIs(t, err, ErrSlippageExceeded)
	require.Equal(t, []string{e18(1000).Dec(), e18(1000).Dec()}, h.balances(pool))
	require.True(t, h.tokens[tokenY].BalanceOf(bob).IsZero())

	req.Limit = quote.AmountIn
	res, err := h.v.Swap(req)
	require.NoError(t, err)
	require.Equal(t, quote.AmountIn.Dec(), res.AmountIn.Dec())
	require.Equal(t, e18(50).Dec(), h.tokens[tokenY].BalanceOf(bob).Dec())
	require.Equal(t, new(uint256.Int).Add(e18(1000), res.AmountIn).Dec(), h.balances(pool)[0])
}

func TestSwapRejectsBadTokensAndDeadline(t *testing.T) {
	h := newHarness(t, zero(), nil)
	pool := h.pool([]common.Address{tokenX, tokenY}, []*uint256.Int{half(), half()}, "xy")
	h.initPool(pool, e18(1000), e18(1000))

	base := SwapRequest{Pool: pool.ID, TokenIn: tokenX, TokenOut: tokenY, Amount: e18(1), Sender: alice, Receiver: alice, Deadline: farDeadline}

	same := base
	same.TokenOut = tokenX
	_, err := h.v.Swap(same)
	require.ErrorIs(t, err, ErrSameToken)

	foreign := base
	foreign.TokenOut = tokenZ
	_, err = h.v.Swap(foreign)
	require.ErrorIs(t, err, ErrInvalidToken)

	unknown := base
	unknown.Pool = common.HexToAddress("0x0000000000000000000000000000000000000bad")
	_, err = h.v.Swap(unknown)
	require.ErrorIs(t, err, ErrUnknownPool)

	stale := base
	stale.Deadline = h.now - 1
	_, err = h.v.Swap(stale)
	require.ErrorIs(t, err, ErrDeadlineExpired)

	big := base
	big.Amount = e18(400)
	_, err = h.v.Swap(big)
	require.ErrorIs(t, err, weighted.ErrSwapInLimit)

	require.Equal(t, []string{e18(1000).Dec(), e18(1000).Dec()}, h.balances(pool))
	require.Empty(t, h.events.Named(model.EventSwap))
}

func TestRouteMatchesComposedQuotes(t *testing.T) {
	h := newHarness(t, zero(), nil)
	poolA := h.pool([]common.Address{tokenX, tokenY}, []*uint256.Int{half(), half()}, "a")
	poolB := h.pool([]common.Address{tokenY, tokenZ}, []*uint256.Int{uint256.NewInt(6e17), uint256.NewInt(4e17)}, "b")
	h.initPool(poolA, e18(1000), e18(1000))
	h.initPool(poolB, e18(1000), e18(1000))

	fee := uint256.NewInt(3e15)
	first, err := weighted.OutGivenIn(e18(1000), half(), e18(1000), half(), e18(100), fee, zero())
	require.NoError(t, err)
	second, err := weighted.OutGivenIn(e18(1000), uint256.NewInt(6e17), e18(1000), uint256.NewInt(4e17), first.AmountOut, fee, zero())
	require.NoError(t, err)

	res, err := h.v.SwapRoute(RouteRequest{
		Hops: []Hop{
			{Pool: poolA.ID, TokenIn: tokenX, TokenOut: tokenY},
			{Pool: poolB.ID, TokenIn: tokenY, TokenOut: tokenZ},
		},
		Kind:     ExactIn,
		Amount:   e18(100),
		Limit:    second.AmountOut,
		Sender:   alice,
		Receiver: bob,
		Deadline: farDeadline,
	})
	require.NoError(t, err)
	require.Equal(t, second.AmountOut.Dec(), res.AmountOut.Dec())
	require.Equal(t, first.AmountOut.Dec(), res.Hops[0].AmountOut.Dec())
	require.Equal(t, first.AmountOut.Dec(), res.Hops[1].AmountIn.Dec())

	require.Equal(t, []string{e18(1100).Dec(), new(uint256.Int).Sub(e18(1000), first.AmountOut).Dec()}, h.balances(poolA))
	require.Equal(t, []string{new(uint256.Int).Add(e18(1000), first.AmountOut).Dec(), new(uint256.Int).Sub(e18(1000), second.AmountOut).Dec()}, h.balances(poolB))
	require.Equal(t, e18(2000).Dec(), h.tokens[tokenY].BalanceOf(vaultAddr).Dec())
	require.Equal(t, second.AmountOut.Dec(), h.tokens[tokenZ].BalanceOf(bob).Dec())

	swaps := h.events.Named(model.EventSwap)
	require.Len(t, swaps, 2)
	require.Equal(t, vaultAddr.Hex(), swaps[0].Decoded.(model.SwapData).Receiver)
	require.Equal(t, vaultAddr.Hex(), swaps[1].Decoded.(model.SwapData).Sender)
	require.Less(t, swaps[0].Seq, swaps[1].Seq)
}

func TestRouteLimitCheckedAtEnd(t *testing.T) {
	h := newHarness(t, zero(), nil)
	poolA := h.pool([]common.Address{tokenX, tokenY}, []*uint256.Int{half(), half()}, "a")
	poolB := h.pool([]common.Address{tokenY, tokenZ}, []*uint256.Int{half(), half()}, "b")
	h.initPool(poolA, e18(1000), e18(1000))
	h.initPool(poolB, e18(1000), e18(1000))

	req := RouteRequest{
		Hops: []Hop{
			{Pool: poolA.ID, TokenIn: tokenX, TokenOut: tokenY},
			{Pool: poolB.ID, TokenIn: tokenY, TokenOut: tokenZ},
		},
		Kind:     ExactOut,
		Amount:   e18(50),
		Sender:   alice,
		Receiver: bob,
		Deadline: farDeadline,
	}
	quote, err := h.v.CalculateRoute(req)
	require.NoError(t, err)
	require.Equal(t, quote.Hops[0].AmountOut.Dec(), quote.Hops[1].AmountIn.Dec())

	req.Limit = new(uint256.Int).SubUint64(quote.AmountIn, 1)
	_, err = h.v.SwapRoute(req)
	require.ErrorIs(t, err, ErrSlippageExceeded)
	require.Equal(t, []string{e18(1000).Dec(), e18(1000).Dec()}, h.balances(poolA))
	require.Equal(t, []string{e18(1000).Dec(), e18(1000).Dec()}, h.balances(poolB))

	req.Limit = quote.AmountIn
	res, err := h.v.SwapRoute(req)
	require.NoError(t, err)
	require.Equal(t, e18(50).Dec(), res.AmountOut.Dec())
	require.Equal(t, quote.AmountIn.Dec(), res.AmountIn.Dec())
}

func TestRouteReusesPoolWithUpdatedReserves(t *testing.T) {
	h := newHarness(t, zero(), nil)
	pool := h.pool([]common.Address{tokenX, tokenY}, []*uint256.Int{half(), half()}, "xy")
	h.initPool(pool, e18(1000), e18(1000))

	fee := uint256.NewInt(3e15)
	first, err := weighted.OutGivenIn(e18(1000), half(), e18(1000), half(), e18(100), fee, zero())
	require.NoError(t, err)
	yLeft := new(uint256.Int).Sub(e18(1000), first.AmountOut)
	back, err := weighted.OutGivenIn(yLeft, half(), e18(1100), half(), first.AmountOut, fee, zero())
	require.NoError(t, err)

	res, err := h.v.SwapRoute(RouteRequest{
		Hops: []Hop{
			{Pool: pool.ID, TokenIn: tokenX, TokenOut: tokenY},
			{Pool: pool.ID, TokenIn: tokenY, TokenOut: tokenX},
		},
		Amount:   e18(100),
		Sender:   alice,
		Receiver: alice,
		Deadline: farDeadline,
	})
	require.NoError(t, err)
	require.Equal(t, back.AmountOut.Dec(), res.AmountOut.Dec())
	require.True(t, res.AmountOut.Lt(e18(100)))
}

func TestExactOutRouteReusesPoolWithUpdatedReserves(t *testing.T) {
	h := newHarness(t, zero(), nil)
	pool := h.pool([]common.Address{tokenX, tokenY}, []*uint256.Int{half(), half()}, "xy")
	h.initPool(pool, e18(1000), e18(1000))

	hops := []Hop{
		{Pool: pool.ID, TokenIn: tokenX, TokenOut: tokenY},
		{Pool: pool.ID, TokenIn: tokenY, TokenOut: tokenX},
	}
	req := RouteRequest{Hops: hops, Kind: ExactOut, Amount: e18(50), Sender: alice, Receiver: alice, Deadline: farDeadline}
	quote, err := h.v.CalculateRoute(req)
	require.NoError(t, err)
	require.Equal(t, quote.Hops[0].AmountOut.Dec(), quote.Hops[1].AmountIn.Dec())
	require.False(t, quote.AmountOut.Lt(e18(50)))
	require.True(t, new(uint256.Int).Sub(quote.AmountOut, e18(50)).Lt(uint256.NewInt(1000)))

	// The quoted input is the smallest one that delivers the amount.
	forward := RouteRequest{Hops: hops, Kind: ExactIn, Amount: quote.AmountIn, Sender: alice, Receiver: alice, Deadline: farDeadline}
	same, err := h.v.CalculateRoute(forward)
	require.NoError(t, err)
	require.Equal(t, quote.AmountOut.Dec(), same.AmountOut.Dec())
	forward.Amount = new(uint256.Int).SubUint64(quote.AmountIn, 1)
	less, err := h.v.CalculateRoute(forward)
	require.NoError(t, err)
	require.True(t, less.AmountOut.Lt(e18(50)))

	// Pricing the second hop against untouched reserves gives another answer.
	fresh, err := h.v.CalculateSwap(SwapRequest{Pool: pool.ID, TokenIn: tokenY, TokenOut: tokenX, Kind: ExactOut, Amount: e18(50), Sender: alice, Receiver: alice, Deadline: farDeadline})
	require.NoError(t, err)
	require.NotEqual(t, fresh.AmountIn.Dec(), quote.Hops[1].AmountIn.Dec())

	res, err := h.v.SwapRoute(req)
	require.NoError(t, err)
	require.Equal(t, quote.AmountIn.Dec(), res.AmountIn.Dec())
	require.Equal(t, quote.AmountOut.Dec(), res.AmountOut.Dec())
	require.Equal(t, amountStrings([]*uint256.Int{quote.Hops[0].AmountIn, quote.Hops[1].AmountIn}), amountStrings([]*uint256.Int{res.Hops[0].AmountIn, res.Hops[1].AmountIn}))
}

func TestRouteValidation(t *testing.T) {
	h := newHarness(t, zero(), nil)
	poolA := h.pool([]common.Address{tokenX, tokenY}, []*uint256.Int{half(), half()}, "a")
	poolB := h.pool([]common.Address{tokenY, tokenZ}, []*uint256.Int{half(), half()}, "b")
	h.initPool(poolA, e18(1000), e18(1000))
	h.initPool(poolB, e18(1000), e18(1000))

	_, err := h.v.SwapRoute(RouteRequest{Amount: e18(1), Sender: alice, Receiver: alice, Deadline: farDeadline})
	require.ErrorIs(t, err, ErrEmptyRoute)

	_, err = h.v.SwapRoute(RouteRequest{
		Hops: []Hop{
			{Pool: poolA.ID, TokenIn: tokenX, TokenOut: tokenY},
			{Pool: poolB.ID, TokenIn: tokenZ, TokenOut: tokenY},
		},
		Amount:   e18(1),
		Sender:   alice,
		Receiver: alice,
		Deadline: farDeadline,
	})
	require.ErrorIs(t, err, ErrRouteMismatch)
}

func TestJoinAndExitVariants(t *testing.T) {
	h := newHarness(t, uint256.NewInt(1e17), nil)
	pool := h.pool([]common.Address{tokenX, tokenY}, []*uint256.Int{half(), half()}, "xy")
	initial := h.initPool(pool, e18(1000), e18(1000))

	single := JoinRequest{Pool: pool.ID, Assets: []common.Address{tokenX}, Amounts: []*uint256.Int{e18(10)}, Sender: alice, Receiver: bob, Deadline: farDeadline}
	want, err := weighted.JoinSingleToken(0, e18(10), []*uint256.Int{e18(1000), e18(1000)}, pool.Weights, initial.LPOut, pool.SwapFee, uint256.NewInt(1e17))
	require.NoError(t, err)
	joined, err := h.v.JoinPoolSingleAsset(single)
	require.NoError(t, err)
	require.Equal(t, want.LPOut.Dec(), joined.LPOut.Dec())
	require.False(t, joined.Fees[0].IsZero())
	require.Equal(t, joined.ProtocolFees[0].Dec(), h.v.CollectedFees(tokenX).Dec())

	exitSingle, err := h.v.ExitPoolSingleAsset(ExitRequest{Pool: pool.ID, LPIn: joined.LPOut, Assets: []common.Address{tokenX}, Sender: bob, Receiver: bob, Deadline: farDeadline})
	require.NoError(t, err)
	require.True(t, exitSingle.AmountsOut[0].Lt(e18(10)))
	require.True(t, exitSingle.AmountsOut[1].IsZero())
	require.Equal(t, exitSingle.AmountsOut[0].Dec(), h.tokens[tokenX].BalanceOf(bob).Dec())
	lp, err := h.v.LPBalance(pool.ID, bob)
	require.NoError(t, err)
	require.True(t, lp.IsZero())

	partial, err := h.v.ExitPoolPartial(ExitRequest{Pool: pool.ID, Assets: []common.Address{tokenY}, Amounts: []*uint256.Int{e18(5)}, Sender: alice, Receiver: alice, Deadline: farDeadline})
	require.NoError(t, err)
	require.False(t, partial.LPIn.IsZero())
	require.Equal(t, e18(5).Dec(), partial.AmountsOut[1].Dec())

	_, err = h.v.ExitPoolPartial(ExitRequest{Pool: pool.ID, Assets: []common.Address{tokenY}, Amounts: []*uint256.Int{e18(5)}, MaxLPIn: uint256.NewInt(1), Sender: alice, Receiver: alice, Deadline: farDeadline})
	require.ErrorIs(t, err, ErrSlippageExceeded)
}

func TestExitPoolIsProportional(t *testing.T) {
	h := newHarness(t, uint256.NewInt(1e17), nil)
	pool := h.pool([]common.Address{tokenX, tokenY}, []*uint256.Int{uint256.NewInt(7e17), uint256.NewInt(3e17)}, "xy")
	initial := h.initPool(pool, e18(700), e18(300))

	lpIn := new(uint256.Int).Div(initial.LPOut, uint256.NewInt(10))
	want, err := weighted.Exit([]*uint256.Int{e18(700), e18(300)}, lpIn, initial.LPOut)
	require.NoError(t, err)

	res, err := h.v.ExitPool(ExitRequest{Pool: pool.ID, LPIn: lpIn, Sender: alice, Receiver: bob, Deadline: farDeadline})
	require.NoError(t, err)
	require.Equal(t, amountStrings(want.AmountsOut), amountStrings(res.AmountsOut))
	require.Equal(t, []string{"0", "0"}, amountStrings(res.Fees))
	require.True(t, h.v.CollectedFees(tokenX).IsZero())

	supply, err := h.v.TotalSupply(pool.ID)
	require.NoError(t, err)
	require.Equal(t, new(uint256.Int).Sub(initial.LPOut, lpIn).Dec(), supply.Dec())
	require.Equal(t, new(uint256.Int).Sub(e18(700), res.AmountsOut[0]).Dec(), h.balances(pool)[0])

	_, err = h.v.ExitPool(ExitRequest{Pool: pool.ID, LPIn: lpIn, Sender: bob, Receiver: bob, Deadline: farDeadline})
	require.ErrorIs(t, err, ErrInsufficientLP)

	tooMuch := []*uint256.Int{e18(1000), nil}
	_, err = h.v.ExitPool(ExitRequest{Pool: pool.ID, LPIn: lpIn, MinAmountsOut: tooMuch, Sender: alice, Receiver: alice, Deadline: farDeadline})
	require.ErrorIs(t, err, ErrSlippageExceeded)
}

func TestExitPoolRejectsWholeSupply(t *testing.T) {
	h := newHarness(t, zero(), nil)
	pool := h.pool([]common.Address{tokenX, tokenY}, []*uint256.Int{half(), half()}, "xy")
	initial := h.initPool(pool, e18(1000), e18(1000))

	req := ExitRequest{Pool: pool.ID, LPIn: initial.LPOut, Sender: alice, Receiver: alice, Deadline: farDeadline}
	_, err := h.v.CalculateExitPool(req)
	require.ErrorIs(t, err, weighted.ErrInvariantViolation)
	_, err = h.v.ExitPool(req)
	require.ErrorIs(t, err, weighted.ErrInvariantViolation)

	require.Equal(t, []string{e18(1000).Dec(), e18(1000).Dec()}, h.balances(pool))
	supply, err := h.v.TotalSupply(pool.ID)
	require.NoError(t, err)
	require.Equal(t, initial.LPOut.Dec(), supply.Dec())
	require.Equal(t, e18(1000).Dec(), h.tokens[tokenX].BalanceOf(vaultAddr).Dec())
	require.Empty(t, h.events.Named(model.EventWithdraw))

	req.LPIn = new(uint256.Int).SubUint64(initial.LPOut, 1)
	res, err := h.v.ExitPool(req)
	require.NoError(t, err)
	for i, b := range h.balances(pool) {
		require.NotEqual(t, "0", b)
		require.True(t, res.AmountsOut[i].Lt(e18(1000)))
	}
}

func TestCalculateJoinForLPRoundsUp(t *testing.T) {
	h := newHarness(t, zero(), map[common.Address]uint8{tokenY: 6})
	pool := h.pool([]common.Address{tokenX, tokenY}, []*uint256.Int{uint256.NewInt(7e17), uint256.NewInt(3e17)}, "xy")
	initial := h.initPool(pool, units(700, 18), units(300, 6))

	lp := new(uint256.Int).Div(initial.LPOut, uint256.NewInt(3))
	lp.AddUint64(lp, 1)
	amounts, err := h.v.CalculateJoinForLP(pool.ID, lp)
	require.NoError(t, err)

	ceil := func(balance *uint256.Int) string {
		q, r := new(uint256.Int).DivMod(new(uint256.Int).Mul(balance, lp), initial.LPOut, new(uint256.Int))
		if !r.IsZero() {
			q.AddUint64(q, 1)
		}
		return q.Dec()
	}
	require.Equal(t, []string{ceil(units(700, 18)), ceil(units(300, 6))}, amountStrings(amounts))

	res, err := h.v.JoinPool(JoinRequest{Pool: pool.ID, Amounts: amounts, Sender: alice, Receiver: bob, Deadline: farDeadline})
	require.NoError(t, err)
	gap := new(uint256.Int).Sub(lp, res.LPOut)
	if res.LPOut.Gt(lp) {
		gap.Sub(res.LPOut, lp)
	}
	require.True(t, gap.Lt(new(uint256.Int).Div(lp, uint256.NewInt(1e9))), "minted %s for %s", res.LPOut.Dec(), lp.Dec())

	_, err = h.v.CalculateJoinForLP(common.HexToAddress("0x9999"), lp)
	require.Error(t, err)
}

func TestRegisterPoolChecksAssetDecimals(t *testing.T) {
	h := newHarness(t, zero(), nil)
	_, err := h.v.RegisterPool(registry.PoolConfig{
		Assets:   []common.Address{tokenX, tokenY},
		Weights:  []*uint256.Int{half(), half()},
		Decimals: []uint8{18, 6},
		SwapFee:  uint256.NewInt(3e15),
		Salt:     []byte("xy"),
	})
	require.ErrorIs(t, err, ErrAssetDecimals)
	require.ErrorIs(t, err, registry.ErrConfiguration)
	require.Empty(t, h.v.Registry().Pools())
}

func TestJoinSlippageAndDeadlineLeaveStateUntouched(t *testing.T) {
	h := newHarness(t, zero(), nil)
	pool := h.pool([]common.Address{tokenX, tokenY}, []*uint256.Int{half(), half()}, "xy")

	_, err := h.v.JoinPool(JoinRequest{Pool: pool.ID, Amounts: []*uint256.Int{e18(1000), e18(1000)}, Sender: alice, Receiver: alice, Deadline: h.now - 1})
	require.ErrorIs(t, err, ErrDeadlineExpired)

	_, err = h.v.JoinPool(JoinRequest{Pool: pool.ID, Amounts: []*uint256.Int{e18(1000), e18(1000)}, MinLPOut: e18(1_000_000), Sender: alice, Receiver: alice, Deadline: farDeadline})
	require.ErrorIs(t, err, ErrSlippageExceeded)

	_, err = h.v.JoinPool(JoinRequest{Pool: pool.ID, Amounts: []*uint256.Int{e18(1000), zero()}, Sender: alice, Receiver: alice, Deadline: farDeadline})
	require.ErrorIs(t, err, weighted.ErrZeroContribution)

	require.Equal(t, []string{"0", "0"}, h.balances(pool))
	require.True(t, h.tokens[tokenX].BalanceOf(vaultAddr).IsZero())
	require.Empty(t, h.events.Named(model.EventDeposit))
}

func TestJoinTransferFailureRollsBack(t *testing.T) {
	h := newHarness(t, zero(), nil)
	pool := h.pool([]common.Address{tokenX, tokenY}, []*uint256.Int{half(), half()}, "xy")
	h.tokens[tokenY].Approve(alice, vaultAddr, e18(1))

	_, err := h.v.JoinPool(JoinRequest{Pool: pool.ID, Amounts: []*uint256.Int{e18(1000), e18(1000)}, Sender: alice, Receiver: alice, Deadline: farDeadline})
	require.ErrorIs(t, err, token.ErrInsufficientAllowance)
	require.True(t, h.tokens[tokenX].BalanceOf(vaultAddr).IsZero())
	require.Equal(t, units(1_000_000, 18).Dec(), h.tokens[tokenX].BalanceOf(alice).Dec())
	require.Equal(t, []string{"0", "0"}, h.balances(pool))
}

func TestMixedDecimals(t *testing.T) {
	h := newHarness(t, zero(), map[common.Address]uint8{tokenX: 6})
	pool := h.pool([]common.Address{tokenX, tokenY}, []*uint256.Int{half(), half()}, "xy")
	h.initPool(pool, units(1000, 6), e18(1000))
	require.Equal(t, []string{units(1000, 6).Dec(), e18(1000).Dec()}, h.balances(pool))

	res, err := h.v.Swap(SwapRequest{Pool: pool.ID, TokenIn: tokenX, TokenOut: tokenY, Amount: units(100, 6), Sender: alice, Receiver: bob, Deadline: farDeadline})
	require.NoError(t, err)
	want, err := weighted.OutGivenIn(e18(1000), half(), e18(1000), half(), e18(100), uint256.NewInt(3e15), zero())
	require.NoError(t, err)
	require.Equal(t, want.AmountOut.Dec(), res.AmountOut.Dec())
	require.Equal(t, "300000", res.Hops[0].Fee.Dec())

	back, err := h.v.Swap(SwapRequest{Pool: pool.ID, TokenIn: tokenY, TokenOut: tokenX, Amount: res.AmountOut, Sender: bob, Receiver: bob, Deadline: farDeadline})
	require.Error(t, err, "bob has not approved the vault")
	require.Nil(t, back.AmountOut)
}

func TestWithdrawCollectedFees(t *testing.T) {
	h := newHarness(t, uint256.NewInt(5e17), nil)
	pool := h.pool([]common.Address{tokenX, tokenY}, []*uint256.Int{half(), half()}, "xy")
	h.initPool(pool, e18(1000), e18(1000))
	_, err := h.v.Swap(SwapRequest{Pool: pool.ID, TokenIn: tokenX, TokenOut: tokenY, Amount: e18(100), Sender: alice, Receiver: alice, Deadline: farDeadline})
	require.NoError(t, err)
	accrued := h.v.CollectedFees(tokenX)
	require.Equal(t, "150000000000000000", accrued.Dec())

	tokens := []common.Address{tokenX}
	receivers := []common.Address{bob}
	err = h.v.WithdrawCollectedFees(alice, tokens, []*uint256.Int{accrued}, receivers)
	require.ErrorIs(t, err, ErrUnauthorized)

	err = h.v.WithdrawCollectedFees(manager, tokens, []*uint256.Int{new(uint256.Int).AddUint64(accrued, 1)}, receivers)
	require.ErrorIs(t, err, ErrInsufficientFees)

	require.NoError(t, h.v.WithdrawCollectedFees(manager, tokens, []*uint256.Int{accrued}, receivers))
	require.True(t, h.v.CollectedFees(tokenX).IsZero())
	require.Equal(t, accrued.Dec(), h.tokens[tokenX].BalanceOf(bob).Dec())
	require.Len(t, h.events.Named(model.EventProtocolFeesWithdrawn), 1)
}

func TestAdminSetters(t *testing.T) {
	h := newHarness(t, zero(), nil)
	pool := h.pool([]common.Address{tokenX, tokenY}, []*uint256.Int{half(), half()}, "xy")

	require.ErrorIs(t, h.v.SetProtocolFee(alice, uint256.NewInt(1e17)), ErrUnauthorized)
	require.ErrorIs(t, h.v.SetProtocolFee(manager, e18(2)), registry.ErrConfiguration)
	require.NoError(t, h.v.SetProtocolFee(manager, uint256.NewInt(1e17)))
	require.Equal(t, "100000000000000000", h.v.ProtocolFee().Dec())

	require.ErrorIs(t, h.v.SetFlashloanFee(manager, e18(2)), ErrFeeTooHigh)
	require.NoError(t, h.v.SetFlashloanFee(manager, uint256.NewInt(5e15)))
	require.Equal(t, "5000000000000000", h.v.FlashloanFee().Dec())

	require.ErrorIs(t, h.v.SetSwapFee(manager, pool.ID, uint256.NewInt(6e15)), registry.ErrFeeTooHigh)
	require.NoError(t, h.v.SetSwapFee(manager, pool.ID, uint256.NewInt(1e15)))
	updated, err := h.v.Registry().Pool(pool.ID)
	require.NoError(t, err)
	require.Equal(t, "1000000000000000", updated.SwapFee.Dec())

	require.ErrorIs(t, h.v.SetFeeReceiver(manager, common.Address{}), access.ErrZeroAddress)
	require.NoError(t, h.v.SetFeeReceiver(manager, bob))
	require.Equal(t, bob, h.v.FeeReceiverAddress())

	require.ErrorIs(t, h.v.ChangeManager(manager, common.Address{}), access.ErrZeroAddress)
	require.NoError(t, h.v.ChangeManager(manager, alice))
	require.Equal(t, alice, h.v.Manager())
	require.ErrorIs(t, h.v.SetProtocolFee(manager, zero()), ErrUnauthorized)

	names := make([]string, 0, len(h.events.Events))
	for _, ev := range h.events.Events {
		names = append(names, ev.EventName)
	}
	require.Equal(t, []string{
		model.EventPoolRegistered,
		model.EventProtocolFeeUpdate,
		model.EventFlashloanFeeUpdate,
		model.EventSwapFeeUpdate,
		model.EventFeeReceiverUpdate,
		model.EventManagerUpdate,
	}, names)
}

func TestExportImport(t *testing.T) {
	h := newHarness(t, uint256.NewInt(1e17), nil)
	pool := h.pool([]common.Address{tokenX, tokenY}, []*uint256.Int{half(), half()}, "xy")
	h.initPool(pool, e18(1000), e18(1000))
	_, err := h.v.Swap(SwapRequest{Pool: pool.ID, TokenIn: tokenX, TokenOut: tokenY, Amount: e18(10), Sender: alice, Receiver: bob, Deadline: farDeadline})
	require.NoError(t, err)

	snap := h.v.Export()
	require.Len(t, snap.Pools, 1)
	require.Equal(t, h.v.CollectedFees(tokenX).Dec(), snap.Accrued[tokenX.Hex()])

	restored := newHarness(t, nil, nil)
	require.NoError(t, restored.v.Import(snap))
	require.Equal(t, h.balances(pool), restored.balances(pool))
	for _, holder := range []common.Address{alice, bob} {
		want, err := h.v.LPBalance(pool.ID, holder)
		require.NoError(t, err)
		got, err := restored.v.LPBalance(pool.ID, holder)
		require.NoError(t, err)
		require.Equal(t, want.Dec(), got.Dec())
	}
	require.Equal(t, h.v.CollectedFees(tokenX).Dec(), restored.v.CollectedFees(tokenX).Dec())
	require.Equal(t, h.v.ProtocolFee().Dec(), restored.v.ProtocolFee().Dec())
	require.Equal(t, snap.Seq, restored.v.Export().Seq)

	require.Error(t, restored.v.Import(snap))
}

func TestErrorsAreDistinct(t *testing.T) {
	require.False(t, errors.Is(ErrSlippageExceeded, ErrDeadlineExpired))
	require.True(t, errors.Is(ErrFeeTooHigh, registry.ErrConfiguration))
}
