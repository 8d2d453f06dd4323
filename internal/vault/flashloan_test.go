package vault

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"weightedVault/internal/model"
	"weightedVault/internal/registry"
	"weightedVault/internal/token"
)

type testBorrower struct {
	h        *harness
	shortBy  map[common.Address]uint64
	onLoan   func(v *Vault) error
	observed FlashState
	fees     []*uint256.Int
}

func (b *testBorrower) Address() common.Address { return borrowerID }

func (b *testBorrower) OnFlashloan(v *Vault, tokens []common.Address, amounts, fees []*uint256.Int) error {
	b.observed = v.FlashState()
	b.fees = fees
	if b.onLoan != nil {
		if err := b.onLoan(v); err != nil {
			return err
		}
	}
	for i, addr := range tokens {
		due := new(uint256.Int).Add(amounts[i], fees[i])
		due.SubUint64(due, b.shortBy[addr])
		if err := b.h.tokens[addr].Transfer(borrowerID, v.Address(), due); err != nil {
			return err
		}
	}
	return nil
}

func flashHarness(t *testing.T) (*harness, registry.Pool, *testBorrower) {
	t.Helper()
	h := newHarness(t, zero(), nil)
	assets := []common.Address{tokenX, tokenY, tokenZ}
	pool := h.pool(assets, []*uint256.Int{uint256.NewInt(4e17), uint256.NewInt(3e17), uint256.NewInt(3e17)}, "xyz")
	h.initPool(pool, e18(1000), e18(1000), e18(1000))
	for _, addr := range assets {
		require.NoError(t, h.tokens[addr].Mint(borrowerID, e18(1)))
	}
	return h, pool, &testBorrower{h: h, shortBy: map[common.Address]uint64{}}
}

func hundreds() []*uint256.Int {
	return []*uint256.Int{e18(100), e18(100), e18(100)}
}

func TestFlashloanHappyPath(t *testing.T) {
	h, pool, borrower := flashHarness(t)
	before := h.balances(pool)

	fees, err := h.v.Flashloan(borrower, []common.Address{tokenX, tokenY, tokenZ}, hundreds())
	require.NoError(t, err)
	require.Equal(t, FlashAwaitingCallback, borrower.observed)
	require.Equal(t, FlashIdle, h.v.FlashState())

	// default rate 0.1%
	for i, addr := range []common.Address{tokenX, tokenY, tokenZ} {
		require.Equal(t, "100000000000000000", fees[i].Dec())
		require.Equal(t, fees[i].Dec(), h.tokens[addr].BalanceOf(feeAccount).Dec())
		require.Equal(t, e18(1000).Dec(), h.tokens[addr].BalanceOf(vaultAddr).Dec())
	}
	require.Equal(t, before, h.balances(pool))
	require.True(t, h.v.CollectedFees(tokenX).IsZero())

	loans := h.events.Named(model.EventFlashloan)
	require.Len(t, loans, 1)
	require.Equal(t, borrowerID.Hex(), loans[0].Decoded.(model.FlashloanData).Borrower)
}

func TestFlashloanShortRepaymentRestoresEverything(t *testing.T) {
	h, pool, borrower := flashHarness(t)
	borrower.shortBy[tokenY] = 1
	before := h.balances(pool)

	_, err := h.v.Flashloan(borrower, []common.Address{tokenX, tokenY, tokenZ}, hundreds())
	require.ErrorIs(t, err, ErrInsufficientRepayment)
	require.Equal(t, FlashIdle, h.v.FlashState())

	require.Equal(t, before, h.balances(pool))
	for _, addr := range []common.Address{tokenX, tokenY, tokenZ} {
		require.Equal(t, e18(1000).Dec(), h.tokens[addr].BalanceOf(vaultAddr).Dec())
		require.Equal(t, e18(1).Dec(), h.tokens[addr].BalanceOf(borrowerID).Dec())
		require.True(t, h.tokens[addr].BalanceOf(feeAccount).IsZero())
	}
	require.Empty(t, h.events.Named(model.EventFlashloan))
}

func TestFlashloanRejectsReentry(t *testing.T) {
	h, pool, borrower := flashHarness(t)
	var nested error
	borrower.onLoan = func(v *Vault) error {
		if _, err := v.PoolBalances(pool.ID); err != nil {
			return err
		}
		_, nested = v.Swap(SwapRequest{Pool: pool.ID, TokenIn: tokenX, TokenOut: tokenY, Amount: e18(1), Sender: alice, Receiver: alice, Deadline: farDeadline})
		if _, err := v.Flashloan(borrower, []common.Address{tokenX}, []*uint256.Int{e18(1)}); !errors.Is(err, ErrReentrancy) {
			return errors.New("nested flashloan was not rejected")
		}
		return nested
	}

	_, err := h.v.Flashloan(borrower, []common.Address{tokenX, tokenY, tokenZ}, hundreds())
	require.ErrorIs(t, nested, ErrReentrancy)
	require.ErrorIs(t, err, ErrReentrancy)
	require.Equal(t, FlashIdle, h.v.FlashState())
	require.Equal(t, e18(1000).Dec(), h.tokens[tokenX].BalanceOf(vaultAddr).Dec())

	_, err = h.v.Swap(SwapRequest{Pool: pool.ID, TokenIn: tokenX, TokenOut: tokenY, Amount: e18(1), Sender: alice, Receiver: alice, Deadline: farDeadline})
	require.NoError(t, err)
}

func TestFlashloanPanicIsContained(t *testing.T) {
	h, _, borrower := flashHarness(t)
	borrower.onLoan = func(*Vault) error { panic("boom") }

	_, err := h.v.Flashloan(borrower, []common.Address{tokenX}, []*uint256.Int{e18(100)})
	require.ErrorContains(t, err, "boom")
	require.Equal(t, FlashIdle, h.v.FlashState())
	require.Equal(t, e18(1000).Dec(), h.tokens[tokenX].BalanceOf(vaultAddr).Dec())
	require.Equal(t, e18(1).Dec(), h.tokens[tokenX].BalanceOf(borrowerID).Dec())
}

func TestFlashloanValidation(t *testing.T) {
	h, _, borrower := flashHarness(t)

	_, err := h.v.Flashloan(borrower, []common.Address{tokenY, tokenX}, []*uint256.Int{e18(1), e18(1)})
	require.ErrorIs(t, err, ErrUnsortedAssets)

	_, err = h.v.Flashloan(borrower, []common.Address{tokenX, tokenX}, []*uint256.Int{e18(1), e18(1)})
	require.ErrorIs(t, err, ErrUnsortedAssets)

	_, err = h.v.Flashloan(borrower, []common.Address{tokenX, tokenY}, []*uint256.Int{e18(1), zero()})
	require.ErrorIs(t, err, ErrZeroAmount)

	_, err = h.v.Flashloan(borrower, []common.Address{tokenX}, []*uint256.Int{e18(1001)})
	require.ErrorIs(t, err, ErrInsufficientLiquidity)

	_, err = h.v.Flashloan(borrower, []common.Address{common.HexToAddress("0x4000000000000000000000000000000000000004")}, []*uint256.Int{e18(1)})
	require.ErrorIs(t, err, token.ErrUnknownAsset)

	require.Empty(t, h.events.Named(model.EventFlashloan))
}

func TestFeeReceiverWithdraw(t *testing.T) {
	h, _, borrower := flashHarness(t)
	fees, err := h.v.Flashloan(borrower, []common.Address{tokenX, tokenY}, []*uint256.Int{e18(100), e18(200)})
	require.NoError(t, err)
	require.Equal(t, "200000000000000000", fees[1].Dec())

	receiver := h.v.FeeReceiver(manager)
	require.Equal(t, feeAccount, receiver.Address())
	held, err := receiver.Balance(tokenY)
	require.NoError(t, err)
	require.Equal(t, fees[1].Dec(), held.Dec())

	tokens := []common.Address{tokenX, tokenY}
	receivers := []common.Address{bob, bob}
	require.ErrorIs(t, receiver.WithdrawFeesTo(alice, tokens, receivers, fees), ErrUnauthorized)

	tooMuch := []*uint256.Int{fees[0], new(uint256.Int).AddUint64(fees[1], 1)}
	require.ErrorIs(t, receiver.WithdrawFeesTo(manager, tokens, receivers, tooMuch), ErrInsufficientFees)
	require.True(t, h.tokens[tokenX].BalanceOf(bob).IsZero())

	require.NoError(t, receiver.WithdrawFeesTo(manager, tokens, receivers, fees))
	require.Equal(t, fees[0].Dec(), h.tokens[tokenX].BalanceOf(bob).Dec())
	require.Equal(t, fees[1].Dec(), h.tokens[tokenY].BalanceOf(bob).Dec())
	require.Len(t, h.events.Named(model.EventFlashloanFeesWithdrawn), 1)
}

func TestFlashloanFailureRestoresUnborrowedAssets(t *testing.T) {
	h, _, borrower := flashHarness(t)
	require.NoError(t, h.tokens[tokenZ].Mint(borrowerID, e18(10)))
	held := h.tokens[tokenZ].BalanceOf(borrowerID).Dec()
	borrower.onLoan = func(*Vault) error {
		return h.tokens[tokenZ].Transfer(borrowerID, bob, e18(5))
	}
	borrower.shortBy[tokenX] = 1

	_, err := h.v.Flashloan(borrower, []common.Address{tokenX}, []*uint256.Int{e18(100)})
	require.ErrorIs(t, err, ErrInsufficientRepayment)
	require.True(t, h.tokens[tokenZ].BalanceOf(bob).IsZero())
	require.Equal(t, held, h.tokens[tokenZ].BalanceOf(borrowerID).Dec())
	require.Equal(t, e18(1000).Dec(), h.tokens[tokenX].BalanceOf(vaultAddr).Dec())
	require.Equal(t, e18(1).Dec(), h.tokens[tokenX].BalanceOf(borrowerID).Dec())
}

func TestFeeWithdrawalBlockedDuringFlashloan(t *testing.T) {
	h, _, borrower := flashHarness(t)
	_, err := h.v.Flashloan(borrower, []common.Address{tokenX}, []*uint256.Int{e18(100)})
	require.NoError(t, err)

	receiver := h.v.FeeReceiver(manager)
	tokens := []common.Address{tokenX}
	receivers := []common.Address{bob}
	var nested error
	borrower.onLoan = func(*Vault) error {
		nested = receiver.WithdrawFeesTo(manager, tokens, receivers, []*uint256.Int{uint256.NewInt(1)})
		return nil
	}
	_, err = h.v.Flashloan(borrower, []common.Address{tokenX}, []*uint256.Int{e18(100)})
	require.NoError(t, err)
	require.ErrorIs(t, nested, ErrReentrancy)
	require.True(t, h.tokens[tokenX].BalanceOf(bob).IsZero())
}

func TestFeeWithdrawalLeavesAmountsUntouched(t *testing.T) {
	h, _, borrower := flashHarness(t)
	fees, err := h.v.Flashloan(borrower, []common.Address{tokenX}, []*uint256.Int{e18(100)})
	require.NoError(t, err)

	receiver := h.v.FeeReceiver(manager)
	amounts := []*uint256.Int{nil, fees[0]}
	require.NoError(t, receiver.WithdrawFeesTo(manager, []common.Address{tokenX, tokenX}, []common.Address{alice, bob}, amounts))
	require.Nil(t, amounts[0])
	require.Equal(t, fees[0].Dec(), amounts[1].Dec())
	require.Equal(t, fees[0].Dec(), h.tokens[tokenX].BalanceOf(bob).Dec())
}
