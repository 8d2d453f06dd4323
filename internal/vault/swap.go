package vault

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"weightedVault/internal/decimals"
	"weightedVault/internal/fixedpoint"
	"weightedVault/internal/model"
	"weightedVault/internal/registry"
	"weightedVault/internal/weighted"
)

// SwapKind selects which side of a swap is fixed.
type SwapKind uint8

const (
	// ExactIn fixes the amount sold; Limit is the minimum bought.
	ExactIn SwapKind = iota
	// ExactOut fixes the amount bought; Limit is the maximum sold.
	ExactOut
)

func (k SwapKind) String() string {
	if k == ExactOut {
		return model.SwapExactOut
	}
	return model.SwapExactIn
}

// ParseSwapKind accepts the names recorded on Swap events.
func ParseSwapKind(s string) (SwapKind, error) {
	switch s {
	case model.SwapExactIn, "":
		return ExactIn, nil
	case model.SwapExactOut:
		return ExactOut, nil
	}
	return ExactIn, fmt.Errorf("unknown swap kind %q", s)
}

var (
	ErrRouteMismatch = errors.New("route hops do not chain")
	ErrEmptyRoute    = errors.New("empty route")
)

// Hop is one leg of a route.
type Hop struct {
	Pool     common.Address
	TokenIn  common.Address
	TokenOut common.Address
}

// SwapRequest is a single-pool swap. Amounts are native units.
type SwapRequest struct {
	Pool     common.Address
	TokenIn  common.Address
	TokenOut common.Address
	Kind     SwapKind
	Amount   *uint256.Int
	Limit    *uint256.Int
	Sender   common.Address
	Receiver common.Address
	Deadline uint64
}

// RouteRequest is a multi-hop swap. Amount is the first hop's input for
// ExactIn and the last hop's output for ExactOut.
type RouteRequest struct {
	Hops     []Hop
	Kind     SwapKind
	Amount   *uint256.Int
	Limit    *uint256.Int
	Sender   common.Address
	Receiver common.Address
	Deadline uint64
}

// HopResult reports one priced leg in native units.
type HopResult struct {
	Hop
	AmountIn    *uint256.Int
	AmountOut   *uint256.Int
	Fee         *uint256.Int
	ProtocolFee *uint256.Int
}

// SwapResult reports a swap or route. AmountIn is what the sender pays and
// AmountOut what the receiver gets.
type SwapResult struct {
	Kind      SwapKind
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
	Hops      []HopResult
}

// Swap trades against one pool.
func (v *Vault) Swap(req SwapRequest) (SwapResult, error) {
	return v.route(swapRoute(req), false)
}

// CalculateSwap quotes Swap without moving assets.
func (v *Vault) CalculateSwap(req SwapRequest) (SwapResult, error) {
	return v.route(swapRoute(req), true)
}

// SwapRoute trades through a chain of pools. Intermediate amounts never
// leave the vault.
func (v *Vault) SwapRoute(req RouteRequest) (SwapResult, error) {
	return v.route(req, false)
}

// CalculateRoute quotes SwapRoute without moving assets.
func (v *Vault) CalculateRoute(req RouteRequest) (SwapResult, error) {
	return v.route(req, true)
}

func swapRoute(req SwapRequest) RouteRequest {
	return RouteRequest{
		Hops:     []Hop{{Pool: req.Pool, TokenIn: req.TokenIn, TokenOut: req.TokenOut}},
		Kind:     req.Kind,
		Amount:   req.Amount,
		Limit:    req.Limit,
		Sender:   req.Sender,
		Receiver: req.Receiver,
		Deadline: req.Deadline,
	}
}

func (v *Vault) route(req RouteRequest, dryRun bool) (SwapResult, error) {
	if dryRun {
		v.mu.Lock()
	} else if err := v.enter(); err != nil {
		return SwapResult{}, err
	}
	defer v.mu.Unlock()

	if !dryRun {
		if err := v.checkDeadline(req.Deadline); err != nil {
			return SwapResult{}, err
		}
	}
	pools, err := v.resolveHops(req.Hops)
	if err != nil {
		return SwapResult{}, err
	}
	amount := req.Amount
	if amount == nil {
		amount = new(uint256.Int)
	}

	tx := v.begin(dryRun)
	result, err := v.planRoute(tx, pools, req, amount)
	if err != nil {
		return SwapResult{}, fmt.Errorf("swap: %w", err)
	}
	if dryRun {
		return result, nil
	}
	if err := checkSwapLimit(req.Kind, req.Limit, result); err != nil {
		return SwapResult{}, err
	}
	if err := v.commit(tx); err != nil {
		v.logger.Warn("swap failed", zap.Int("hops", len(req.Hops)), zap.Error(err))
		return SwapResult{}, fmt.Errorf("swap: %w", err)
	}
	v.logger.Debug("swap",
		zap.String("kind", req.Kind.String()),
		zap.Int("hops", len(req.Hops)),
		zap.String("amount_in", result.AmountIn.Dec()),
		zap.String("amount_out", result.AmountOut.Dec()),
	)
	return result, nil
}

// resolveHops loads every hop's pool and checks that the hops chain.
func (v *Vault) resolveHops(hops []Hop) ([]registry.Pool, error) {
	if len(hops) == 0 {
		return nil, ErrEmptyRoute
	}
	pools := make([]registry.Pool, len(hops))
	for i, hop := range hops {
		if hop.TokenIn == hop.TokenOut {
			return nil, fmt.Errorf("hop %d: %w: %s", i, ErrSameToken, hop.TokenIn.Hex())
		}
		if i > 0 && hops[i-1].TokenOut != hop.TokenIn {
			return nil, fmt.Errorf("hop %d: %w: %s then %s", i, ErrRouteMismatch, hops[i-1].TokenOut.Hex(), hop.TokenIn.Hex())
		}
		pool, err := v.pool(hop.Pool)
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		for _, token := range []common.Address{hop.TokenIn, hop.TokenOut} {
			if _, ok := pool.IndexOf(token); !ok {
				return nil, fmt.Errorf("hop %d: %w: %s", i, ErrInvalidToken, token.Hex())
			}
		}
		pools[i] = pool
	}
	return pools, nil
}

func checkSwapLimit(kind SwapKind, limit *uint256.Int, result SwapResult) error {
	if limit == nil {
		return nil
	}
	if kind == ExactIn && result.AmountOut.Lt(limit) {
		return fmt.Errorf("%w: amount out %s below minimum %s", ErrSlippageExceeded, result.AmountOut.Dec(), limit.Dec())
	}
	if kind == ExactOut && result.AmountIn.Gt(limit) {
		return fmt.Errorf("%w: amount in %s above maximum %s", ErrSlippageExceeded, result.AmountIn.Dec(), limit.Dec())
	}
	return nil
}

// planRoute prices the hops in order (ExactIn) or in reverse (ExactOut).
// An ExactOut route that visits a pool twice cannot be priced backward,
// since the earlier hop changes the reserves the later one sees; it is
// settled forward from the smallest input whose output covers Amount.
func (v *Vault) planRoute(tx *ledgerTx, pools []registry.Pool, req RouteRequest, amount *uint256.Int) (SwapResult, error) {
	n := len(req.Hops)
	var (
		hops []HopResult
		err  error
	)
	switch {
	case req.Kind == ExactIn:
		hops, err = v.forwardRoute(tx, pools, req.Hops, amount)
	case revisitsPool(pools):
		var in *uint256.Int
		if in, err = v.exactOutInput(pools, req.Hops, amount); err == nil {
			hops, err = v.forwardRoute(tx, pools, req.Hops, in)
		}
	default:
		hops, err = v.backwardRoute(tx, pools, req.Hops, amount)
	}
	if err != nil {
		return SwapResult{}, err
	}

	result := SwapResult{
		Kind:      req.Kind,
		AmountIn:  hops[0].AmountIn,
		AmountOut: hops[n-1].AmountOut,
		Hops:      hops,
	}
	if err := tx.pull(req.Hops[0].TokenIn, req.Sender, result.AmountIn); err != nil {
		return SwapResult{}, err
	}
	if err := tx.push(req.Hops[n-1].TokenOut, req.Receiver, result.AmountOut); err != nil {
		return SwapResult{}, err
	}
	for i, hop := range hops {
		sender, receiver := v.address, v.address
		if i == 0 {
			sender = req.Sender
		}
		if i == n-1 {
			receiver = req.Receiver
		}
		tx.record(model.EventSwap, hop.Pool, model.SwapData{
			Kind:        req.Kind.String(),
			Sender:      sender.Hex(),
			Receiver:    receiver.Hex(),
			TokenIn:     hop.TokenIn.Hex(),
			TokenOut:    hop.TokenOut.Hex(),
			AmountIn:    hop.AmountIn.Dec(),
			AmountOut:   hop.AmountOut.Dec(),
			Fee:         hop.Fee.Dec(),
			ProtocolFee: hop.ProtocolFee.Dec(),
		})
	}
	return result, nil
}

func (v *Vault) forwardRoute(tx *ledgerTx, pools []registry.Pool, route []Hop, amountIn *uint256.Int) ([]HopResult, error) {
	hops := make([]HopResult, len(route))
	carry := new(uint256.Int).Set(amountIn)
	for i := range route {
		hop, err := v.planHop(tx, pools[i], route[i], ExactIn, carry)
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		hops[i] = hop
		carry = hop.AmountOut
	}
	return hops, nil
}

func (v *Vault) backwardRoute(tx *ledgerTx, pools []registry.Pool, route []Hop, amountOut *uint256.Int) ([]HopResult, error) {
	hops := make([]HopResult, len(route))
	carry := new(uint256.Int).Set(amountOut)
	for i := len(route) - 1; i >= 0; i-- {
		hop, err := v.planHop(tx, pools[i], route[i], ExactOut, carry)
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		hops[i] = hop
		carry = hop.AmountIn
	}
	return hops, nil
}

func revisitsPool(pools []registry.Pool) bool {
	seen := make(map[common.Address]bool, len(pools))
	for _, p := range pools {
		if seen[p.ID] {
			return true
		}
		seen[p.ID] = true
	}
	return false
}

const maxRouteSearchSteps = 64

// exactOutInput finds the smallest first-hop input whose forward output
// covers amountOut. The backward quote seeds the search; every candidate is
// priced on a scratch tx.
func (v *Vault) exactOutInput(pools []registry.Pool, route []Hop, amountOut *uint256.Int) (*uint256.Int, error) {
	output := func(in *uint256.Int) (*uint256.Int, error) {
		hops, err := v.forwardRoute(v.begin(true), pools, route, in)
		if err != nil {
			return nil, err
		}
		return hops[len(hops)-1].AmountOut, nil
	}

	seed, err := v.backwardRoute(v.begin(true), pools, route, amountOut)
	if err != nil {
		return nil, err
	}
	lo := new(uint256.Int)
	hi := new(uint256.Int).Set(seed[0].AmountIn)
	got, err := output(hi)
	if err != nil {
		return nil, err
	}
	for steps := 0; got.Lt(amountOut); steps++ {
		if steps == maxRouteSearchSteps {
			return nil, fmt.Errorf("%w: no input covers amount out %s", weighted.ErrSwapOutLimit, amountOut.Dec())
		}
		// Scale the input by the missing share of the output.
		step := new(uint256.Int).Sub(amountOut, got)
		if got.IsZero() {
			step.Set(hi)
		} else if _, overflow := step.MulOverflow(step, hi); overflow {
			return nil, fixedpoint.ErrArithmeticOverflow
		} else {
			step.Div(step, got)
		}
		step.AddUint64(step, 1)
		lo.Set(hi)
		if _, overflow := hi.AddOverflow(hi, step); overflow {
			return nil, fixedpoint.ErrArithmeticOverflow
		}
		if got, err = output(hi); err != nil {
			return nil, err
		}
	}

	// output is non-decreasing in the input; narrow (lo, hi] to one unit.
	one := uint256.NewInt(1)
	for new(uint256.Int).Sub(hi, lo).Gt(one) {
		mid := new(uint256.Int).Sub(hi, lo)
		mid.Rsh(mid, 1).Add(mid, lo)
		out, err := output(mid)
		if err == nil && !out.Lt(amountOut) {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi, nil
}

// planHop prices one leg and stages its reserve and accrual changes.
// amount is the native input for ExactIn and the native output for ExactOut.
func (v *Vault) planHop(tx *ledgerTx, pool registry.Pool, hop Hop, kind SwapKind, amount *uint256.Int) (HopResult, error) {
	in, _ := pool.IndexOf(hop.TokenIn)
	out, _ := pool.IndexOf(hop.TokenOut)
	multIn, multOut := pool.Multipliers[in], pool.Multipliers[out]
	balances := tx.poolBalances(pool)

	normalized, err := decimals.Normalize(amount, multIn)
	if kind == ExactOut {
		normalized, err = decimals.Normalize(amount, multOut)
	}
	if err != nil {
		return HopResult{}, err
	}

	result := HopResult{Hop: hop}
	var quote weighted.SwapQuote
	if kind == ExactIn {
		quote, err = weighted.OutGivenIn(balances[in], pool.Weights[in], balances[out], pool.Weights[out], normalized, pool.SwapFee, v.protocolFee)
		if err != nil {
			return HopResult{}, err
		}
		result.AmountIn = new(uint256.Int).Set(amount)
		result.AmountOut = decimals.DenormalizeDown(quote.AmountOut, multOut)
	} else {
		quote, err = weighted.InGivenOut(balances[in], pool.Weights[in], balances[out], pool.Weights[out], normalized, pool.SwapFee, v.protocolFee)
		if err != nil {
			return HopResult{}, err
		}
		result.AmountIn = decimals.DenormalizeUp(quote.AmountIn, multIn)
		result.AmountOut = new(uint256.Int).Set(amount)
	}
	result.Fee = decimals.DenormalizeDown(quote.FeeAmount, multIn)
	result.ProtocolFee = decimals.DenormalizeDown(quote.ProtocolFee, multIn)

	credit, err := decimals.Normalize(new(uint256.Int).Sub(result.AmountIn, result.ProtocolFee), multIn)
	if err != nil {
		return HopResult{}, err
	}
	debit, err := decimals.Normalize(result.AmountOut, multOut)
	if err != nil {
		return HopResult{}, err
	}
	if balances[in], err = fixedpoint.Add(balances[in], credit); err != nil {
		return HopResult{}, fmt.Errorf("credit reserve: %w", err)
	}
	if !debit.Lt(balances[out]) {
		return HopResult{}, weighted.ErrInvariantViolation
	}
	balances[out] = new(uint256.Int).Sub(balances[out], debit)
	tx.setPoolBalances(pool, balances)
	if err := tx.accrue(hop.TokenIn, result.ProtocolFee); err != nil {
		return HopResult{}, err
	}
	return result, nil
}
