package vault

import (
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

// JoinRequest describes a deposit. Amounts are in each asset's native
// precision. JoinPool takes one amount per pool asset in pool order;
// JoinPoolSingleAsset and JoinPoolPartial name the assets in Assets.
type JoinRequest struct {
	Pool     common.Address
	Assets   []common.Address
	Amounts  []*uint256.Int
	MinLPOut *uint256.Int
	Sender   common.Address
	Receiver common.Address
	Deadline uint64
}

// JoinResult reports a deposit in native units, pool asset order.
type JoinResult struct {
	Pool         common.Address
	Kind         string
	LPOut        *uint256.Int
	AmountsIn    []*uint256.Int
	Fees         []*uint256.Int
	ProtocolFees []*uint256.Int
}

// JoinPool deposits every pool asset. The first deposit into an empty pool
// initializes it and must supply all assets.
func (v *Vault) JoinPool(req JoinRequest) (JoinResult, error) {
	return v.join(model.KindProportional, req, false)
}

// JoinPoolSingleAsset deposits one asset.
func (v *Vault) JoinPoolSingleAsset(req JoinRequest) (JoinResult, error) {
	return v.join(model.KindSingleAsset, req, false)
}

// JoinPoolPartial deposits a subset of the pool assets.
func (v *Vault) JoinPoolPartial(req JoinRequest) (JoinResult, error) {
	return v.join(model.KindPartial, req, false)
}

// CalculateJoinPool quotes JoinPool without moving assets.
func (v *Vault) CalculateJoinPool(req JoinRequest) (JoinResult, error) {
	return v.join(model.KindProportional, req, true)
}

// CalculateJoinSingleAsset quotes JoinPoolSingleAsset without moving assets.
func (v *Vault) CalculateJoinSingleAsset(req JoinRequest) (JoinResult, error) {
	return v.join(model.KindSingleAsset, req, true)
}

// CalculateJoinPartial quotes JoinPoolPartial without moving assets.
func (v *Vault) CalculateJoinPartial(req JoinRequest) (JoinResult, error) {
	return v.join(model.KindPartial, req, true)
}

// CalculateJoinForLP returns the native amounts a proportional join must
// supply to mint exactly lpOut, rounded up.
func (v *Vault) CalculateJoinForLP(id common.Address, lpOut *uint256.Int) ([]*uint256.Int, error) {
	pool, err := v.pool(id)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	st := v.state(pool)
	balances := cloneAmounts(st.balances)
	supply := new(uint256.Int).Set(st.supply)
	v.mu.Unlock()

	amounts, err := weighted.JoinExactLPOut(balances, lpOut, supply)
	if err != nil {
		return nil, fmt.Errorf("join for lp %s: %w", id.Hex(), err)
	}
	for i := range amounts {
		amounts[i] = decimals.DenormalizeUp(amounts[i], pool.Multipliers[i])
	}
	return amounts, nil
}

func (v *Vault) join(kind string, req JoinRequest, dryRun bool) (JoinResult, error) {
	if dryRun {
		v.mu.Lock()
	} else if err := v.enter(); err != nil {
		return JoinResult{}, err
	}
	defer v.mu.Unlock()

	if !dryRun {
		if err := v.checkDeadline(req.Deadline); err != nil {
			return JoinResult{}, err
		}
	}
	pool, err := v.pool(req.Pool)
	if err != nil {
		return JoinResult{}, err
	}
	amounts, single, err := expandAmounts(pool, kind, req.Assets, req.Amounts)
	if err != nil {
		return JoinResult{}, fmt.Errorf("join pool %s: %w", pool.ID.Hex(), err)
	}

	tx := v.begin(dryRun)
	result, err := v.planJoin(tx, pool, kind, single, amounts, req.Sender, req.Receiver)
	if err != nil {
		return JoinResult{}, fmt.Errorf("join pool %s: %w", pool.ID.Hex(), err)
	}
	if dryRun {
		return result, nil
	}
	if req.MinLPOut != nil && result.LPOut.Lt(req.MinLPOut) {
		return JoinResult{}, fmt.Errorf("%w: lp out %s below minimum %s", ErrSlippageExceeded, result.LPOut.Dec(), req.MinLPOut.Dec())
	}
	if err := v.commit(tx); err != nil {
		v.logger.Warn("join failed", zap.String("pool", pool.ID.Hex()), zap.Error(err))
		return JoinResult{}, fmt.Errorf("join pool %s: %w", pool.ID.Hex(), err)
	}
	v.logger.Debug("join",
		zap.String("pool", pool.ID.Hex()),
		zap.String("kind", result.Kind),
		zap.String("lp_out", result.LPOut.Dec()),
	)
	return result, nil
}

// expandAmounts maps a request onto one native amount per pool asset. For
// single-asset requests it also returns the asset index.
func expandAmounts(pool registry.Pool, kind string, assets []common.Address, amounts []*uint256.Int) ([]*uint256.Int, int, error) {
	n := len(pool.Assets)
	if kind == model.KindProportional {
		if len(amounts) != n {
			return nil, -1, fmt.Errorf("%w: %d amounts for %d assets", ErrLengthMismatch, len(amounts), n)
		}
		out := make([]*uint256.Int, n)
		for i, a := range amounts {
			if a == nil {
				a = new(uint256.Int)
			}
			out[i] = new(uint256.Int).Set(a)
		}
		return out, -1, nil
	}

	if len(assets) != len(amounts) || len(assets) == 0 {
		return nil, -1, fmt.Errorf("%w: %d assets, %d amounts", ErrLengthMismatch, len(assets), len(amounts))
	}
	if kind == model.KindSingleAsset && len(assets) != 1 {
		return nil, -1, fmt.Errorf("%w: single-asset request names %d assets", ErrLengthMismatch, len(assets))
	}
	out := zeroAmounts(n)
	seen := make(map[int]bool, len(assets))
	single := -1
	for i, asset := range assets {
		idx, ok := pool.IndexOf(asset)
		if !ok {
			return nil, -1, fmt.Errorf("%w: %s", ErrInvalidToken, asset.Hex())
		}
		if seen[idx] {
			return nil, -1, fmt.Errorf("%w: %s listed twice", ErrInvalidToken, asset.Hex())
		}
		seen[idx] = true
		if amounts[i] != nil {
			out[idx] = new(uint256.Int).Set(amounts[i])
		}
		single = idx
	}
	if kind != model.KindSingleAsset {
		single = -1
	}
	return out, single, nil
}

func (v *Vault) planJoin(tx *ledgerTx, pool registry.Pool, kind string, single int, amounts []*uint256.Int, sender, receiver common.Address) (JoinResult, error) {
	n := len(pool.Assets)
	balances := tx.poolBalances(pool)
	supply := tx.totalSupply(pool)
	normalized, err := decimals.NormalizeAll(amounts, pool.Multipliers)
	if err != nil {
		return JoinResult{}, err
	}

	var quote weighted.JoinQuote
	switch {
	case supply.IsZero():
		kind = model.KindInitialize
		quote, err = weighted.Initialize(normalized, pool.Weights)
	case kind == model.KindSingleAsset:
		quote, err = weighted.JoinSingleToken(single, normalized[single], balances, pool.Weights, supply, pool.SwapFee, v.protocolFee)
	default:
		quote, err = weighted.Join(normalized, balances, pool.Weights, supply, pool.SwapFee, v.protocolFee)
	}
	if err != nil {
		return JoinResult{}, err
	}

	result := JoinResult{
		Pool:         pool.ID,
		Kind:         kind,
		LPOut:        quote.LPOut,
		AmountsIn:    amounts,
		Fees:         make([]*uint256.Int, n),
		ProtocolFees: make([]*uint256.Int, n),
	}
	for i, asset := range pool.Assets {
		mult := pool.Multipliers[i]
		result.Fees[i] = decimals.DenormalizeDown(quote.Fees[i], mult)
		protocol := decimals.DenormalizeDown(quote.ProtocolFees[i], mult)
		result.ProtocolFees[i] = protocol

		kept, err := decimals.Normalize(new(uint256.Int).Sub(amounts[i], protocol), mult)
		if err != nil {
			return JoinResult{}, err
		}
		if balances[i], err = fixedpoint.Add(balances[i], kept); err != nil {
			return JoinResult{}, fmt.Errorf("credit reserve: %w", err)
		}
		if err := tx.accrue(asset, protocol); err != nil {
			return JoinResult{}, err
		}
		if err := tx.pull(asset, sender, amounts[i]); err != nil {
			return JoinResult{}, err
		}
	}
	tx.setPoolBalances(pool, balances)
	if err := tx.mint(pool, receiver, quote.LPOut); err != nil {
		return JoinResult{}, err
	}

	tx.record(model.EventDeposit, pool.ID, model.DepositData{
		Kind:         kind,
		Sender:       sender.Hex(),
		Receiver:     receiver.Hex(),
		LPAmount:     quote.LPOut.Dec(),
		Amounts:      amountStrings(amounts),
		Fees:         amountStrings(result.Fees),
		ProtocolFees: amountStrings(result.ProtocolFees),
	})
	return result, nil
}
