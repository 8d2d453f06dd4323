package scenario

import (
	"context"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"weightedVault/internal/model"
	"weightedVault/internal/registry"
	"weightedVault/internal/vault"
)

// ErrorSink receives one model.OpError per rejected operation.
type ErrorSink interface {
	Append(records ...interface{}) error
}

// Summary counts the outcome of a run.
type Summary struct {
	Total   int
	Applied int
	Failed  int
}

// Runner applies scripted operations to a World. A rejected operation is
// recorded and the script continues.
type Runner struct {
	world  *World
	errs   ErrorSink
	logger *zap.Logger
}

func NewRunner(world *World, errs ErrorSink, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{world: world, errs: errs, logger: logger}
}

// Run executes ops in order. It stops early only when ctx is cancelled or the
// error sink fails.
func (r *Runner) Run(ctx context.Context, ops []Op) (Summary, error) {
	var sum Summary
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Total++
		if err := r.Apply(op); err != nil {
			sum.Failed++
			r.logger.Warn("op rejected", zap.Int("line", op.Line), zap.String("op", op.Op), zap.Error(err))
			if r.errs != nil {
				rec := model.OpError{Line: op.Line, Op: op.Op, Pool: op.Pool, Error: err.Error()}
				if err := r.errs.Append(rec); err != nil {
					return sum, fmt.Errorf("write op error: %w", err)
				}
			}
			continue
		}
		sum.Applied++
	}
	r.logger.Info("script complete",
		zap.Int("total", sum.Total),
		zap.Int("applied", sum.Applied),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}

// Apply executes a single operation.
func (r *Runner) Apply(op Op) error {
	v := r.world.Vault
	switch op.Op {
	case OpMint, OpApprove:
		return r.fund(op)
	case OpRegister:
		return r.register(op)
	case OpJoin, OpJoinSingle, OpJoinPartial:
		req, err := joinRequest(op)
		if err != nil {
			return err
		}
		var res vault.JoinResult
		switch op.Op {
		case OpJoin:
			res, err = v.JoinPool(req)
		case OpJoinSingle:
			res, err = v.JoinPoolSingleAsset(req)
		default:
			res, err = v.JoinPoolPartial(req)
		}
		if err != nil {
			return err
		}
		r.logger.Debug("joined", zap.Int("line", op.Line), zap.String("kind", res.Kind), zap.String("lp_out", res.LPOut.Dec()))
		return nil
	case OpJoinForLP:
		res, err := r.joinForLP(op)
		if err != nil {
			return err
		}
		r.logger.Debug("joined", zap.Int("line", op.Line), zap.String("kind", res.Kind), zap.String("lp_out", res.LPOut.Dec()))
		return nil
	case OpExit, OpExitSingle, OpExitPartial:
		req, err := exitRequest(op)
		if err != nil {
			return err
		}
		var res vault.ExitResult
		switch op.Op {
		case OpExit:
			res, err = v.ExitPool(req)
		case OpExitSingle:
			res, err = v.ExitPoolSingleAsset(req)
		default:
			res, err = v.ExitPoolPartial(req)
		}
		if err != nil {
			return err
		}
		r.logger.Debug("exited", zap.Int("line", op.Line), zap.String("kind", res.Kind), zap.String("lp_in", res.LPIn.Dec()))
		return nil
	case OpSwap:
		req, err := swapRequest(op)
		if err != nil {
			return err
		}
		res, err := v.Swap(req)
		if err != nil {
			return err
		}
		r.logger.Debug("swapped", zap.Int("line", op.Line), zap.String("in", res.AmountIn.Dec()), zap.String("out", res.AmountOut.Dec()))
		return nil
	case OpRoute:
		req, err := routeRequest(op)
		if err != nil {
			return err
		}
		res, err := v.SwapRoute(req)
		if err != nil {
			return err
		}
		r.logger.Debug("routed", zap.Int("line", op.Line), zap.Int("hops", len(res.Hops)), zap.String("in", res.AmountIn.Dec()), zap.String("out", res.AmountOut.Dec()))
		return nil
	case OpFlashloan:
		return r.flashloan(op)
	case OpWithdrawFees, OpWithdrawFlashloanFees:
		return r.withdraw(op)
	case OpSetSwapFee, OpSetProtocolFee, OpSetFlashloanFee:
		caller, err := parseAddress("sender", op.Sender)
		if err != nil {
			return err
		}
		fee, err := parseAmount("fee", op.Fee)
		if err != nil {
			return err
		}
		switch op.Op {
		case OpSetSwapFee:
			pool, err := parseAddress("pool", op.Pool)
			if err != nil {
				return err
			}
			return v.SetSwapFee(caller, pool, fee)
		case OpSetProtocolFee:
			return v.SetProtocolFee(caller, fee)
		default:
			return v.SetFlashloanFee(caller, fee)
		}
	case OpSetFeeReceiver, OpChangeManager:
		caller, err := parseAddress("sender", op.Sender)
		if err != nil {
			return err
		}
		next, err := parseAddress("receiver", op.Receiver)
		if err != nil {
			return err
		}
		if op.Op == OpSetFeeReceiver {
			if err := v.SetFeeReceiver(caller, next); err != nil {
				return err
			}
			r.world.FeeReceiver = v.FeeReceiver(r.world.FeeReceiver.Manager())
			return nil
		}
		return v.ChangeManager(caller, next)
	}
	return fmt.Errorf("unknown op %q", op.Op)
}

func (r *Runner) fund(op Op) error {
	asset, err := parseAddress("token", op.Token)
	if err != nil {
		return err
	}
	tok, ok := r.world.Tokens[asset]
	if !ok {
		return fmt.Errorf("unknown token %s", asset.Hex())
	}
	holder, err := parseAddress("holder", op.Holder)
	if err != nil {
		return err
	}
	amount := new(uint256.Int).SetAllOne()
	if op.Amount != "" {
		if amount, err = parseAmount("amount", op.Amount); err != nil {
			return err
		}
	}
	if op.Op == OpMint {
		return tok.Mint(holder, amount)
	}
	spender := r.world.Vault.Address()
	if op.Spender != "" {
		if spender, err = parseAddress("spender", op.Spender); err != nil {
			return err
		}
	}
	tok.Approve(holder, spender, amount)
	return nil
}

func (r *Runner) register(op Op) error {
	assets, err := parseAddresses("assets", op.Assets)
	if err != nil {
		return err
	}
	weights, err := parseAmounts("weights", op.Weights)
	if err != nil {
		return err
	}
	fee, err := parseAmount("fee", op.Fee)
	if err != nil {
		return err
	}
	cfg := registry.PoolConfig{Assets: assets, Weights: weights, SwapFee: fee, Salt: []byte(op.Salt)}
	for _, a := range assets {
		tok, ok := r.world.Tokens[a]
		if !ok {
			return fmt.Errorf("unknown token %s", a.Hex())
		}
		cfg.Decimals = append(cfg.Decimals, tok.Decimals())
	}
	if op.Pool != "" {
		if cfg.ID, err = parseAddress("pool", op.Pool); err != nil {
			return err
		}
	}
	_, err = r.world.Vault.RegisterPool(cfg)
	return err
}

func (r *Runner) flashloan(op Op) error {
	borrower, err := parseAddress("sender", op.Sender)
	if err != nil {
		return err
	}
	tokens, err := parseAddresses("assets", op.Assets)
	if err != nil {
		return err
	}
	amounts, err := parseAmounts("amounts", op.Amounts)
	if err != nil {
		return err
	}
	mode := op.Repay
	if mode == "" {
		mode = RepayFull
	}
	fees, err := r.world.Vault.Flashloan(&scriptedBorrower{address: borrower, world: r.world, mode: mode}, tokens, amounts)
	if err != nil {
		return err
	}
	r.logger.Debug("flashloan repaid", zap.Int("line", op.Line), zap.Int("assets", len(tokens)), zap.Int("fees", len(fees)))
	return nil
}

func (r *Runner) withdraw(op Op) error {
	caller, err := parseAddress("sender", op.Sender)
	if err != nil {
		return err
	}
	tokens, err := parseAddresses("assets", op.Assets)
	if err != nil {
		return err
	}
	amounts, err := parseAmounts("amounts", op.Amounts)
	if err != nil {
		return err
	}
	receivers, err := parseAddresses("receivers", op.Receivers)
	if err != nil {
		return err
	}
	if op.Op == OpWithdrawFees {
		return r.world.Vault.WithdrawCollectedFees(caller, tokens, amounts, receivers)
	}
	return r.world.FeeReceiver.WithdrawFeesTo(caller, tokens, receivers, amounts)
}

type parties struct {
	pool             common.Address
	sender, receiver common.Address
	deadline         uint64
}

// parseParties reads pool, sender and receiver. The receiver defaults to the
// sender and a zero deadline never expires.
func parseParties(op Op, needPool bool) (parties, error) {
	var p parties
	var err error
	if needPool {
		if p.pool, err = parseAddress("pool", op.Pool); err != nil {
			return parties{}, err
		}
	}
	if p.sender, err = parseAddress("sender", op.Sender); err != nil {
		return parties{}, err
	}
	p.receiver = p.sender
	if op.Receiver != "" {
		if p.receiver, err = parseAddress("receiver", op.Receiver); err != nil {
			return parties{}, err
		}
	}
	p.deadline = op.Deadline
	if p.deadline == 0 {
		p.deadline = math.MaxUint64
	}
	return p, nil
}

func joinRequest(op Op) (vault.JoinRequest, error) {
	p, err := parseParties(op, true)
	if err != nil {
		return vault.JoinRequest{}, err
	}
	req := vault.JoinRequest{Pool: p.pool, Sender: p.sender, Receiver: p.receiver, Deadline: p.deadline}
	if req.Assets, err = parseAddresses("assets", op.Assets); err != nil {
		return vault.JoinRequest{}, err
	}
	if req.Amounts, err = parseAmounts("amounts", op.Amounts); err != nil {
		return vault.JoinRequest{}, err
	}
	if req.MinLPOut, err = parseLimit("limit", op.Limit); err != nil {
		return vault.JoinRequest{}, err
	}
	return req, nil
}

// joinForLP quotes the proportional amounts for op.LP and joins with them.
func (r *Runner) joinForLP(op Op) (vault.JoinResult, error) {
	req, err := joinRequest(op)
	if err != nil {
		return vault.JoinResult{}, err
	}
	lp, err := parseAmount("lp", op.LP)
	if err != nil {
		return vault.JoinResult{}, err
	}
	amounts, err := r.world.Vault.CalculateJoinForLP(req.Pool, lp)
	if err != nil {
		return vault.JoinResult{}, err
	}
	for i, s := range op.Limits {
		maxIn, err := parseLimit(fmt.Sprintf("limits[%d]", i), s)
		if err != nil {
			return vault.JoinResult{}, err
		}
		if maxIn != nil && i < len(amounts) && amounts[i].Gt(maxIn) {
			return vault.JoinResult{}, fmt.Errorf("%w: amount in %s above maximum %s", vault.ErrSlippageExceeded, amounts[i].Dec(), maxIn.Dec())
		}
	}
	req.Assets = nil
	req.Amounts = amounts
	return r.world.Vault.JoinPool(req)
}

func exitRequest(op Op) (vault.ExitRequest, error) {
	p, err := parseParties(op, true)
	if err != nil {
		return vault.ExitRequest{}, err
	}
	req := vault.ExitRequest{Pool: p.pool, Sender: p.sender, Receiver: p.receiver, Deadline: p.deadline}
	if req.LPIn, err = parseLimit("lp", op.LP); err != nil {
		return vault.ExitRequest{}, err
	}
	if req.Assets, err = parseAddresses("assets", op.Assets); err != nil {
		return vault.ExitRequest{}, err
	}
	if req.Amounts, err = parseAmounts("amounts", op.Amounts); err != nil {
		return vault.ExitRequest{}, err
	}
	switch op.Op {
	case OpExit:
		if req.MinAmountsOut, err = parseAmounts("limits", op.Limits); err != nil {
			return vault.ExitRequest{}, err
		}
	case OpExitSingle:
		minOut, err := parseLimit("limit", op.Limit)
		if err != nil {
			return vault.ExitRequest{}, err
		}
		if minOut != nil {
			req.MinAmountsOut = []*uint256.Int{minOut}
		}
	default:
		if req.MaxLPIn, err = parseLimit("limit", op.Limit); err != nil {
			return vault.ExitRequest{}, err
		}
	}
	return req, nil
}

func swapRequest(op Op) (vault.SwapRequest, error) {
	p, err := parseParties(op, true)
	if err != nil {
		return vault.SwapRequest{}, err
	}
	req := vault.SwapRequest{Pool: p.pool, Sender: p.sender, Receiver: p.receiver, Deadline: p.deadline}
	if req.TokenIn, err = parseAddress("token_in", op.TokenIn); err != nil {
		return vault.SwapRequest{}, err
	}
	if req.TokenOut, err = parseAddress("token_out", op.TokenOut); err != nil {
		return vault.SwapRequest{}, err
	}
	if req.Kind, err = vault.ParseSwapKind(op.Kind); err != nil {
		return vault.SwapRequest{}, err
	}
	if req.Amount, err = parseAmount("amount", op.Amount); err != nil {
		return vault.SwapRequest{}, err
	}
	if req.Limit, err = parseLimit("limit", op.Limit); err != nil {
		return vault.SwapRequest{}, err
	}
	return req, nil
}

func routeRequest(op Op) (vault.RouteRequest, error) {
	p, err := parseParties(op, false)
	if err != nil {
		return vault.RouteRequest{}, err
	}
	req := vault.RouteRequest{Sender: p.sender, Receiver: p.receiver, Deadline: p.deadline}
	for i, h := range op.Hops {
		var hop vault.Hop
		if hop.Pool, err = parseAddress(fmt.Sprintf("hops[%d].pool", i), h.Pool); err != nil {
			return vault.RouteRequest{}, err
		}
		if hop.TokenIn, err = parseAddress(fmt.Sprintf("hops[%d].token_in", i), h.TokenIn); err != nil {
			return vault.RouteRequest{}, err
		}
		if hop.TokenOut, err = parseAddress(fmt.Sprintf("hops[%d].token_out", i), h.TokenOut); err != nil {
			return vault.RouteRequest{}, err
		}
		req.Hops = append(req.Hops, hop)
	}
	if req.Kind, err = vault.ParseSwapKind(op.Kind); err != nil {
		return vault.RouteRequest{}, err
	}
	if req.Amount, err = parseAmount("amount", op.Amount); err != nil {
		return vault.RouteRequest{}, err
	}
	if req.Limit, err = parseLimit("limit", op.Limit); err != nil {
		return vault.RouteRequest{}, err
	}
	return req, nil
}
