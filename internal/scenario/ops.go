package scenario

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Operation names accepted in a script.
const (
	OpMint                  = "mint"
	OpApprove               = "approve"
	OpRegister              = "register"
	OpJoin                  = "join"
	OpJoinSingle            = "join-single"
	OpJoinPartial           = "join-partial"
	OpJoinForLP             = "join-lp"
	OpExit                  = "exit"
	OpExitSingle            = "exit-single"
	OpExitPartial           = "exit-partial"
	OpSwap                  = "swap"
	OpRoute                 = "route"
	OpFlashloan             = "flashloan"
	OpWithdrawFees          = "withdraw-fees"
	OpWithdrawFlashloanFees = "withdraw-flashloan-fees"
	OpSetSwapFee            = "set-swap-fee"
	OpSetProtocolFee        = "set-protocol-fee"
	OpSetFlashloanFee       = "set-flashloan-fee"
	OpSetFeeReceiver        = "set-fee-receiver"
	OpChangeManager         = "change-manager"
)

// Flashloan repayment behaviours of the scripted borrower.
const (
	RepayFull  = "full"
	RepayShort = "short"
	RepayPanic = "panic"
)

// HopSpec is one leg of a scripted route.
type HopSpec struct {
	Pool     string `json:"pool"`
	TokenIn  string `json:"token_in"`
	TokenOut string `json:"token_out"`
}

// Op is one line of a script. Which fields matter depends on Op:
//
//	join, join-single, join-partial: assets, amounts, limit (min LP out)
//	join-lp: lp (exact LP wanted), limits (max amounts in), limit (min LP out)
//	exit: lp, limits (min amounts out); exit-single: lp, assets, limit;
//	exit-partial: assets, amounts, limit (max LP in)
//	swap: token_in, token_out, kind, amount, limit; route: hops, kind, amount, limit
//	flashloan: sender (borrower), assets, amounts, repay
//	withdraw-fees, withdraw-flashloan-fees: sender (manager), assets, amounts, receivers
//	set-*: sender (manager), fee or receiver; change-manager: sender, receiver
//	mint, approve: token, holder, amount (approve also uses spender)
//	register: assets, weights, fee, salt
type Op struct {
	Line int `json:"-"`

	Op        string    `json:"op"`
	Pool      string    `json:"pool,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Receiver  string    `json:"receiver,omitempty"`
	Assets    []string  `json:"assets,omitempty"`
	Amounts   []string  `json:"amounts,omitempty"`
	Limits    []string  `json:"limits,omitempty"`
	Limit     string    `json:"limit,omitempty"`
	LP        string    `json:"lp,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	TokenIn   string    `json:"token_in,omitempty"`
	TokenOut  string    `json:"token_out,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Hops      []HopSpec `json:"hops,omitempty"`
	Fee       string    `json:"fee,omitempty"`
	Receivers []string  `json:"receivers,omitempty"`
	Deadline  uint64    `json:"deadline,omitempty"`
	Repay     string    `json:"repay,omitempty"`
	Token     string    `json:"token,omitempty"`
	Holder    string    `json:"holder,omitempty"`
	Spender   string    `json:"spender,omitempty"`
	Weights   []string  `json:"weights,omitempty"`
	Salt      string    `json:"salt,omitempty"`
}

// ReadOps parses a JSONL script. Blank lines and lines starting with # are
// skipped; Line is the 1-based line number.
func ReadOps(path string) ([]Op, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ops: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var ops []Op
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		var op Op
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&op); err != nil {
			return nil, fmt.Errorf("ops line %d: %w", line, err)
		}
		if op.Op == "" {
			return nil, fmt.Errorf("ops line %d: missing op", line)
		}
		op.Line = line
		ops = append(ops, op)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan ops: %w", err)
	}
	return ops, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func parseAddresses(field string, values []string) ([]common.Address, error) {
	out := make([]common.Address, len(values))
	for i, s := range values {
		a, err := parseAddress(fmt.Sprintf("%s[%d]", field, i), s)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

func parseAmount(field, s string) (*uint256.Int, error) {
	a, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid amount %q: %w", field, s, err)
	}
	return a, nil
}

// parseLimit treats an empty string as no limit.
func parseLimit(field, s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	return parseAmount(field, s)
}

func parseAmounts(field string, values []string) ([]*uint256.Int, error) {
	out := make([]*uint256.Int, len(values))
	for i, s := range values {
		a, err := parseAmount(fmt.Sprintf("%s[%d]", field, i), s)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}
