package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"weightedVault/internal/config"
	"weightedVault/internal/scenario"
	"weightedVault/internal/snapshot"
	"weightedVault/internal/storage/postgres"
	"weightedVault/internal/vault"
)

type hopQuote struct {
	Pool        string `json:"pool"`
	TokenIn     string `json:"token_in"`
	TokenOut    string `json:"token_out"`
	AmountIn    string `json:"amount_in"`
	AmountOut   string `json:"amount_out"`
	Fee         string `json:"fee"`
	ProtocolFee string `json:"protocol_fee"`
}

type joinQuote struct {
	Seq       uint64   `json:"seq"`
	Pool      string   `json:"pool"`
	LPOut     string   `json:"lp_out"`
	AmountsIn []string `json:"amounts_in"`
}

type quoteOutput struct {
	Seq       uint64     `json:"seq"`
	Kind      string     `json:"kind"`
	AmountIn  string     `json:"amount_in"`
	AmountOut string     `json:"amount_out"`
	Hops      []hopQuote `json:"hops"`
}

func runQuote(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadQuote(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	lpFlag, _ := cmd.Flags().GetString("lp-out")
	var req vault.RouteRequest
	if lpFlag == "" {
		if req, err = quoteRequest(cmd); err != nil {
			return err
		}
	}

	ctx := context.Background()
	var store snapshot.Store = snapshot.NewFileStore(cfg.SnapshotFile)
	if cfg.PGDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		store = &snapshot.DBStore{Store: pg, Name: cfg.SnapshotName}
	}
	snap, ok, err := store.Load(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no snapshot found")
	}

	world, err := scenario.Build(ctx, cfg.Vault, scenario.Options{Snapshot: &snap, Logger: logger})
	if err != nil {
		return err
	}
	if lpFlag != "" {
		return quoteJoinForLP(cmd, world.Vault, snap.Seq, lpFlag)
	}
	res, err := world.Vault.CalculateRoute(req)
	if err != nil {
		return err
	}

	out := quoteOutput{
		Seq:       snap.Seq,
		Kind:      res.Kind.String(),
		AmountIn:  res.AmountIn.Dec(),
		AmountOut: res.AmountOut.Dec(),
	}
	for _, h := range res.Hops {
		out.Hops = append(out.Hops, hopQuote{
			Pool:        h.Pool.Hex(),
			TokenIn:     h.TokenIn.Hex(),
			TokenOut:    h.TokenOut.Hex(),
			AmountIn:    h.AmountIn.Dec(),
			AmountOut:   h.AmountOut.Dec(),
			Fee:         h.Fee.Dec(),
			ProtocolFee: h.ProtocolFee.Dec(),
		})
	}
	logger.Debug("quoted", zap.Int("hops", len(out.Hops)), zap.String("kind", out.Kind))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func quoteJoinForLP(cmd *cobra.Command, v *vault.Vault, seq uint64, lpFlag string) error {
	poolFlag, _ := cmd.Flags().GetString("pool")
	if !common.IsHexAddress(poolFlag) {
		return fmt.Errorf("invalid pool %q", poolFlag)
	}
	lpOut, err := uint256.FromDecimal(lpFlag)
	if err != nil {
		return fmt.Errorf("invalid lp-out %q: %w", lpFlag, err)
	}
	pool := common.HexToAddress(poolFlag)
	amounts, err := v.CalculateJoinForLP(pool, lpOut)
	if err != nil {
		return err
	}
	out := joinQuote{Seq: seq, Pool: pool.Hex(), LPOut: lpOut.Dec()}
	for _, a := range amounts {
		out.AmountsIn = append(out.AmountsIn, a.Dec())
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// quoteRequest builds a route from either --hop flags or the single-pool
// --pool/--token-in/--token-out flags.
func quoteRequest(cmd *cobra.Command) (vault.RouteRequest, error) {
	kindFlag, _ := cmd.Flags().GetString("kind")
	kind, err := vault.ParseSwapKind(kindFlag)
	if err != nil {
		return vault.RouteRequest{}, err
	}
	amountFlag, _ := cmd.Flags().GetString("amount")
	amount, err := uint256.FromDecimal(amountFlag)
	if err != nil {
		return vault.RouteRequest{}, fmt.Errorf("invalid amount %q: %w", amountFlag, err)
	}

	specs, _ := cmd.Flags().GetStringSlice("hop")
	if len(specs) == 0 {
		pool, _ := cmd.Flags().GetString("pool")
		tokenIn, _ := cmd.Flags().GetString("token-in")
		tokenOut, _ := cmd.Flags().GetString("token-out")
		specs = []string{pool + ":" + tokenIn + ":" + tokenOut}
	}

	req := vault.RouteRequest{Kind: kind, Amount: amount}
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) != 3 {
			return vault.RouteRequest{}, fmt.Errorf("invalid hop %q", spec)
		}
		for _, p := range parts {
			if !common.IsHexAddress(p) {
				return vault.RouteRequest{}, fmt.Errorf("invalid hop %q: bad address %q", spec, p)
			}
		}
		req.Hops = append(req.Hops, vault.Hop{
			Pool:     common.HexToAddress(parts[0]),
			TokenIn:  common.HexToAddress(parts[1]),
			TokenOut: common.HexToAddress(parts[2]),
		})
	}
	return req, nil
}

