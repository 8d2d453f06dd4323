package model

// PoolState is the ledger view of one pool. Balances are native units in
// pool asset order.
type PoolState struct {
	Pool        string            `json:"pool"`
	Assets      []string          `json:"assets"`
	Weights     []string          `json:"weights"`
	Decimals    []uint8           `json:"decimals"`
	Balances    []string          `json:"balances"`
	TotalSupply string            `json:"total_supply"`
	SwapFee     string            `json:"swap_fee"`
	Holders     map[string]string `json:"holders,omitempty"`
	LastSeq     uint64            `json:"last_seq"`
}

// LedgerSnapshot is a complete copy of the vault ledger as of event Seq.
// Accrued holds protocol fees per asset in native units.
type LedgerSnapshot struct {
	Seq          uint64            `json:"seq"`
	Timestamp    uint64            `json:"timestamp"`
	Manager      string            `json:"manager"`
	FeeReceiver  string            `json:"fee_receiver"`
	ProtocolFee  string            `json:"protocol_fee"`
	FlashloanFee string            `json:"flashloan_fee"`
	Pools        []PoolState       `json:"pools"`
	Accrued      map[string]string `json:"accrued"`
}
