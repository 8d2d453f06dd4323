package model

// Event names emitted by the vault.
const (
	EventPoolRegistered         = "PoolRegistered"
	EventDeposit                = "Deposit"
	EventWithdraw               = "Withdraw"
	EventSwap                   = "Swap"
	EventFlashloan              = "Flashloan"
	EventProtocolFeesWithdrawn  = "ProtocolFeesWithdrawn"
	EventFlashloanFeesWithdrawn = "FlashloanFeesWithdrawn"
	EventSwapFeeUpdate          = "SwapFeeUpdate"
	EventProtocolFeeUpdate      = "ProtocolFeeUpdate"
	EventFlashloanFeeUpdate     = "FlashloanFeeUpdate"
	EventFeeReceiverUpdate      = "FeeReceiverUpdate"
	EventManagerUpdate          = "ManagerUpdate"
)

// Join and exit kinds recorded on Deposit and Withdraw.
const (
	KindInitialize   = "initialize"
	KindProportional = "proportional"
	KindSingleAsset  = "single_asset"
	KindPartial      = "partial"
)

// Swap kinds recorded on Swap.
const (
	SwapExactIn  = "exact_in"
	SwapExactOut = "exact_out"
)

// PoolRegisteredData is the PoolRegistered payload.
type PoolRegisteredData struct {
	Assets   []string `json:"assets"`
	Weights  []string `json:"weights"`
	Decimals []uint8  `json:"decimals"`
	SwapFee  string   `json:"swap_fee"`
}

// DepositData is the Deposit payload. Amounts are native units in pool asset
// order; the pool keeps Amounts[i] - ProtocolFees[i].
type DepositData struct {
	Kind         string   `json:"kind"`
	Sender       string   `json:"sender"`
	Receiver     string   `json:"receiver"`
	LPAmount     string   `json:"lp_amount"`
	Amounts      []string `json:"amounts"`
	Fees         []string `json:"fees"`
	ProtocolFees []string `json:"protocol_fees"`
}

// WithdrawData is the Withdraw payload. The pool loses
// Amounts[i] + ProtocolFees[i].
type WithdrawData struct {
	Kind         string   `json:"kind"`
	Sender       string   `json:"sender"`
	Receiver     string   `json:"receiver"`
	LPAmount     string   `json:"lp_amount"`
	Amounts      []string `json:"amounts"`
	Fees         []string `json:"fees"`
	ProtocolFees []string `json:"protocol_fees"`
}

// SwapData is the Swap payload. The protocol fee is denominated in TokenIn.
type SwapData struct {
	Kind        string `json:"kind"`
	Sender      string `json:"sender"`
	Receiver    string `json:"receiver"`
	TokenIn     string `json:"token_in"`
	TokenOut    string `json:"token_out"`
	AmountIn    string `json:"amount_in"`
	AmountOut   string `json:"amount_out"`
	Fee         string `json:"fee"`
	ProtocolFee string `json:"protocol_fee"`
}

// FlashloanData is the Flashloan payload.
type FlashloanData struct {
	Borrower string   `json:"borrower"`
	Tokens   []string `json:"tokens"`
	Amounts  []string `json:"amounts"`
	Fees     []string `json:"fees"`
}

// FeesWithdrawnData is the payload of both fee withdrawal events.
type FeesWithdrawnData struct {
	Caller    string   `json:"caller"`
	Tokens    []string `json:"tokens"`
	Amounts   []string `json:"amounts"`
	Receivers []string `json:"receivers"`
}

// FeeUpdateData is the payload of the fee rate updates. Swap fee updates
// carry the pool on the event envelope.
type FeeUpdateData struct {
	Previous string `json:"previous"`
	Fee      string `json:"fee"`
}

// AddressUpdateData is the payload of manager and fee receiver changes.
type AddressUpdateData struct {
	Previous string `json:"previous"`
	Next     string `json:"next"`
}
