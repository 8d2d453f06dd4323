package scenario

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"weightedVault/internal/vault"
)

// scriptedBorrower repays from its own account according to mode.
type scriptedBorrower struct {
	address common.Address
	world   *World
	mode    string
}

func (b *scriptedBorrower) Address() common.Address { return b.address }

func (b *scriptedBorrower) OnFlashloan(v *vault.Vault, tokens []common.Address, amounts, fees []*uint256.Int) error {
	if b.mode == RepayPanic {
		panic("scripted borrower panic")
	}
	for i, asset := range tokens {
		owed := new(uint256.Int).Add(amounts[i], fees[i])
		if b.mode == RepayShort {
			owed = new(uint256.Int).Set(amounts[i])
		}
		tok, ok := b.world.Tokens[asset]
		if !ok {
			return fmt.Errorf("unknown asset %s", asset.Hex())
		}
		if err := tok.Transfer(b.address, v.Address(), owed); err != nil {
			return err
		}
	}
	return nil
}
