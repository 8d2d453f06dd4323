package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"weightedVault/internal/access"
	"weightedVault/internal/model"
)

func (v *Vault) ProtocolFee() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(v.protocolFee)
}

func (v *Vault) FlashloanFee() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(v.flashloanFee)
}

func (v *Vault) FeeReceiverAddress() common.Address {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.feeReceiver
}

func (v *Vault) Manager() common.Address { return v.manager.Address() }

// SetProtocolFee sets the share of every swap, join and exit fee kept for
// the protocol.
func (v *Vault) SetProtocolFee(caller common.Address, fee *uint256.Int) error {
	return v.setRate(caller, fee, MaxProtocolFee, &v.protocolFee, model.EventProtocolFeeUpdate)
}

// SetFlashloanFee sets the rate charged on flashloan amounts.
func (v *Vault) SetFlashloanFee(caller common.Address, fee *uint256.Int) error {
	return v.setRate(caller, fee, MaxFlashloanFee, &v.flashloanFee, model.EventFlashloanFeeUpdate)
}

func (v *Vault) setRate(caller common.Address, fee *uint256.Int, ceiling uint64, rate **uint256.Int, name string) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.mu.Unlock()
	if err := v.manager.Check(caller); err != nil {
		return err
	}
	if fee == nil || fee.Gt(uint256.NewInt(ceiling)) {
		return fmt.Errorf("%s: %w", name, ErrFeeTooHigh)
	}
	previous := *rate
	*rate = new(uint256.Int).Set(fee)
	v.emit([]model.Event{v.event(name, common.Address{}, model.FeeUpdateData{Previous: previous.Dec(), Fee: fee.Dec()})})
	v.logger.Info("fee updated", zap.String("event", name), zap.String("fee", fee.Dec()))
	return nil
}

// SetSwapFee sets a pool's swap fee. Authorization is the registry's.
func (v *Vault) SetSwapFee(caller, id common.Address, fee *uint256.Int) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.mu.Unlock()
	pool, err := v.pool(id)
	if err != nil {
		return err
	}
	if err := v.registry.SetSwapFee(caller, id, fee); err != nil {
		return err
	}
	v.emit([]model.Event{v.event(model.EventSwapFeeUpdate, id, model.FeeUpdateData{Previous: pool.SwapFee.Dec(), Fee: fee.Dec()})})
	v.logger.Info("swap fee updated", zap.String("pool", id.Hex()), zap.String("fee", fee.Dec()))
	return nil
}

// SetFeeReceiver redirects future flashloan proceeds.
func (v *Vault) SetFeeReceiver(caller, next common.Address) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.mu.Unlock()
	if err := v.manager.Check(caller); err != nil {
		return err
	}
	if next == (common.Address{}) {
		return access.ErrZeroAddress
	}
	previous := v.feeReceiver
	v.feeReceiver = next
	v.emit([]model.Event{v.event(model.EventFeeReceiverUpdate, common.Address{}, model.AddressUpdateData{Previous: previous.Hex(), Next: next.Hex()})})
	return nil
}

// ChangeManager hands the vault manager role to next.
func (v *Vault) ChangeManager(caller, next common.Address) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.mu.Unlock()
	previous := v.manager.Address()
	if err := v.manager.Change(caller, next); err != nil {
		return err
	}
	v.emit([]model.Event{v.event(model.EventManagerUpdate, common.Address{}, model.AddressUpdateData{Previous: previous.Hex(), Next: next.Hex()})})
	v.logger.Info("manager changed", zap.String("manager", next.Hex()))
	return nil
}
