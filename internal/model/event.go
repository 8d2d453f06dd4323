package model

import (
	"encoding/json"
	"fmt"
)

// Event is one entry of the vault's event log.
type Event struct {
	Seq       uint64      `json:"seq"`
	Timestamp uint64      `json:"timestamp"`
	EventName string      `json:"event_name"`
	Pool      string      `json:"pool,omitempty"`
	Decoded   interface{} `json:"decoded"`
}

// EventRecord is the JSON representation of an Event read back from storage.
type EventRecord struct {
	Seq       uint64          `json:"seq"`
	Timestamp uint64          `json:"timestamp"`
	EventName string          `json:"event_name"`
	Pool      string          `json:"pool,omitempty"`
	Decoded   json.RawMessage `json:"decoded"`
}

// Decode unmarshals the payload into the struct matching EventName.
func (r EventRecord) Decode() (interface{}, error) {
	var target interface{}
	switch r.EventName {
	case EventPoolRegistered:
		target = &PoolRegisteredData{}
	case EventDeposit:
		target = &DepositData{}
	case EventWithdraw:
		target = &WithdrawData{}
	case EventSwap:
		target = &SwapData{}
	case EventFlashloan:
		target = &FlashloanData{}
	case EventProtocolFeesWithdrawn, EventFlashloanFeesWithdrawn:
		target = &FeesWithdrawnData{}
	case EventSwapFeeUpdate, EventProtocolFeeUpdate, EventFlashloanFeeUpdate:
		target = &FeeUpdateData{}
	case EventFeeReceiverUpdate, EventManagerUpdate:
		target = &AddressUpdateData{}
	default:
		return nil, fmt.Errorf("unknown event %q", r.EventName)
	}
	if err := json.Unmarshal(r.Decoded, target); err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.EventName, err)
	}
	return target, nil
}

// Record converts an in-memory event to its storage form.
func (e Event) Record() (EventRecord, error) {
	payload, err := json.Marshal(e.Decoded)
	if err != nil {
		return EventRecord{}, fmt.Errorf("encode %s: %w", e.EventName, err)
	}
	return EventRecord{
		Seq:       e.Seq,
		Timestamp: e.Timestamp,
		EventName: e.EventName,
		Pool:      e.Pool,
		Decoded:   payload,
	}, nil
}
