package pool

import (
	"encoding/hex"
	"math/big"

	"creditpool/events"
)

const (
	eventTypeDeposit  = "pool.deposit"
	eventTypeWithdraw = "pool.withdraw"
	eventTypeIncome   = "pool.income"
	eventTypeLoss     = "pool.loss"
	eventTypeEnabled  = "pool.enabled"
	eventTypeDisabled = "pool.disabled"
)

func hexAddr(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func newDepositEvent(lender [20]byte, amount, shares *big.Int) *events.Event {
	return &events.Event{
		Type: eventTypeDeposit,
		Attributes: map[string]string{
			"lender": hexAddr(lender),
			"amount": amount.String(),
			"shares": shares.String(),
		},
	}
}

func newWithdrawEvent(lender [20]byte, amount, payout, burned *big.Int) *events.Event {
	return &events.Event{
		Type: eventTypeWithdraw,
		Attributes: map[string]string{
			"lender": hexAddr(lender),
			"amount": amount.String(),
			"payout": payout.String(),
			"shares": burned.String(),
		},
	}
}

func newDistributionEvent(eventType string, amount, totalShares *big.Int) *events.Event {
	return &events.Event{
		Type: eventType,
		Attributes: map[string]string{
			"amount":      amount.String(),
			"totalShares": totalShares.String(),
		},
	}
}

func newToggleEvent(eventType string) *events.Event {
	return &events.Event{Type: eventType, Attributes: map[string]string{}}
}
