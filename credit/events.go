package credit

import (
	"encoding/hex"
	"strconv"

	"creditpool/events"
)

const (
	EventTypeCreditRequested   = "credit.requested"
	EventTypeCreditApproved    = "credit.approved"
	EventTypeCreditInvalidated = "credit.invalidated"
	EventTypeCreditDrawdown    = "credit.drawdown"
	EventTypeCreditPayment     = "credit.payment"
	EventTypeCreditPayoff      = "credit.payoff"
	EventTypeCreditDefaulted   = "credit.defaulted"
	EventTypeCreditClosed      = "credit.closed"
)

func newCreditEvent(eventType string, rec *CreditRecord) *events.Event {
	if rec == nil {
		return nil
	}
	attrs := map[string]string{
		"borrower":          hex.EncodeToString(rec.Borrower[:]),
		"state":             rec.State.String(),
		"balance":           cloneBigInt(rec.Balance).String(),
		"creditLimit":       cloneBigInt(rec.CreditLimit).String(),
		"dueAmount":         cloneBigInt(rec.DueAmount).String(),
		"dueDate":           strconv.FormatInt(rec.DueDate, 10),
		"remainingPayments": strconv.FormatUint(uint64(rec.RemainingPayments), 10),
	}
	return &events.Event{Type: eventType, Attributes: attrs}
}
