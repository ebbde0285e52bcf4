package audit

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

type Event struct {
	Timestamp time.Time        `json:"timestamp"`
	EventType string           `json:"event_type"`
	Reference string           `json:"reference"`
	AccountID string           `json:"account_id,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Status    string           `json:"status"`
	Details   any              `json:"details,omitempty"`
}

// Logger writes one JSON line per ledger-relevant event.
type Logger struct {
	entry *log.Entry
}

func NewLogger() *Logger {
	return &Logger{entry: log.WithField("component", "audit")}
}

func (a *Logger) LogTransfer(transactionID, fromAccount, toAccount string, amount decimal.Decimal, status string) {
	a.log(Event{
		Timestamp: time.Now().UTC(),
		EventType: "TRANSFER",
		Reference: transactionID,
		AccountID: fromAccount,
		Amount:    &amount,
		Status:    status,
		Details: map[string]string{
			"from_account": fromAccount,
			"to_account":   toAccount,
		},
	})
}

func (a *Logger) LogSettlement(sessionID, actor, status string) {
	a.log(Event{
		Timestamp: time.Now().UTC(),
		EventType: "SETTLEMENT",
		Reference: sessionID,
		AccountID: actor,
		Status:    status,
	})
}

func (a *Logger) LogError(reference, accountID string, err error) {
	a.log(Event{
		Timestamp: time.Now().UTC(),
		EventType: "ERROR",
		Reference: reference,
		AccountID: accountID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	a.entry.Infof("AUDIT: %s", string(data))
}
