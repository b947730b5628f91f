package audit

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventAccountCreate      EventType = "account_create"
	EventTokenRegenerate    EventType = "token_regenerate"
	EventCreditGrant        EventType = "credit_grant"
	EventCreditConsume      EventType = "credit_consume"
	EventCreditRefund       EventType = "credit_refund"
	EventCreditExpire       EventType = "credit_expire"
	EventLedgerInconsistent EventType = "ledger_inconsistent"
	EventAdminAuthFailure   EventType = "admin_auth_failure"
)

// Event is one audit record. Every ledger mutation and every integrity
// finding produces exactly one.
type Event struct {
	Type          EventType
	AccountID     string
	Kind          string
	Amount        int64
	BalanceAfter  int64
	CorrelationID string
	Details       map[string]interface{}
}

// Log emits the event on a stream tagged audit=ledger so it can be routed
// separately from ordinary application logs.
func Log(event Event) {
	logger := log.With().
		Str("audit", "ledger").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.AccountID != "" {
		logger = logger.With().Str("account_id", event.AccountID).Logger()
	}
	if event.Kind != "" {
		logger = logger.With().
			Str("kind", event.Kind).
			Int64("amount", event.Amount).
			Int64("balance_after", event.BalanceAfter).
			Logger()
	}
	if event.CorrelationID != "" {
		logger = logger.With().Str("correlation_id", event.CorrelationID).Logger()
	}

	logEvent := logger.Info()
	if event.Type == EventLedgerInconsistent {
		// Integrity faults must stand out from routine mutations.
		logEvent = logger.Error()
	}
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("ledger audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}
