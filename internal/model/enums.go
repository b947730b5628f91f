package model

type AccountTier string

const (
	TierFree AccountTier = "free"
	TierPro  AccountTier = "pro"
)

// CreditKind identifies a meterable resource. The set is closed; adding a new
// metered capability means adding a tag here and a cost entry in config.
type CreditKind string

const (
	KindLeadLookup        CreditKind = "lead-lookup"
	KindCompanyEnrichment CreditKind = "company-enrichment"
	KindEmailVerification CreditKind = "email-verification"
	KindAIGeneration      CreditKind = "ai-generation"
	KindWorkflowRun       CreditKind = "workflow-run"
	KindCRMSync           CreditKind = "crm-sync"
	KindSMS               CreditKind = "sms"
	KindWhatsApp          CreditKind = "whatsapp"
	KindEmailDelivery     CreditKind = "email-delivery"
)

var allKinds = map[CreditKind]bool{
	KindLeadLookup:        true,
	KindCompanyEnrichment: true,
	KindEmailVerification: true,
	KindAIGeneration:      true,
	KindWorkflowRun:       true,
	KindCRMSync:           true,
	KindSMS:               true,
	KindWhatsApp:          true,
	KindEmailDelivery:     true,
}

func (k CreditKind) Valid() bool {
	return allKinds[k]
}

// AllKinds returns every known credit kind in a stable order.
func AllKinds() []CreditKind {
	return []CreditKind{
		KindLeadLookup,
		KindCompanyEnrichment,
		KindEmailVerification,
		KindAIGeneration,
		KindWorkflowRun,
		KindCRMSync,
		KindSMS,
		KindWhatsApp,
		KindEmailDelivery,
	}
}

// LedgerReason classifies a balance change. Positive entries carry purchase or
// refund, negative entries carry consumption or expiration.
type LedgerReason string

const (
	ReasonPurchase    LedgerReason = "purchase"
	ReasonConsumption LedgerReason = "consumption"
	ReasonRefund      LedgerReason = "refund"
	ReasonExpiration  LedgerReason = "expiration"
)
