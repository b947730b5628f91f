package config

import (
	"time"

	"github.com/prospectiq/credit-server-go/internal/model"
)

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerWriteTimeout    = 60 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// MaxRequestBodyBytes caps inbound request bodies. Metered-call payloads are
// small JSON documents (a lead to look up, a message to send); 64KB leaves
// headroom for workflow inputs.
const MaxRequestBodyBytes = 64 << 10

// Budget for one full expiration sweep pass
const SweepRunTimeout = 5 * time.Minute

// How many expired grants one sweep pass claims at most. Leftovers are picked
// up by the next invocation.
const SweepBatchSize = 500

// RateRule is a sliding-window rate limit: at most MaxRequests per Window.
type RateRule struct {
	Window      time.Duration
	MaxRequests int
}

// DefaultRateRule applies to services without an explicit rule.
var DefaultRateRule = RateRule{Window: time.Minute, MaxRequests: 60}

// ServiceRateRules configures per-service windows for the metered endpoints.
var ServiceRateRules = map[string]RateRule{
	"email-finder":       {Window: time.Minute, MaxRequests: 10},
	"company-enrichment": {Window: time.Minute, MaxRequests: 20},
	"email-verifier":     {Window: time.Minute, MaxRequests: 30},
	"ai-writer":          {Window: time.Minute, MaxRequests: 15},
	"workflow":           {Window: time.Minute, MaxRequests: 30},
	"crm-sync":           {Window: time.Minute, MaxRequests: 30},
	"sms":                {Window: time.Minute, MaxRequests: 30},
	"whatsapp":           {Window: time.Minute, MaxRequests: 30},
	"email-delivery":     {Window: time.Minute, MaxRequests: 60},
}

// ServiceCost maps a metered service to the credit kind it draws from and its
// fixed per-call cost.
type ServiceCost struct {
	Kind model.CreditKind
	Cost int64
}

var ServiceCosts = map[string]ServiceCost{
	"email-finder":       {Kind: model.KindLeadLookup, Cost: 1},
	"company-enrichment": {Kind: model.KindCompanyEnrichment, Cost: 2},
	"email-verifier":     {Kind: model.KindEmailVerification, Cost: 1},
	"ai-writer":          {Kind: model.KindAIGeneration, Cost: 5},
	"workflow":           {Kind: model.KindWorkflowRun, Cost: 1},
	"crm-sync":           {Kind: model.KindCRMSync, Cost: 1},
	"sms":                {Kind: model.KindSMS, Cost: 1},
	"whatsapp":           {Kind: model.KindWhatsApp, Cost: 1},
	"email-delivery":     {Kind: model.KindEmailDelivery, Cost: 1},
}

// Free-tier starter grants issued at account creation.
const FreeTierGrantTTL = 30 * 24 * time.Hour

var FreeTierGrants = map[model.CreditKind]int64{
	model.KindLeadLookup:   10,
	model.KindAIGeneration: 5,
}
