package audithook

// Action constants for audit events.
const (
	// Code actions
	ActionCodeCreated = "code.created"

	// Referral actions
	ActionReferralCreated   = "referral.created"
	ActionReferralActivated = "referral.activated"
	ActionReferralChurned   = "referral.churned"
	ActionReferralExpired   = "referral.expired"

	// Commission actions
	ActionCommissionRecorded = "commission.recorded"
	ActionCommissionApproved = "commission.approved"
	ActionCommissionPaid     = "commission.paid"

	// Webhook actions
	ActionWebhookSkipped = "webhook.skipped"
)

// Resource constants for audit events.
const (
	ResourceCode       = "referral_code"
	ResourceReferral   = "referral"
	ResourceCommission = "commission"
	ResourceWebhook    = "webhook"
)

// Category constants for audit events.
const (
	CategoryReferral    = "referral"
	CategoryPayout      = "payout"
	CategoryIntegration = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
)
