package security

// Event type constants for security audit logging.
const (
	// Authorization flow

	EventAuthorizationFlowStarted = "authorization_flow_started"
	EventProviderCallbackError    = "provider_callback_error"
	EventAuthorizationCodeIssued  = "authorization_code_issued"
	EventStateRejected            = "state_rejected"

	// Token lifecycle

	EventTokenIssued    = "token_issued"
	EventTokenRefreshed = "token_refreshed"
	EventTokenRevoked   = "token_revoked"

	// Failures

	EventPKCEValidationFailed       = "pkce_validation_failed"
	EventPKCERequired               = "pkce_required"
	EventProviderCodeExchangeFailed = "provider_code_exchange_failed"
	EventInvalidCode                = "invalid_authorization_code"
	EventAuthFailure                = "auth_failure"
	EventRateLimitExceeded          = "rate_limit_exceeded"

	// Client registration

	EventClientRegistered           = "client_registered"
	EventClientRegistrationRejected = "client_registration_rejected"
)
