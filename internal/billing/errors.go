package billing

import "fmt"

// Configuration error codes. These describe a fixable setup problem, are
// surfaced verbatim to the caller, and are never retried.
const (
	CodePracticeNotFound          = "PRACTICE_NOT_FOUND"
	CodeNoCurrencyConfigured      = "NO_CURRENCY_CONFIGURED"
	CodeNoProviderForCurrency     = "NO_PROVIDER_FOR_CURRENCY"
	CodeProviderNotConfigured     = "PROVIDER_NOT_CONFIGURED"
	CodeNoVerifiedPlatformConfig  = "NO_VERIFIED_PLATFORM_PROVIDER"
	CodeProviderAdapterMissing    = "PROVIDER_ADAPTER_MISSING"
	CodePaymentInitFailed         = "PAYMENT_INIT_FAILED"
	CodeTransactionWriteFailed    = "TRANSACTION_WRITE_FAILED"
	CodeTransactionNotFound       = "TRANSACTION_NOT_FOUND"
	CodeCredentialDecryptionError = "CREDENTIAL_DECRYPTION_ERROR"
)

// ConfigError is a configuration failure in the payment routing setup
// (missing currency, no eligible provider, missing credentials).
type ConfigError struct {
	Code    string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func configErrorf(code, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Code: code, Message: fmt.Sprintf(format, args...)}
}
