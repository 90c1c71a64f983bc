package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrOperationFailed    = errors.New("database operation failed")
	ErrLockHeld           = errors.New("lock held by another owner")

	// Payment verification errors. Each one is a distinct Kind.
	ErrTransactionNotFound         = errors.New("transaction not found")
	ErrUnconfiguredProvider        = errors.New("payment provider not configured")
	ErrInvalidSignature            = errors.New("invalid webhook signature")
	ErrMalformedPayload            = errors.New("malformed webhook payload")
	ErrVerificationDataUnavailable = errors.New("no webhook payload supplied and provider cannot be polled")
	ErrAmountMismatch              = errors.New("reported amount or currency does not match transaction")
	ErrActivationFailed            = errors.New("subscription activation failed")
	ErrPersistence                 = errors.New("persistence error")
	ErrValidation                  = errors.New("validation error")
	ErrUnsupportedOperation        = errors.New("operation not supported by provider")
	ErrProviderRequest             = errors.New("payment provider request failed")
)

// Kind is the machine-readable class of a failure. Transports map it to their own codes.
type Kind string

const (
	KindUnknown                     Kind = "unknown"
	KindTransactionNotFound         Kind = "transaction_not_found"
	KindUnconfiguredProvider        Kind = "unconfigured_provider"
	KindInvalidSignature            Kind = "invalid_signature"
	KindMalformedPayload            Kind = "malformed_payload"
	KindVerificationDataUnavailable Kind = "verification_data_unavailable"
	KindAmountMismatch              Kind = "amount_mismatch"
	KindActivationFailed            Kind = "activation_failed"
	KindPersistence                 Kind = "persistence_error"
	KindValidation                  Kind = "validation_error"
	KindUnsupportedOperation        Kind = "unsupported_operation"
	KindProviderRequest             Kind = "provider_request_failed"
	KindNotFound                    Kind = "not_found"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrTransactionNotFound, KindTransactionNotFound},
	{ErrUnconfiguredProvider, KindUnconfiguredProvider},
	{ErrInvalidSignature, KindInvalidSignature},
	{ErrMalformedPayload, KindMalformedPayload},
	{ErrVerificationDataUnavailable, KindVerificationDataUnavailable},
	{ErrAmountMismatch, KindAmountMismatch},
	{ErrActivationFailed, KindActivationFailed},
	{ErrValidation, KindValidation},
	{ErrInvalidArgument, KindValidation},
	{ErrUnsupportedOperation, KindUnsupportedOperation},
	{ErrProviderRequest, KindProviderRequest},
	{ErrPersistence, KindPersistence},
	{ErrOperationFailed, KindPersistence},
	{ErrReadDatabaseRow, KindPersistence},
	{ErrInvalidExecContext, KindPersistence},
	{ErrNotFound, KindNotFound},
}

// KindOf classifies err. Sentinels are checked most specific first, so a
// repository ErrNotFound wrapped in ErrTransactionNotFound reports the latter.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}
