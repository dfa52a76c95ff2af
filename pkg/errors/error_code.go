package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrder         ErrorCode = 102
	ErrCodeInvalidPrice         ErrorCode = 103
	ErrCodeInvalidQuantity      ErrorCode = 104

	// Market data errors (200-299)
	ErrCodeDataNotFound          ErrorCode = 200
	ErrCodeDataSourceUnavailable ErrorCode = 201
	ErrCodeQueryFailed           ErrorCode = 202
	ErrCodeInvalidTick           ErrorCode = 203
	ErrCodeStreamClosed          ErrorCode = 204

	// Order errors (300-399)
	ErrCodeOrderFailed         ErrorCode = 300
	ErrCodeOrderRejected       ErrorCode = 301
	ErrCodeFillMismatch        ErrorCode = 302
	ErrCodeInsufficientBalance ErrorCode = 303
	ErrCodeRetryExhausted      ErrorCode = 304
	ErrCodePositionNotFound    ErrorCode = 305
	ErrCodePositionClosing     ErrorCode = 306

	// Risk errors (400-499)
	ErrCodeRiskLimitBreached ErrorCode = 400

	// Runner errors (500-599)
	ErrCodeRunnerInitFailed  ErrorCode = 500
	ErrCodeRunnerNotReady    ErrorCode = 501
	ErrCodeShutdownInFlight  ErrorCode = 502
	ErrCodeQueueFull         ErrorCode = 503
	ErrCodeStrategyNotLoaded ErrorCode = 504
)
