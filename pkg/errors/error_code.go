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
	ErrCodeInsufficientData     ErrorCode = 103
	ErrCodeInvalidType          ErrorCode = 104
	ErrCodeMissingParameter     ErrorCode = 105
	ErrCodeInvalidSizing        ErrorCode = 106
	ErrCodeInvalidThreshold     ErrorCode = 107

	// Data/Resource errors (200-299)
	ErrCodeDataNotFound       ErrorCode = 200
	ErrCodeQueryFailed        ErrorCode = 201
	ErrCodeMissingColumn      ErrorCode = 202
	ErrCodeNonMonotonicSeries ErrorCode = 203
	ErrCodeEmptyDataset       ErrorCode = 204
	ErrCodeSymbolNotFound     ErrorCode = 205

	// Strategy/link errors (300-399)
	ErrCodeUnknownNodeType  ErrorCode = 300
	ErrCodeDanglingRef      ErrorCode = 301
	ErrCodeReferenceCycle   ErrorCode = 302
	ErrCodeUnboundParameter ErrorCode = 303
	ErrCodeExprParseFailed  ErrorCode = 304
	ErrCodeUnknownIndicator ErrorCode = 305

	// Trading errors (500-599)
	ErrCodeOrderFailed      ErrorCode = 500
	ErrCodePositionNotFound ErrorCode = 501
	ErrCodeOrderDropped     ErrorCode = 502

	// Backtest errors (600-699)
	ErrCodeBacktestConfigError ErrorCode = 600
	ErrCodeBacktestNoRules     ErrorCode = 601
	ErrCodeBacktestDataError   ErrorCode = 602
	ErrCodeBacktestCancelled   ErrorCode = 603

	// Optimization errors (700-799)
	ErrCodeEmptyParameterGrid ErrorCode = 700
	ErrCodeInvalidWindow      ErrorCode = 701
	ErrCodeOptimizationFailed ErrorCode = 702
)
