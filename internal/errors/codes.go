package errors

// Kind classifies a mailslot failure. Callers branch on Kind, never on message text.
type Kind string

const (
	KindInvalidLength     Kind = "INVALID_LENGTH"
	KindBufferTooSmall    Kind = "BUFFER_TOO_SMALL"
	KindInsufficientSpace Kind = "INSUFFICIENT_SPACE"
	KindNoMessage         Kind = "NO_MESSAGE"
	KindInterrupted       Kind = "INTERRUPTED"
	KindInvalidConfig     Kind = "INVALID_CONFIG"
	KindBusy              Kind = "BUSY"
	KindNoSuchChannel     Kind = "NO_SUCH_CHANNEL"
	KindAllocationFailure Kind = "ALLOCATION_FAILURE"
	KindClosed            Kind = "CLOSED"
	KindInvalidHandle     Kind = "INVALID_HANDLE"
	KindInternal          Kind = "INTERNAL"
)

// Severity levels.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// KindInfo contains the static description of an error kind.
type KindInfo struct {
	Kind      Kind     `json:"kind"`
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
	Retryable bool     `json:"retryable"`
}

// Categories: VAL (caller input), RES (resource state), CFG (configuration),
// SES (session), INT (internal).
var kindDefinitions = map[Kind]KindInfo{
	KindInvalidLength: {
		Kind:      KindInvalidLength,
		Code:      "MS_VAL_001",
		Message:   "invalid message length",
		Severity:  SeverityLow,
		Retryable: true,
	},
	KindBufferTooSmall: {
		Kind:      KindBufferTooSmall,
		Code:      "MS_VAL_002",
		Message:   "buffer smaller than pending message",
		Severity:  SeverityLow,
		Retryable: true,
	},
	KindNoSuchChannel: {
		Kind:      KindNoSuchChannel,
		Code:      "MS_VAL_003",
		Message:   "no such channel",
		Severity:  SeverityLow,
		Retryable: false,
	},
	KindInsufficientSpace: {
		Kind:      KindInsufficientSpace,
		Code:      "MS_RES_001",
		Message:   "insufficient space in channel",
		Severity:  SeverityLow,
		Retryable: true,
	},
	KindNoMessage: {
		Kind:      KindNoMessage,
		Code:      "MS_RES_002",
		Message:   "no message available",
		Severity:  SeverityLow,
		Retryable: true,
	},
	KindInterrupted: {
		Kind:      KindInterrupted,
		Code:      "MS_RES_003",
		Message:   "blocked operation interrupted",
		Severity:  SeverityLow,
		Retryable: true,
	},
	KindBusy: {
		Kind:      KindBusy,
		Code:      "MS_RES_004",
		Message:   "channel busy",
		Severity:  SeverityLow,
		Retryable: true,
	},
	KindAllocationFailure: {
		Kind:      KindAllocationFailure,
		Code:      "MS_RES_005",
		Message:   "message storage allocation failed",
		Severity:  SeverityHigh,
		Retryable: false,
	},
	KindClosed: {
		Kind:      KindClosed,
		Code:      "MS_RES_006",
		Message:   "channel registry shut down",
		Severity:  SeverityMedium,
		Retryable: false,
	},
	KindInvalidConfig: {
		Kind:      KindInvalidConfig,
		Code:      "MS_CFG_001",
		Message:   "invalid configuration value",
		Severity:  SeverityLow,
		Retryable: false,
	},
	KindInvalidHandle: {
		Kind:      KindInvalidHandle,
		Code:      "MS_SES_001",
		Message:   "invalid or closed handle",
		Severity:  SeverityLow,
		Retryable: false,
	},
	KindInternal: {
		Kind:      KindInternal,
		Code:      "MS_INT_001",
		Message:   "internal error",
		Severity:  SeverityCritical,
		Retryable: false,
	},
}

// GetKindInfo returns the static description of kind.
func GetKindInfo(kind Kind) (KindInfo, bool) {
	info, exists := kindDefinitions[kind]

	return info, exists
}

// Kinds returns every defined kind. Order is unspecified.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(kindDefinitions))
	for k := range kindDefinitions {
		kinds = append(kinds, k)
	}

	return kinds
}
