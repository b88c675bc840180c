package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrDuplicate        = fmt.Errorf("duplicate")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrInvalidInput     = fmt.Errorf("invalid input")
)

// Sentinel errors for the orchestration core.
var (
	// ErrStoreUnavailable marks a persistence fault. It always propagates to the
	// submit boundary as a hard failure.
	ErrStoreUnavailable = fmt.Errorf("persistence unavailable")

	ErrUnknownAgent     = fmt.Errorf("unknown agent")
	ErrUnknownAction    = fmt.Errorf("unknown action")
	ErrChainNotDeclared = fmt.Errorf("chained message not declared")
	ErrRegistrySealed   = fmt.Errorf("agent registry sealed")
	ErrAuditWrite       = fmt.Errorf("audit log write failed")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")
	ErrDecryption       = fmt.Errorf("decryption failed")
	ErrChannelDelivery  = fmt.Errorf("channel delivery failed")

	// Gateway / RPC errors.
	ErrAuthInvalid       = fmt.Errorf("authentication failed")
	ErrGatewayAuthFailed = fmt.Errorf("gateway: %w", ErrAuthInvalid)
	ErrRPCMethodNotFound = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload = fmt.Errorf("rpc payload invalid")
	ErrRateLimit         = fmt.Errorf("rate limit exceeded")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "SQLiteStore.Insert")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "store", "router"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem so that
// ErrorCodeOf can resolve category sentinels to a specific code.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsCollaboratorFault reports whether err originates from the persistence layer.
func IsCollaboratorFault(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeStoreUnavailable  ErrorCode = "STORE_UNAVAILABLE"
	CodeUnknownAgent      ErrorCode = "UNKNOWN_AGENT"
	CodeUnknownAction     ErrorCode = "UNKNOWN_ACTION"
	CodeChainNotDeclared  ErrorCode = "CHAIN_NOT_DECLARED"
	CodeRegistrySealed    ErrorCode = "REGISTRY_SEALED"
	CodeAuditWrite        ErrorCode = "AUDIT_WRITE"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeDecryption        ErrorCode = "DECRYPTION"
	CodeChannelDelivery   ErrorCode = "CHANNEL_DELIVERY"
	CodeAuthInvalid       ErrorCode = "AUTH_INVALID"
	CodeGatewayAuth       ErrorCode = "GATEWAY_AUTH"
	CodeRPCMethodNotFound ErrorCode = "RPC_METHOD_NOT_FOUND"
	CodeRPCInvalidPayload ErrorCode = "RPC_INVALID_PAYLOAD"
	CodeRateLimit         ErrorCode = "RATE_LIMIT"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeAgentNotFound    ErrorCode = "AGENT_NOT_FOUND"
	CodeAgentDuplicate   ErrorCode = "AGENT_DUPLICATE"
	CodeRecordNotFound   ErrorCode = "RECORD_NOT_FOUND"
	CodePayloadInvalid   ErrorCode = "PAYLOAD_INVALID"
	CodeScheduleInvalid  ErrorCode = "SCHEDULE_INVALID"
	CodeTriggerNotFound  ErrorCode = "TRIGGER_NOT_FOUND"
	CodeChannelNotFound  ErrorCode = "CHANNEL_NOT_FOUND"
	CodeChannelRateLimit ErrorCode = "CHANNEL_TIMEOUT"

	// Category fallback codes.
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
)

var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrDuplicate:        CodeDuplicate,
	ErrTimeout:          CodeTimeout,
	ErrPermissionDenied: CodePermissionDenied,
	ErrInvalidInput:     CodeInvalidInput,

	ErrStoreUnavailable:  CodeStoreUnavailable,
	ErrUnknownAgent:      CodeUnknownAgent,
	ErrUnknownAction:     CodeUnknownAction,
	ErrChainNotDeclared:  CodeChainNotDeclared,
	ErrRegistrySealed:    CodeRegistrySealed,
	ErrAuditWrite:        CodeAuditWrite,
	ErrConfigLoad:        CodeConfigLoad,
	ErrDecryption:        CodeDecryption,
	ErrChannelDelivery:   CodeChannelDelivery,
	ErrAuthInvalid:       CodeAuthInvalid,
	ErrGatewayAuthFailed: CodeGatewayAuth,
	ErrRPCMethodNotFound: CodeRPCMethodNotFound,
	ErrRPCInvalidPayload: CodeRPCInvalidPayload,
	ErrRateLimit:         CodeRateLimit,
}

var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"router":    CodeAgentNotFound,
		"store":     CodeRecordNotFound,
		"scheduler": CodeTriggerNotFound,
		"channel":   CodeChannelNotFound,
	},
	ErrDuplicate: {
		"router": CodeAgentDuplicate,
	},
	ErrInvalidInput: {
		"payload":   CodePayloadInvalid,
		"scheduler": CodeScheduleInvalid,
	},
	ErrTimeout: {
		"channel": CodeChannelRateLimit,
	},
}

// ErrorCodeOf returns the machine-parseable error code for err.
// DomainErrors with a SubSystem are resolved through subSystemCodeMap first.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
