package tabhost

import "fmt"

const (
	CodeValidation        = "VALIDATION"
	CodeRestrictedURL     = "RESTRICTED_URL"
	CodeTabNotFound       = "TAB_NOT_FOUND"
	CodeTabDiscarded      = "TAB_DISCARDED"
	CodeLoadTimeout       = "LOAD_TIMEOUT"
	CodeExtractionFailed  = "EXTRACTION_FAILED"
	CodePolicyBlocked     = "POLICY_BLOCKED"
	CodePinLimitExceeded  = "PIN_LIMIT_EXCEEDED"
	CodeInvalidPinTarget  = "INVALID_PIN_TARGET"
	CodeAborted           = "ABORTED"
	CodeGenerationFailed  = "GENERATION_FAILED"
	CodeCDPUnavailable    = "CDP_UNAVAILABLE"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a CodedError. Exported because the pins, content, and
// orchestrator packages share this taxonomy.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}
