package llm

import "strings"

type ErrorCode string

const (
	CodeRateLimit       ErrorCode = "LLM_RATE_LIMIT"
	CodeTimeout         ErrorCode = "LLM_TIMEOUT"
	CodeNetworkError    ErrorCode = "LLM_NETWORK_ERROR"
	CodeNotInitialized  ErrorCode = "LLM_NOT_INITIALIZED"
	CodeInvalidResponse ErrorCode = "LLM_INVALID_RESPONSE"
	CodeAPIError        ErrorCode = "LLM_API_ERROR"
	CodeUnknown         ErrorCode = "LLM_UNKNOWN_ERROR"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Classified is an error mapped onto the taxonomy.
type Classified struct {
	Code     ErrorCode `json:"code"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
}

type rule struct {
	keywords []string
	code     ErrorCode
	severity Severity
}

// Rules are checked in priority order; the first keyword hit wins.
var rules = []rule{
	{[]string{"rate limit", "429", "too many requests"}, CodeRateLimit, SeverityWarning},
	{[]string{"timeout", "timed out", "etimedout"}, CodeTimeout, SeverityError},
	{[]string{"network", "econnrefused", "enotfound", "fetch failed"}, CodeNetworkError, SeverityError},
	{[]string{"not initialized", "not configured"}, CodeNotInitialized, SeverityCritical},
	{[]string{"invalid", "parse", "schema"}, CodeInvalidResponse, SeverityWarning},
	{[]string{"401", "403", "unauthorized", "forbidden", "quota"}, CodeAPIError, SeverityCritical},
}

// Classify maps any provider error to an error code and severity by
// substring match on the error text.
func Classify(err error) Classified {
	if err == nil {
		return Classified{Code: CodeUnknown, Severity: SeverityError}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return Classified{Code: r.code, Severity: r.severity, Message: msg}
			}
		}
	}

	return Classified{Code: CodeUnknown, Severity: SeverityError, Message: msg}
}
