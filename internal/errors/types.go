package errors

import "fmt"

// APIError 携带 HTTP 状态与 OpenAI 风格错误类型的服务内错误。
// APIError carries the HTTP status and OpenAI-style error type for a failure.
type APIError struct {
	HTTPStatus int
	Code       string
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New constructs an APIError.
func New(status int, code, typ, message string) *APIError {
	return &APIError{HTTPStatus: status, Code: code, Type: typ, Message: message}
}

// 常用错误构造 / common constructors
func ConfigError(message string) *APIError {
	return New(500, "config_error", "server_error", message)
}

func UpstreamError(status int, message string) *APIError {
	return New(status, "upstream_error", "upstream_error", message)
}

func ValidationError(message string) *APIError {
	return New(400, "validation_error", "invalid_request_error", message)
}

// OpenAIErrorBody is the wire envelope: {"error": {"message", "type", "code"}}.
type OpenAIErrorBody struct {
	Error OpenAIErrorDetail `json:"error"`
}

type OpenAIErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// Envelope renders the OpenAI error body for an APIError.
func (e *APIError) Envelope() OpenAIErrorBody {
	return OpenAIErrorBody{Error: OpenAIErrorDetail{
		Message: e.Message,
		Type:    e.Type,
		Code:    e.Code,
	}}
}
