package apiframework

// APIError is the structured error payload returned by the API. The wire
// shape follows the OpenAI-style {"error": {...}} envelope.
type APIError struct {
	err       error
	message   string
	param     string
	errorType string
	errorCode string
}

func (e *APIError) Error() string {
	return e.message
}

func (e *APIError) Unwrap() error {
	return e.err
}

func (e *APIError) Message() string {
	return e.message
}

func (e *APIError) Param() string {
	return e.param
}

func (e *APIError) Type() string {
	return e.errorType
}

func (e *APIError) Code() string {
	return e.errorCode
}
