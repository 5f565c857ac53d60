package response

// Response represents a standard API response format
type Response struct {
	Status     string      `json:"status"`      // "success" or "error"
	StatusCode int         `json:"status_code"` // HTTP status code
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
	// FieldErrors maps field name to message for validation failures so
	// forms can attach messages to their inputs.
	FieldErrors map[string]string `json:"field_errors,omitempty"`
}

// Success returns a standard success response wrapping the data
func Success(statusCode int, data interface{}) Response {
	return Response{
		Status:     "success",
		StatusCode: statusCode,
		Data:       data,
	}
}

// Error returns a standard error response wrapping the error message
func Error(statusCode int, err string) Response {
	return Response{
		Status:     "error",
		StatusCode: statusCode,
		Error:      err,
	}
}

// ValidationFailed returns an error response with per-field messages
func ValidationFailed(statusCode int, err string, fieldErrors map[string]string) Response {
	return Response{
		Status:      "error",
		StatusCode:  statusCode,
		Error:       err,
		FieldErrors: fieldErrors,
	}
}
