package api

import (
	"errors"
	"net/http"
)

// RequestError carries the HTTP status a handler failure maps to.
type RequestError struct {
	Status  int
	Message string
}

func (e RequestError) Error() string {
	return e.Message
}

func ValidationError(message string) RequestError {
	return RequestError{Status: http.StatusBadRequest, Message: message}
}

func NotFoundError(message string) RequestError {
	return RequestError{Status: http.StatusNotFound, Message: message}
}

func ServiceUnavailableError(message string) RequestError {
	return RequestError{Status: http.StatusServiceUnavailable, Message: message}
}

// WriteRequestError writes err with its own status, or 500 for plain errors.
func WriteRequestError(w http.ResponseWriter, err error) {
	var reqErr RequestError
	if errors.As(err, &reqErr) {
		writeError(w, reqErr.Status, reqErr)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allow string) {
	w.Header().Set("Allow", allow)
	writeError(w, http.StatusMethodNotAllowed, errors.New("method "+r.Method+" not allowed"))
}
