package platform

import "fmt"

// Error is an error payload returned by the REST API. The remote
// wraps it either as {"error": {...}} or inlines the fields at the
// top level, parseError recognizes both.
type Error struct {
	Code int    `json:"error_code"`
	Msg  string `json:"error_msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("Error %d: %s", e.Code, e.Msg)
}

// Is matches any *Error with the same code and message, so parsed
// payloads compare equal to the sentinels below under errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && t.Msg == e.Msg
}

var (
	// EmptyResponse signals a 2xx response with no body.
	EmptyResponse = &Error{Code: -1, Msg: "empty response"}
	// EmptyObjects signals an object lookup that yielded nothing.
	EmptyObjects = &Error{Code: 202, Msg: "empty objects"}
	// EmptyGroups signals a community lookup that yielded nothing.
	EmptyGroups = &Error{Code: 202, Msg: "empty groups"}
	// AccessDenied signals a profile or community closed to the
	// current user.
	AccessDenied = &Error{Code: 202, Msg: "Access to this object is denied"}
	// BlackListed signals a profile whose owner blacklisted the
	// current user.
	BlackListed = &Error{Code: 202, Msg: "Access to this object is denied: you are in blacklist"}
)

// StatusError is a non-2xx response that did not carry an API error
// payload.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request returned status %d", e.Status)
}
