// Package platform implements a client for the Mail.Ru Platform REST
// API: md5 request signing in both signature circuits, public and
// token sessions sharing one transport, and a small facade that
// dispatches methods by their dotted names.
package platform

import (
	"fmt"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("platform")

// DefaultBaseUrl is the root of the public REST endpoint. Signed
// calls go to its "api" subpath.
const DefaultBaseUrl = "http://appsmail.ru/platform"

// Credentials carries everything a session may need to sign and
// authorize requests. Fields may stay empty, the signature circuit is
// derived from which of them are set.
type Credentials struct {
	AppId       string
	PrivateKey  string
	SecretKey   string
	AccessToken string
	Uid         string
}

// Params holds the parameters of an API call. Values are rendered
// with paramString before they reach the wire or the signature.
type Params map[string]any

func paramString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}

// falsy reports whether a caller-supplied parameter must be dropped
// before signing. The remote API rejects signatures computed over
// empty values.
func falsy(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case int:
		return t == 0
	case int32:
		return t == 0
	case int64:
		return t == 0
	case uint:
		return t == 0
	case float32:
		return t == 0
	case float64:
		return t == 0
	}
	return false
}
