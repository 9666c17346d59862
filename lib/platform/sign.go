package platform

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Circuit selects how requests get signed.
type Circuit int

const (
	// UndefinedCircuit means the credentials cannot produce a valid
	// signature in either circuit.
	UndefinedCircuit Circuit = iota
	// ClientServer wraps the sorted query with the user id in front
	// and the application private key behind.
	ClientServer
	// ServerServer appends the application secret key to the sorted
	// query.
	ServerServer
)

func (c Circuit) String() string {
	switch c {
	case ClientServer:
		return "client-server"
	case ServerServer:
		return "server-server"
	}
	return "undefined"
}

var SignatureUndefined = fmt.Errorf("cannot derive a signature circuit: set uid and a private key for client-server, or a secret key for server-server")

// DeriveCircuit picks the signature circuit from which credential
// fields are set. A uid with a private key wins over a secret key.
func DeriveCircuit(creds Credentials) Circuit {
	if creds.Uid != "" && creds.PrivateKey != "" {
		return ClientServer
	}
	if creds.SecretKey != "" {
		return ServerServer
	}
	return UndefinedCircuit
}

// presign renders the string the signature digests: parameters sorted
// by key and concatenated as key=value with no separators, wrapped
// with the circuit-specific secret material.
func presign(params Params, creds Credentials) (string, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var query strings.Builder
	for _, k := range keys {
		query.WriteString(k)
		query.WriteByte('=')
		query.WriteString(paramString(params[k]))
	}

	switch DeriveCircuit(creds) {
	case ClientServer:
		return creds.Uid + query.String() + creds.PrivateKey, nil
	case ServerServer:
		return query.String() + creds.SecretKey, nil
	}
	return "", SignatureUndefined
}

// Sign computes the request signature: the hex md5 digest of the
// presign string.
func Sign(params Params, creds Credentials) (string, error) {
	query, err := presign(params, creds)
	if err != nil {
		return "", err
	}
	digest := md5.Sum([]byte(query))
	return hex.EncodeToString(digest[:]), nil
}
