package platform

import (
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveCircuit(t *testing.T) {
	{
		circuit := DeriveCircuit(Credentials{Uid: "789", PrivateKey: "private key"})
		require.Equal(t, ClientServer, circuit)
	}
	{
		circuit := DeriveCircuit(Credentials{SecretKey: "secret key"})
		require.Equal(t, ServerServer, circuit)
	}
	{
		// a uid without a private key is not enough for client-server
		circuit := DeriveCircuit(Credentials{Uid: "789", SecretKey: "secret key"})
		require.Equal(t, ServerServer, circuit)
	}
	{
		circuit := DeriveCircuit(Credentials{AppId: "123", AccessToken: "token"})
		require.Equal(t, UndefinedCircuit, circuit)
	}
}

func TestPresignClientServer(t *testing.T) {
	creds := Credentials{AppId: "123", Uid: "789", PrivateKey: "private key"}
	params := Params{`"a"`: 1, `"b"`: 2, `"c"`: 3}

	query, err := presign(params, creds)
	require.NoError(t, err)
	require.Equal(t, `789"a"=1"b"=2"c"=3private key`, query)
}

func TestPresignServerServer(t *testing.T) {
	creds := Credentials{AppId: "123", SecretKey: "secret key"}
	params := Params{`"a"`: 1, `"b"`: 2, `"c"`: 3}

	query, err := presign(params, creds)
	require.NoError(t, err)
	require.Equal(t, `"a"=1"b"=2"c"=3secret key`, query)
}

func TestSign(t *testing.T) {
	creds := Credentials{Uid: "789", PrivateKey: "private key"}
	sig, err := Sign(Params{`"a"`: 1, `"b"`: 2, `"c"`: 3}, creds)
	require.NoError(t, err)

	digest := md5.Sum([]byte(`789"a"=1"b"=2"c"=3private key`))
	require.Equal(t, hex.EncodeToString(digest[:]), sig)
}

func TestSignUndefinedCircuit(t *testing.T) {
	_, err := Sign(Params{"a": 1}, Credentials{AppId: "123"})
	require.ErrorIs(t, err, SignatureUndefined)
}

func TestPresignSortsKeys(t *testing.T) {
	creds := Credentials{SecretKey: "s"}
	query, err := presign(Params{"b": "2", "a": "1", "c": "3"}, creds)
	require.NoError(t, err)
	require.Equal(t, "a=1b=2c=3s", query)
}
