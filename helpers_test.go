package airlock_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	airlock "github.com/goliatone/go-airlock"
	"github.com/goliatone/go-airlock/tokenstore"
	"github.com/stretchr/testify/require"
)

// testKeyPair generates a throwaway RS256 key pair in PEM form.
func testKeyPair(t *testing.T) (private, public []byte) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	private = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	public = pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicDER,
	})

	return private, public
}

// testOptions builds a minimal valid configuration against the given
// upstream URL, hashing disabled so fixtures can use cleartext passwords.
func testOptions(t *testing.T, upstreamURL string) airlock.Options {
	t.Helper()

	private, public := testKeyPair(t)
	return airlock.Options{
		UpstreamBaseURL:     upstreamURL,
		APIKeys:             []string{"key-test"},
		BaseID:              "appTEST0123456789",
		UserTableName:       "Users",
		UsernameColumn:      "username",
		PasswordColumn:      "password",
		DisableHashPassword: true,
		TokenExpiration:     time.Hour,
		PrivateKey:          private,
		PublicKey:           public,
		RevocationStore:     tokenstore.NewMemory(),
	}
}
