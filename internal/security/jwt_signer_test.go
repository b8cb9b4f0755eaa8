package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"walletfeed/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// --- helpers ---
func genRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)

	require.NoError(t, err)

	return key
}

func writePKCS1PEM(t *testing.T, key *rsa.PrivateKey, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, pem.Encode(f, block))

	return path
}

func writePKCS8PEM(t *testing.T, key *rsa.PrivateKey, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	der, err := x509.MarshalPKCS8PrivateKey(key)

	require.NoError(t, err)

	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, pem.Encode(f, block))

	return path
}

// --- tests ---
func TestNewRS256Signer_LoadsPKCS1AndPKCS8(t *testing.T) {
	dir := t.TempDir()
	key := genRSAKey(t)

	pkcs1 := writePKCS1PEM(t, key, dir, "key_pkcs1.pem")
	pkcs8 := writePKCS8PEM(t, key, dir, "key_pkcs8.pem")

	for _, path := range []string{pkcs1, pkcs8} {
		cfg := &config.AuthConfig{
			PrivateKeyPath: path,
			Issuer:         "issuer-X",
			Audience:       "aud-Y",
		}
		s, err := NewRS256Signer(cfg)

		require.NoError(t, err, "must load %s", path)
		require.NotNil(t, s.Priv)
		require.Equal(t, cfg.Issuer, s.Iss)
		require.Equal(t, cfg.Audience, s.Aud)
	}
}

func TestMintAndVerifyClaims(t *testing.T) {
	dir := t.TempDir()
	key := genRSAKey(t)
	path := writePKCS1PEM(t, key, dir, "key.pem")

	cfg := &config.AuthConfig{
		PrivateKeyPath: path,
		Issuer:         "walletfeed",
		Audience:       "history-backend",
		TokenTTL:       2 * time.Minute,
	}
	signer, err := NewRS256Signer(cfg)

	require.NoError(t, err)

	now := time.Now()
	tokenStr, err := signer.Mint("feedcore-1")

	require.NoError(t, err)
	require.NotEmpty(t, tokenStr)

	// verify using public key
	rc := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(tokenStr, rc, func(token *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithLeeway(time.Second),
	)

	require.NoError(t, err)
	require.True(t, tok.Valid)
	require.Equal(t, jwt.SigningMethodRS256, tok.Method)
	require.Equal(t, cfg.Issuer, rc.Issuer)
	require.Equal(t, "feedcore-1", rc.Subject)
	require.Contains(t, rc.Audience, cfg.Audience)
	require.NotNil(t, rc.ExpiresAt)
	require.WithinDuration(t, now, rc.IssuedAt.Time, 2*time.Second)
	require.WithinDuration(t, now.Add(cfg.TokenTTL), rc.ExpiresAt.Time, 2*time.Second)
}

func TestNewRS256Signer_Errors(t *testing.T) {
	// nil config
	_, err := NewRS256Signer(nil)

	require.Error(t, err)

	// unsupported alg
	_, err = NewRS256Signer(&config.AuthConfig{Alg: "HS256", PrivateKeyPath: "x"})

	require.Error(t, err)

	// missing file
	_, err = NewRS256Signer(&config.AuthConfig{PrivateKeyPath: filepath.Join(t.TempDir(), "missing.pem")})

	require.Error(t, err)

	// invalid PEM
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.pem")

	require.NoError(t, os.WriteFile(bad, []byte("not-a-pem"), 0o600))

	_, err = NewRS256Signer(&config.AuthConfig{PrivateKeyPath: bad})

	require.Error(t, err)
}
