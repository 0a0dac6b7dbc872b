package ledger

// Crypto primitives (component C1): HKDF, Ed25519 keygen-from-seed, SHA-256,
// base64, hex and HTTP-Signature signing. Grounded on core/wallet.go's
// HD-key derivation (HMAC-SHA512 master key, Ed25519-only keys) and on
// golang.org/x/crypto/hkdf as used in the luxfi-consensus qzmq transport for
// session-key derivation.

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// hkdfSalt is the fixed 64-byte salt used to derive a wallet's Ed25519 seed
// from its key_info_seed, per spec.md §4.1. Static per install, not secret.
var hkdfSalt = [64]byte{
	0x4e, 0x5a, 0x90, 0xa7, 0x42, 0xd6, 0xe0, 0x8e, 0x3b, 0x9e, 0x92, 0x32, 0x4b,
	0x28, 0xf1, 0x4d, 0x6a, 0x49, 0x4e, 0x9a, 0x90, 0x7a, 0x9a, 0x9e, 0x1a, 0xa3,
	0x4b, 0x21, 0x1c, 0x90, 0xbe, 0xef, 0x2f, 0xe0, 0xce, 0xc2, 0x96, 0xff, 0x6a,
	0xc9, 0xf8, 0x52, 0x2d, 0x23, 0xe7, 0x23, 0x27, 0x2a, 0xb2, 0x5c, 0x30, 0xce,
	0x47, 0xd3, 0x00, 0xbc, 0x1d, 0x6a, 0xd0, 0xe4, 0x88, 0x3a, 0x92, 0x9a,
}

// GenerateSeed returns 32 CSPRNG-sourced bytes, for use as key_info_seed.
func GenerateSeed() ([]byte, error) {
	seed := make([]byte, 32)
	if _, err := io.ReadFull(crand.Reader, seed); err != nil {
		return nil, fmt.Errorf("generate seed: %w", err)
	}
	return seed, nil
}

// HKDF derives a 32-byte secret key from the given seed using SHA-512 HKDF
// with the static salt and an empty info string.
func HKDF(seed []byte) ([]byte, error) {
	r := hkdf.New(sha512.New, seed, hkdfSalt[:], nil)
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return out, nil
}

// Ed25519FromSecret derives an Ed25519 key pair from a 32-byte secret,
// returning the public key and the full (64-byte) signing key.
func Ed25519FromSecret(secret []byte) (pub ed25519.PublicKey, signing ed25519.PrivateKey, err error) {
	if len(secret) != ed25519.SeedSize {
		return nil, nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(secret))
	}
	signing = ed25519.NewKeyFromSeed(secret)
	pub = signing.Public().(ed25519.PublicKey)
	return pub, signing, nil
}

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// B64 base64-encodes data (standard alphabet, with padding).
func B64(data []byte) string { return base64.StdEncoding.EncodeToString(data) }

// Hex lower-case hex-encodes data.
func Hex(data []byte) string { return hex.EncodeToString(data) }

// Digest returns the "SHA-256=<base64>" digest header value for octets.
func Digest(octets []byte) string {
	return "SHA-256=" + B64(SHA256(octets))
}

// SignHTTP produces a draft-cavage HTTP-Signature header value, algorithm
// ed25519, over the named headers using their already-computed values.
// headerLines must contain one entry per name in headersToSign, in order,
// formatted as "name: value" strings ready to be newline-joined.
func SignHTTP(headersToSign []string, headerLines []string, keyID string, signingKey ed25519.PrivateKey) string {
	signingString := strings.Join(headerLines, "\n")
	sig := ed25519.Sign(signingKey, []byte(signingString))
	return fmt.Sprintf(
		`keyId="%s",algorithm="ed25519",headers="%s",signature="%s"`,
		keyID, strings.Join(headersToSign, " "), B64(sig),
	)
}

// SignDigestHeader is the common case used throughout wallet/reconcile
// signing: sign just the "digest" header over a precomputed digest value.
func SignDigestHeader(digestValue, keyID string, signingKey ed25519.PrivateKey) string {
	return SignHTTP([]string{"digest"}, []string{"digest: " + digestValue}, keyID, signingKey)
}

// stripAndDrop13th implements the anonize2 31-octet id transform shared by
// user_id (from persona_id) and anonize_viewing_id (from viewing_id): strip
// hyphens from a 36-character GUID, then delete the byte now at index 12.
func stripAndDrop13th(guid string) (string, error) {
	stripped := strings.ReplaceAll(guid, "-", "")
	if len(stripped) != 32 {
		return "", fmt.Errorf("id %q did not strip to 32 octets (got %d)", guid, len(stripped))
	}
	return stripped[:12] + stripped[13:], nil
}
