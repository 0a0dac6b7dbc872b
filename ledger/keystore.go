package ledger

// Encrypted keystore export/import for key_info_seed: PBKDF2-AES-256-GCM,
// grounded verbatim on cmd/cli/wallet.go's keystore type and
// deriveKey/encryptSeed/decryptSeed helpers, adapted from a one-off CLI
// concern into a reusable ledger-package primitive so RecoverWallet and
// ExportPassphrase have a password-protected alternative to a bare mnemonic.

import (
	"crypto/aes"
	"crypto/cipher"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const pbkdf2Iterations = 150_000

// Keystore is the on-disk encrypted seed format.
type Keystore struct {
	Salt   string `json:"salt"`
	Nonce  string `json:"nonce"`
	Cipher string `json:"cipher"`
}

func deriveKeystoreKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, 32, sha256.New)
}

// EncryptSeed seals a 32-byte key_info_seed under password, returning the
// keystore document to persist.
func EncryptSeed(seed []byte, password string) (*Keystore, error) {
	if len(seed) != 32 {
		return nil, fmt.Errorf("keystore: seed must be 32 bytes, got %d", len(seed))
	}
	salt := make([]byte, 16)
	if _, err := io.ReadFull(crand.Reader, salt); err != nil {
		return nil, fmt.Errorf("keystore: generate salt: %w", err)
	}
	key := deriveKeystoreKey(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keystore: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keystore: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(crand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("keystore: generate nonce: %w", err)
	}
	cipherText := gcm.Seal(nil, nonce, seed, nil)
	return &Keystore{
		Salt:   hex.EncodeToString(salt),
		Nonce:  hex.EncodeToString(nonce),
		Cipher: hex.EncodeToString(cipherText),
	}, nil
}

// DecryptSeed recovers the 32-byte seed sealed by EncryptSeed. Returns an
// error (AES-GCM authentication failure) for a wrong password.
func DecryptSeed(ks *Keystore, password string) ([]byte, error) {
	salt, err := hex.DecodeString(ks.Salt)
	if err != nil {
		return nil, fmt.Errorf("keystore: decode salt: %w", err)
	}
	nonce, err := hex.DecodeString(ks.Nonce)
	if err != nil {
		return nil, fmt.Errorf("keystore: decode nonce: %w", err)
	}
	cipherText, err := hex.DecodeString(ks.Cipher)
	if err != nil {
		return nil, fmt.Errorf("keystore: decode cipher: %w", err)
	}
	key := deriveKeystoreKey(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keystore: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keystore: new gcm: %w", err)
	}
	seed, err := gcm.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return nil, fmt.Errorf("keystore: decrypt (wrong password?): %w", err)
	}
	return seed, nil
}

// MarshalKeystore renders ks as the JSON document persisted to disk.
func MarshalKeystore(ks *Keystore) ([]byte, error) {
	return json.MarshalIndent(ks, "", "  ")
}

// UnmarshalKeystore parses a keystore JSON document read from disk.
func UnmarshalKeystore(raw []byte) (*Keystore, error) {
	var ks Keystore
	if err := json.Unmarshal(raw, &ks); err != nil {
		return nil, fmt.Errorf("keystore: decode: %w", err)
	}
	return &ks, nil
}
