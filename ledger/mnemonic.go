package ledger

// Mnemonic encode/decode: BIP-39 (24-word, current scheme) via
// github.com/tyler-smith/go-bip39 — the same library core/wallet.go's
// NewRandomWallet/WalletFromMnemonic use — plus the legacy 16-word Niceware
// scheme, whose dictionary is an embedder-provided collaborator (spec §6,
// LoadNicewareList) rather than a bundled word list.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// ErrInvalidMnemonic is returned by both mnemonic decoders when the supplied
// phrase does not decode to a valid seed.
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// BIP39Encode encodes a 32-byte seed as its 24-word BIP-39 mnemonic. The
// seed is used directly as entropy, not run through PBKDF2, so that
// BIP39Decode is its exact inverse (spec §8 passphrase round-trip property).
func BIP39Encode(seed []byte) (string, error) {
	if len(seed) != 32 {
		return "", fmt.Errorf("%w: seed must be 32 bytes, got %d", ErrInvalidMnemonic, len(seed))
	}
	mnemonic, err := bip39.NewMnemonic(seed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	return mnemonic, nil
}

// BIP39Decode decodes a 24-word BIP-39 mnemonic back into its 32-byte seed.
func BIP39Decode(mnemonic string) ([]byte, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	if len(seed) != 32 {
		return nil, fmt.Errorf("%w: decoded entropy was %d bytes, want 32", ErrInvalidMnemonic, len(seed))
	}
	return seed, nil
}

// NicewareDictionary maps each of the scheme's words to its 16-bit index.
// LoadNicewareList (spec §6) returns the word list as a newline-delimited
// string in index order; ParseNicewareDictionary turns that into this map.
type NicewareDictionary map[string]uint16

// ParseNicewareDictionary builds a dictionary from the newline-delimited
// word list returned by the embedder's LoadNicewareList collaborator.
func ParseNicewareDictionary(list string) NicewareDictionary {
	lines := strings.Split(strings.TrimSpace(list), "\n")
	dict := make(NicewareDictionary, len(lines))
	for i, w := range lines {
		dict[strings.TrimSpace(w)] = uint16(i)
	}
	return dict
}

// NicewareDecode decodes a legacy 16-word, single-space-delimited recovery
// phrase into its 32-byte seed using dict. Each word contributes 2 bytes
// (its big-endian dictionary index).
func NicewareDecode(phrase string, dict NicewareDictionary) ([]byte, error) {
	words := strings.Split(phrase, " ")
	if len(words) != 16 {
		return nil, fmt.Errorf("%w: niceware phrase must have 16 words, got %d", ErrInvalidMnemonic, len(words))
	}
	seed := make([]byte, 32)
	for i, w := range words {
		idx, ok := dict[w]
		if !ok {
			return nil, fmt.Errorf("%w: word %q not in niceware dictionary", ErrInvalidMnemonic, w)
		}
		binary.BigEndian.PutUint16(seed[i*2:i*2+2], idx)
	}
	return seed, nil
}

// IsNicewareCandidate reports whether phrase should be attempted as a
// legacy Niceware recovery phrase rather than BIP-39, per spec §4.4
// Recovery: "If 16 space-delimited words".
func IsNicewareCandidate(phrase string) bool {
	return len(strings.Split(phrase, " ")) == 16
}
