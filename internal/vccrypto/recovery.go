package vccrypto

import (
	"crypto/sha256"
	"errors"
	"io"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"
)

const recoveryHKDFInfo = "trustmesh/keystore/secret/v1"

var ErrInvalidMnemonic = errors.New("invalid recovery phrase")

// GenerateRecoveryPhrase creates a 24-word mnemonic from which the local
// key-store passphrase is derived. The phrase is shown to the user once
// and never persisted.
func GenerateRecoveryPhrase() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// StoreSecretFromPhrase derives the key-store passphrase from a recovery
// phrase. The same phrase always yields the same secret, so the local
// stores can be re-opened on a fresh device.
func StoreSecretFromPhrase(mnemonic string) (string, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return "", ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, "")

	reader := hkdf.New(sha256.New, seed, nil, []byte(recoveryHKDFInfo))
	out := make([]byte, 32)
	if _, err := io.ReadFull(reader, out); err != nil {
		return "", err
	}
	return base58.Encode(out), nil
}
