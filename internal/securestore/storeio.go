package securestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// NormalizeStorageConfig trims persisted path/secret values.
func NormalizeStorageConfig(path, secret string) (string, string) {
	return strings.TrimSpace(path), strings.TrimSpace(secret)
}

// IsStorageConfigured reports whether encrypted persistence is
// configured. Stores run memory-only until both values are set.
func IsStorageConfigured(path, secret string) bool {
	path, secret = NormalizeStorageConfig(path, secret)
	return path != "" && secret != ""
}

// ReadDecryptedFile loads and opens a snapshot written by
// WriteEncryptedJSON.
func ReadDecryptedFile(path, secret string) ([]byte, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decrypt(secret, sealed)
}

// WriteEncryptedJSON seals a JSON state snapshot and swaps it into
// place through a same-directory temp file, so a crash mid-write can
// lose the new snapshot but never the previous one.
func WriteEncryptedJSON(path, secret string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	sealed, err := Encrypt(secret, payload)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
