package vccrypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"trustmesh/go-backend/pkg/models"
)

var (
	testKeysOnce sync.Once
	testKeyA     KeyPair
	testKeyB     KeyPair
)

func testKeyPairs(t *testing.T) (KeyPair, KeyPair) {
	t.Helper()
	testKeysOnce.Do(func() {
		e := NewEngine()
		var err error
		if testKeyA, err = e.GenerateKeyPair(); err != nil {
			t.Fatalf("generate key pair A failed: %v", err)
		}
		if testKeyB, err = e.GenerateKeyPair(); err != nil {
			t.Fatalf("generate key pair B failed: %v", err)
		}
	})
	return testKeyA, testKeyB
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	kp, _ := testKeyPairs(t)
	e := NewEngine()

	payload := map[string]any{
		"type":    "UniversityDegree",
		"subject": "did:tm:0xabc",
		"grade":   "first-class",
	}
	pkg, err := e.Encrypt(payload, kp.Public)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if pkg.Algorithm != models.AlgorithmHybrid {
		t.Fatalf("expected hybrid package, got %q", pkg.Algorithm)
	}
	if pkg.Fallback {
		t.Fatal("hybrid package must not be tagged as fallback")
	}
	if len(pkg.IV) != 12 {
		t.Fatalf("expected 96-bit iv, got %d bytes", len(pkg.IV))
	}

	var decrypted map[string]any
	if err := e.DecryptInto(pkg, kp.Private, &decrypted); err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	want, _ := json.Marshal(payload)
	got, _ := json.Marshal(decrypted)
	if !bytes.Equal(want, got) {
		t.Fatalf("round trip mismatch: want %s got %s", want, got)
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	kpA, kpB := testKeyPairs(t)
	e := NewEngine()

	pkg, err := e.Encrypt(map[string]any{"claim": "x"}, kpA.Public)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if _, err := e.Decrypt(pkg, kpB.Private); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	kp, _ := testKeyPairs(t)
	e := NewEngine()

	pkg, err := e.Encrypt(map[string]any{"claim": "x"}, kp.Public)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	pkg.CipherText[len(pkg.CipherText)-1] ^= 0x5A
	if _, err := e.Decrypt(pkg, kp.Private); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestEncryptDegradesToTaggedFallback(t *testing.T) {
	kp, _ := testKeyPairs(t)
	e := NewEngineWithRandom(failingReader{})

	pkg, err := e.Encrypt(map[string]any{"claim": "x"}, kp.Public)
	if err != nil {
		t.Fatalf("encrypt must degrade, not fail: %v", err)
	}
	if pkg.Algorithm != models.AlgorithmPlainBase64 || !pkg.Fallback {
		t.Fatalf("expected tagged base64 fallback, got %+v", pkg)
	}

	plaintext, err := NewEngine().Decrypt(pkg, nil)
	if err != nil {
		t.Fatalf("fallback decrypt failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(plaintext, &decoded); err != nil {
		t.Fatalf("fallback payload is not canonical json: %v", err)
	}
}

func TestEncryptRejectsNilRecipientKey(t *testing.T) {
	e := NewEngineWithRandom(failingReader{})
	if _, err := e.Encrypt(map[string]any{}, nil); !errors.Is(err, ErrInvalidKeyFormat) {
		t.Fatalf("nil recipient must fail validation, got %v", err)
	}
}

func TestGenerateKeyPairWithoutEntropyFails(t *testing.T) {
	e := NewEngineWithRandom(failingReader{})
	if _, err := e.GenerateKeyPair(); !errors.Is(err, ErrCryptoUnavailable) {
		t.Fatalf("expected ErrCryptoUnavailable, got %v", err)
	}
}

func TestImportPublicKeyToleratesWhitespaceVariants(t *testing.T) {
	kp, _ := testKeyPairs(t)
	exported, err := ExportPublicKey(kp.Public)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	variants := []string{
		exported,
		"  \n" + exported + "\n\n",
		strings.ReplaceAll(exported, "\n", "\r\n"),
	}
	for _, text := range variants {
		if _, err := ImportPublicKey(text); err != nil {
			t.Fatalf("import rejected a tolerable variant: %v", err)
		}
	}
}

func TestImportPublicKeyRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"empty":           "",
		"no delimiters":   "MIIBIjANBgkq",
		"bad base64":      "-----BEGIN PUBLIC KEY-----\n@@@not-base64@@@\n-----END PUBLIC KEY-----",
		"bad der":         "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----",
		"swapped markers": "-----END PUBLIC KEY-----\nAAAA\n-----BEGIN PUBLIC KEY-----",
	}
	for name, text := range cases {
		if _, err := ImportPublicKey(text); !errors.Is(err, ErrInvalidKeyFormat) {
			t.Fatalf("%s: expected ErrInvalidKeyFormat, got %v", name, err)
		}
	}
}

func TestPrivateKeyExportImportRoundTrip(t *testing.T) {
	kp, _ := testKeyPairs(t)
	exported, err := ExportPrivateKey(kp.Private)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	imported, err := ImportPrivateKey(exported)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if imported.D.Cmp(kp.Private.D) != 0 {
		t.Fatal("imported private key does not match the original")
	}
}
