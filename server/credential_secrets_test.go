package server

import (
	"strings"
	"testing"
)

func TestSecretCodec_RoundTrip(t *testing.T) {
	t.Setenv(secretEnvKey, "test-secret-material")

	codec, err := newSecretCodec("/tmp/forage-test.db")
	if err != nil {
		t.Fatal(err)
	}

	encrypted, err := codec.Encrypt("sk-super-secret")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(encrypted, encryptedValuePrefix) {
		t.Fatalf("encrypted value %q missing prefix", encrypted)
	}
	if strings.Contains(encrypted, "sk-super-secret") {
		t.Error("plaintext leaked into encrypted value")
	}

	decrypted, err := codec.Decrypt(encrypted)
	if err != nil {
		t.Fatal(err)
	}
	if decrypted != "sk-super-secret" {
		t.Errorf("decrypted = %q, want original", decrypted)
	}
}

func TestSecretCodec_EncryptIsIdempotentOnCiphertext(t *testing.T) {
	t.Setenv(secretEnvKey, "test-secret-material")

	codec, err := newSecretCodec("scope")
	if err != nil {
		t.Fatal(err)
	}

	once, err := codec.Encrypt("value")
	if err != nil {
		t.Fatal(err)
	}
	twice, err := codec.Encrypt(once)
	if err != nil {
		t.Fatal(err)
	}
	if once != twice {
		t.Error("re-encrypting an already encrypted value must be a no-op")
	}
}

func TestSecretCodec_DecryptPassesThroughPlaintext(t *testing.T) {
	t.Setenv(secretEnvKey, "test-secret-material")

	codec, err := newSecretCodec("scope")
	if err != nil {
		t.Fatal(err)
	}

	got, err := codec.Decrypt("plain-value")
	if err != nil {
		t.Fatal(err)
	}
	if got != "plain-value" {
		t.Errorf("Decrypt(plain) = %q, want passthrough", got)
	}
}

func TestSecretCodec_EmptyValue(t *testing.T) {
	t.Setenv(secretEnvKey, "test-secret-material")

	codec, err := newSecretCodec("scope")
	if err != nil {
		t.Fatal(err)
	}

	got, err := codec.Encrypt("")
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("Encrypt(empty) = %q, want empty", got)
	}
}
