package security

import (
	"bytes"
	"strings"
	"testing"
)

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher([]byte("an-operator-supplied-secret-of-decent-length"))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	plain := "12345678Z"
	encrypted, err := c.Encrypt(plain)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(encrypted, []byte(plain)) {
		t.Fatal("ciphertext contains the plaintext")
	}

	decrypted, err := c.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decrypted != plain {
		t.Fatalf("round trip = %q, want %q", decrypted, plain)
	}
}

func TestCipherNonDeterministic(t *testing.T) {
	c, err := NewCipher([]byte("an-operator-supplied-secret-of-decent-length"))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	a, _ := c.Encrypt("same input")
	b, _ := c.Encrypt("same input")
	if bytes.Equal(a, b) {
		t.Fatal("two encryptions of the same plaintext produced equal ciphertexts")
	}
}

func TestCipherRejectsShortCiphertext(t *testing.T) {
	c, err := NewCipher([]byte("an-operator-supplied-secret-of-decent-length"))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	if _, err := c.Decrypt([]byte{0x01, 0x02}); err == nil {
		t.Fatal("expected error for truncated ciphertext")
	}
}

func TestCipherRejectsTamperedCiphertext(t *testing.T) {
	c, err := NewCipher([]byte("an-operator-supplied-secret-of-decent-length"))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	encrypted, _ := c.Encrypt("payload")
	encrypted[len(encrypted)-1] ^= 0xff

	if _, err := c.Decrypt(encrypted); err == nil {
		t.Fatal("expected authentication failure for tampered ciphertext")
	}
}

func TestFingerprintDeterministicAndKeyed(t *testing.T) {
	c1, _ := NewCipher([]byte("first-secret-with-enough-length-to-pass"))
	c2, _ := NewCipher([]byte("second-secret-with-enough-length-too"))

	if !bytes.Equal(c1.Fingerprint("12345678Z"), c1.Fingerprint("12345678Z")) {
		t.Fatal("same key and value must fingerprint identically")
	}
	if bytes.Equal(c1.Fingerprint("12345678Z"), c1.Fingerprint("X1234567L")) {
		t.Fatal("different values must fingerprint differently")
	}
	if bytes.Equal(c1.Fingerprint("12345678Z"), c2.Fingerprint("12345678Z")) {
		t.Fatal("different keys must fingerprint differently")
	}
}

func TestWebhookSignature(t *testing.T) {
	secret := []byte("webhook-shared-secret")
	body := []byte(`{"provider":"bank-api-ES","event_type":"payment.confirmed"}`)

	sig := SignWebhook(secret, body)
	if sig != strings.ToLower(sig) {
		t.Fatalf("signature must be lowercase hex, got %q", sig)
	}
	if len(sig) != 64 {
		t.Fatalf("signature length = %d, want 64 hex chars", len(sig))
	}

	if !VerifyWebhook(secret, body, sig) {
		t.Fatal("valid signature rejected")
	}
	if VerifyWebhook(secret, append(body, ' '), sig) {
		t.Fatal("modified body accepted")
	}
	if VerifyWebhook([]byte("other-secret"), body, sig) {
		t.Fatal("signature from another secret accepted")
	}
	if VerifyWebhook(secret, body, "") {
		t.Fatal("empty signature accepted")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := CheckPassword(hash, "correct horse battery staple"); err != nil {
		t.Fatalf("CheckPassword: %v", err)
	}
	if err := CheckPassword(hash, "wrong password"); err == nil {
		t.Fatal("wrong password accepted")
	}
}
