package vault

import (
	"encoding/base64"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func testVault(t *testing.T, secret string) *Vault {
	t.Helper()
	v, err := New(secret, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := testVault(t, "test-secret")

	cases := []string{
		"hello",
		"multi\nline\nmessage",
		"emoji 👍 and unicode ñé",
		strings.Repeat("long ", 1000),
		":::",
	}

	for _, plaintext := range cases {
		envelope := v.Encrypt(plaintext)
		if envelope == plaintext {
			t.Errorf("Encrypt(%.20q) did not change the value", plaintext)
		}
		if got := v.Decrypt(envelope); got != plaintext {
			t.Errorf("Decrypt(Encrypt(%.20q)) = %.20q", plaintext, got)
		}
	}
}

func TestEncryptEmptyPassesThrough(t *testing.T) {
	v := testVault(t, "test-secret")
	if got := v.Encrypt(""); got != "" {
		t.Errorf("Encrypt(\"\") = %q, want \"\"", got)
	}
	if got := v.Decrypt(""); got != "" {
		t.Errorf("Decrypt(\"\") = %q, want \"\"", got)
	}
}

func TestDecryptPlaintextIsIdentity(t *testing.T) {
	v := testVault(t, "test-secret")

	cases := []string{
		"just some text",
		"two:segments",
		"a:b:c",                // three segments, but not base64 of the right lengths
		"with:colons:and:more", // four segments
		base64.StdEncoding.EncodeToString([]byte("short")) + ":x:y",
	}

	for _, input := range cases {
		if got := v.Decrypt(input); got != input {
			t.Errorf("Decrypt(%q) = %q, want input unchanged", input, got)
		}
	}
}

func TestDecryptWrongKeyFallsBack(t *testing.T) {
	v1 := testVault(t, "key-one")
	v2 := testVault(t, "key-two")

	envelope := v1.Encrypt("secret message")
	if got := v2.Decrypt(envelope); got != envelope {
		t.Errorf("Decrypt with wrong key = %q, want envelope unchanged", got)
	}
}

func TestDecryptTamperedFallsBack(t *testing.T) {
	v := testVault(t, "test-secret")

	envelope := v.Encrypt("secret message")
	parts := strings.SplitN(envelope, ":", 3)
	ciphertext, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatal(err)
	}
	ciphertext[0] ^= 0xff
	tampered := parts[0] + ":" + parts[1] + ":" + base64.StdEncoding.EncodeToString(ciphertext)

	if got := v.Decrypt(tampered); got != tampered {
		t.Errorf("Decrypt of tampered envelope = %q, want input unchanged", got)
	}
}

func TestLooksEncrypted(t *testing.T) {
	v := testVault(t, "test-secret")

	if !v.LooksEncrypted(v.Encrypt("hello")) {
		t.Error("LooksEncrypted(valid envelope) = false")
	}

	for _, input := range []string{"", "plain text", "a:b:c", "one:two"} {
		if v.LooksEncrypted(input) {
			t.Errorf("LooksEncrypted(%q) = true", input)
		}
	}
}

func TestEnvelopeShape(t *testing.T) {
	v := testVault(t, "test-secret")

	envelope := v.Encrypt("hello")
	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		t.Fatalf("envelope has %d segments, want 3", len(parts))
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		t.Errorf("nonce segment decodes to %d bytes, want %d", len(nonce), nonceSize)
	}
	tag, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		t.Errorf("tag segment decodes to %d bytes, want %d", len(tag), tagSize)
	}
}
