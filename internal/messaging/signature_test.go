package messaging

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureValid(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	header := sign("topsecret", body)

	if !VerifySignature("topsecret", body, header) {
		t.Fatal("expected valid signature to verify")
	}
}

func TestVerifySignatureWrongSecret(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	header := sign("othersecret", body)

	if VerifySignature("topsecret", body, header) {
		t.Fatal("expected signature from a different secret to fail")
	}
}

func TestVerifySignatureTamperedBody(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	header := sign("topsecret", body)

	if VerifySignature("topsecret", []byte(`{"object":"tampered"}`), header) {
		t.Fatal("expected tampered body to fail verification")
	}
}

func TestVerifySignatureMissingPrefix(t *testing.T) {
	body := []byte(`{}`)
	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(body)

	if VerifySignature("topsecret", body, hex.EncodeToString(mac.Sum(nil))) {
		t.Fatal("expected header without sha256= prefix to fail")
	}
}

func TestVerifySignatureDisabledWithoutSecret(t *testing.T) {
	if !VerifySignature("", []byte(`{}`), "") {
		t.Fatal("expected verification to be skipped when no secret is configured")
	}
}
