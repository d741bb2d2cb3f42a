package chain

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func testKEK() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestKeystoreGenerateAndSign(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryKeyRepository()
	ks, err := NewKeystore(repo, testKEK())
	if err != nil {
		t.Fatalf("new keystore: %v", err)
	}

	accountID := uuid.NewString()
	address, err := ks.Generate(ctx, accountID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(address, "lumo1") {
		t.Fatalf("unexpected address format: %s", address)
	}

	payload := []byte("payload to sign")
	sig, err := ks.Sign(ctx, accountID, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(sig.PublicKey), payload, sig.Bytes) {
		t.Fatal("signature does not verify against stored public key")
	}
	if Address(sig.PublicKey) != address {
		t.Fatal("address does not match public key")
	}
}

func TestKeystoreSignUnknownAccount(t *testing.T) {
	ks, err := NewKeystore(NewMemoryKeyRepository(), testKEK())
	if err != nil {
		t.Fatalf("new keystore: %v", err)
	}
	if _, err := ks.Sign(context.Background(), uuid.NewString(), []byte("x")); err != ErrNoKey {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
}

func TestKeystoreRejectsShortKEK(t *testing.T) {
	if _, err := NewKeystore(NewMemoryKeyRepository(), []byte("short")); err == nil {
		t.Fatal("expected error for short key encryption key")
	}
}
