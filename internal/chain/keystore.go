package chain

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrNoKey indicates no key material exists for the account.
var ErrNoKey = errors.New("no key material for account")

// KeyRecord is the sealed key material persisted for one custodial account.
// The private key is only ever stored encrypted; it is opened transiently
// inside Sign and never crosses the package boundary.
type KeyRecord struct {
	AccountID string
	PublicKey []byte
	SealedKey []byte
	SealNonce []byte
	CreatedAt time.Time
}

// Signature is the output of signing a payload with an account's key.
type Signature struct {
	PublicKey []byte
	Bytes     []byte
}

// Keystore generates and uses custodial signing keys sealed under a
// key-encryption key from configuration.
type Keystore struct {
	repo KeyRepository
	kek  []byte
}

// NewKeystore validates the key-encryption key and wraps the repository.
func NewKeystore(repo KeyRepository, kek []byte) (*Keystore, error) {
	if len(kek) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("key encryption key must be %d bytes", chacha20poly1305.KeySize)
	}
	return &Keystore{repo: repo, kek: kek}, nil
}

// Generate creates a keypair for the account, seals the private key and
// returns the derived ledger address.
func (k *Keystore) Generate(ctx context.Context, accountID string) (string, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate keypair: %w", err)
	}

	aead, err := chacha20poly1305.NewX(k.kek)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, priv, []byte(accountID))

	record := KeyRecord{
		AccountID: accountID,
		PublicKey: pub,
		SealedKey: sealed,
		SealNonce: nonce,
		CreatedAt: time.Now().UTC(),
	}
	if err := k.repo.Save(ctx, record); err != nil {
		return "", err
	}

	return Address(pub), nil
}

// Sign opens the sealed key for the account and signs the payload.
func (k *Keystore) Sign(ctx context.Context, accountID string, payload []byte) (Signature, error) {
	record, err := k.repo.Get(ctx, accountID)
	if err != nil {
		return Signature{}, err
	}

	aead, err := chacha20poly1305.NewX(k.kek)
	if err != nil {
		return Signature{}, err
	}
	priv, err := aead.Open(nil, record.SealNonce, record.SealedKey, []byte(accountID))
	if err != nil {
		return Signature{}, fmt.Errorf("unseal key: %w", err)
	}
	defer zero(priv)

	sig := ed25519.Sign(ed25519.PrivateKey(priv), payload)
	return Signature{PublicKey: record.PublicKey, Bytes: sig}, nil
}

// Address derives the ledger address for a public key.
func Address(pub []byte) string {
	sum := sha256.Sum256(pub)
	return "lumo1" + hex.EncodeToString(sum[:20])
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
