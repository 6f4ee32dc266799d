// Package wallet supplies signing identities for the lottery client.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrNoKeypair is returned when an adapter has no key material to load.
	ErrNoKeypair = errors.New("no keypair available")
	// ErrMissingSigner is returned when a transaction needs a signature nobody supplied.
	ErrMissingSigner = errors.New("missing signer")
)

// Signer is a public key plus the capability to sign with it.
type Signer interface {
	PublicKey() solana.PublicKey
	SignMessage(ctx context.Context, message []byte) (solana.Signature, error)
}

// Keypair is an in-memory ed25519 signer.
type Keypair struct {
	key solana.PrivateKey
}

// NewKeypair wraps a 64-byte secret key.
func NewKeypair(key solana.PrivateKey) (*Keypair, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("invalid secret key length %d", len(key))
	}
	return &Keypair{key: key}, nil
}

// GenerateKeypair creates a fresh random keypair.
func GenerateKeypair() (*Keypair, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{key: key}, nil
}

// LoadKeypairFile reads a keypair in solana-keygen JSON format.
func LoadKeypairFile(path string) (*Keypair, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("load keypair %s: %w", path, err)
	}
	return NewKeypair(key)
}

// KeypairFromBase58 decodes a base58 secret key.
func KeypairFromBase58(secret string) (*Keypair, error) {
	key, err := solana.PrivateKeyFromBase58(secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	return NewKeypair(key)
}

// PublicKey returns the keypair's address.
func (k *Keypair) PublicKey() solana.PublicKey {
	return k.key.PublicKey()
}

// SignMessage signs message with the secret key.
func (k *Keypair) SignMessage(_ context.Context, message []byte) (solana.Signature, error) {
	return k.key.Sign(message)
}

// PrivateKey exposes the secret key, e.g. to persist a generated keypair.
func (k *Keypair) PrivateKey() solana.PrivateKey {
	return k.key
}

// SignTransaction fills tx.Signatures for every required signer of the message.
func SignTransaction(ctx context.Context, tx *solana.Transaction, signers ...Signer) error {
	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	required := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Message.AccountKeys) < required {
		return fmt.Errorf("message declares %d signers but has %d keys", required, len(tx.Message.AccountKeys))
	}

	byKey := make(map[solana.PublicKey]Signer, len(signers))
	for _, s := range signers {
		if s != nil {
			byKey[s.PublicKey()] = s
		}
	}

	sigs := make([]solana.Signature, required)
	for i := 0; i < required; i++ {
		key := tx.Message.AccountKeys[i]
		s, ok := byKey[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingSigner, key)
		}
		sig, err := s.SignMessage(ctx, message)
		if err != nil {
			return fmt.Errorf("sign with %s: %w", ShortAddress(key), err)
		}
		sigs[i] = sig
	}
	tx.Signatures = sigs
	return nil
}

// ShortAddress renders an address as its first and last eight characters.
func ShortAddress(key solana.PublicKey) string {
	s := key.String()
	if len(s) <= 16 {
		return s
	}
	return s[:8] + "..." + s[len(s)-8:]
}
