package wallet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Adapter obtains a signing identity, the way a browser wallet extension would.
type Adapter interface {
	Name() string
	Connect(ctx context.Context) (Signer, error)
}

// FileAdapter loads a solana-keygen keypair file on connect.
type FileAdapter struct {
	Path string
}

// Name implements Adapter.
func (a *FileAdapter) Name() string { return "keypair-file" }

// Connect implements Adapter.
func (a *FileAdapter) Connect(ctx context.Context) (Signer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, ErrNoKeypair
	}
	if _, err := os.Stat(a.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrNoKeypair, a.Path)
		}
		return nil, fmt.Errorf("stat keypair: %w", err)
	}
	return LoadKeypairFile(a.Path)
}

// SecretAdapter decodes a base58 secret key held in configuration.
type SecretAdapter struct {
	Secret string
}

// Name implements Adapter.
func (a *SecretAdapter) Name() string { return "secret-key" }

// Connect implements Adapter.
func (a *SecretAdapter) Connect(ctx context.Context) (Signer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	secret := strings.TrimSpace(a.Secret)
	if secret == "" {
		return nil, ErrNoKeypair
	}
	return KeypairFromBase58(secret)
}

// StaticAdapter hands out a fixed signer. Used by tests and embedders.
type StaticAdapter struct {
	Signer Signer
	Err    error
}

// Name implements Adapter.
func (a *StaticAdapter) Name() string { return "static" }

// Connect implements Adapter.
func (a *StaticAdapter) Connect(context.Context) (Signer, error) {
	if a.Err != nil {
		return nil, a.Err
	}
	if a.Signer == nil {
		return nil, ErrNoKeypair
	}
	return a.Signer, nil
}

// Resolve picks the secret-key adapter when a secret is configured, otherwise the file adapter.
func Resolve(keypairPath, secret string) Adapter {
	if strings.TrimSpace(secret) != "" {
		return &SecretAdapter{Secret: secret}
	}
	return &FileAdapter{Path: keypairPath}
}
