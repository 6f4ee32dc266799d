package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKeypairFile(t *testing.T, kp *Keypair) string {
	t.Helper()
	ints := make([]int, len(kp.PrivateKey()))
	for i, b := range kp.PrivateKey() {
		ints[i] = int(b)
	}
	raw, err := json.Marshal(ints)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func TestKeypair_SignVerifies(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	msg := []byte("lottery")
	sig, err := kp.SignMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, sig.Verify(kp.PublicKey(), msg))
}

func TestNewKeypair_RejectsShortKey(t *testing.T) {
	_, err := NewKeypair(solana.PrivateKey{1, 2, 3})
	require.Error(t, err)
}

func TestLoadKeypairFile(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)
	path := writeKeypairFile(t, kp)

	loaded, err := LoadKeypairFile(path)
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey(), loaded.PublicKey())
}

func TestFileAdapter(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	a := &FileAdapter{Path: writeKeypairFile(t, kp)}
	s, err := a.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey(), s.PublicKey())

	missing := &FileAdapter{Path: filepath.Join(t.TempDir(), "nope.json")}
	_, err = missing.Connect(context.Background())
	assert.True(t, errors.Is(err, ErrNoKeypair))
}

func TestSecretAdapter(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	a := Resolve("/ignored", kp.PrivateKey().String())
	require.IsType(t, &SecretAdapter{}, a)
	s, err := a.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey(), s.PublicKey())

	_, err = (&SecretAdapter{}).Connect(context.Background())
	assert.True(t, errors.Is(err, ErrNoKeypair))

	_, err = (&SecretAdapter{Secret: "not-base58-0OIl"}).Connect(context.Background())
	assert.Error(t, err)
}

func TestResolve_DefaultsToFile(t *testing.T) {
	a := Resolve("/tmp/id.json", "  ")
	require.IsType(t, &FileAdapter{}, a)
	assert.Equal(t, "keypair-file", a.Name())
}

func TestStaticAdapter(t *testing.T) {
	_, err := (&StaticAdapter{}).Connect(context.Background())
	assert.True(t, errors.Is(err, ErrNoKeypair))

	boom := errors.New("user rejected")
	_, err = (&StaticAdapter{Err: boom}).Connect(context.Background())
	assert.Equal(t, boom, err)
}

func TestSignTransaction(t *testing.T) {
	payer, err := GenerateKeypair()
	require.NoError(t, err)
	extra, err := GenerateKeypair()
	require.NoError(t, err)

	ix := solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(extra.PublicKey(), true, true),
		solana.NewAccountMeta(payer.PublicKey(), true, true),
	}, []byte{0})
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{9}, solana.TransactionPayer(payer.PublicKey()))
	require.NoError(t, err)

	require.NoError(t, SignTransaction(context.Background(), tx, payer, extra))
	require.Len(t, tx.Signatures, 2)
	require.NoError(t, tx.VerifySignatures())

	err = SignTransaction(context.Background(), tx, payer)
	assert.True(t, errors.Is(err, ErrMissingSigner))
}

func TestShortAddress(t *testing.T) {
	key := solana.MustPublicKeyFromBase58("AKpH6fPQEV7cxF4mRtEsHwtdnYRcNiYwTu6BZYGqUz8u")
	assert.Equal(t, "AKpH6fPQ...ZYGqUz8u", ShortAddress(key))
}
