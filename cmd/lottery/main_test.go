package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/lottery_dapp/internal/chain"
	"github.com/R3E-Network/lottery_dapp/internal/chain/chaintest"
	"github.com/R3E-Network/lottery_dapp/internal/config"
	"github.com/R3E-Network/lottery_dapp/internal/lottery/lotterytest"
	"github.com/R3E-Network/lottery_dapp/internal/wallet"
	"github.com/R3E-Network/lottery_dapp/pkg/logger"
)

var programID = solana.MustPublicKeyFromBase58(config.LocalProgramID)

type probeFixture struct {
	node    *chaintest.Node
	program *lotterytest.Program
	payer   *wallet.Keypair
	keyPath string
}

func newProbeFixture(t *testing.T, deployed bool) *probeFixture {
	t.Helper()
	for _, key := range []string{"LOTTERY_NETWORK", "LOTTERY_RPC_URL", "LOTTERY_PROGRAM_ID", "LOTTERY_KEYPAIR_PATH", "LOTTERY_SECRET_KEY", "LOTTERY_NETWORKS_FILE", "LOTTERY_MODE"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	node := chaintest.NewNode()
	t.Cleanup(node.Close)

	payer, err := wallet.GenerateKeypair()
	require.NoError(t, err)
	node.SetBalance(payer.PublicKey(), 5*chain.LamportsPerSOL)

	if deployed {
		node.SetAccount(programID, chaintest.AccountState{
			Owner:    solana.BPFLoaderUpgradeableProgramID,
			Lamports: 1_141_440,
			Data:     make([]byte, 36),
		})
	}

	raw := make([]int, 0, 64)
	for _, b := range payer.PrivateKey() {
		raw = append(raw, int(b))
	}
	body, err := json.Marshal(raw)
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(keyPath, body, 0o600))

	return &probeFixture{
		node:    node,
		program: lotterytest.Install(node, programID),
		payer:   payer,
		keyPath: keyPath,
	}
}

func (f *probeFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", "", "--rpc-url", f.node.URL(), "--keypair", f.keyPath))
	err := cmd.Execute()
	return out.String(), err
}

func TestProbeBasic(t *testing.T) {
	f := newProbeFixture(t, true)

	out, err := f.run(t, "probe", "basic")
	require.NoError(t, err, out)
	assert.Contains(t, out, "node version: 1.18.26")
	assert.Contains(t, out, "address: "+f.payer.PublicKey().String())
	assert.Contains(t, out, "balance: 5.0000 SOL")
	assert.Contains(t, out, "program is deployed and accessible")
	assert.Contains(t, out, "owner: "+solana.BPFLoaderUpgradeableProgramID.String())
	assert.Contains(t, out, "all checks passed")
}

func TestProbeBasic_ProgramMissing(t *testing.T) {
	f := newProbeFixture(t, false)

	out, err := f.run(t, "probe", "basic")
	require.ErrorIs(t, err, errProbeFailed)
	assert.Contains(t, out, "not found")
}

func TestProbeBasic_MissingKeypair(t *testing.T) {
	f := newProbeFixture(t, true)
	f.keyPath = filepath.Join(t.TempDir(), "absent.json")

	out, err := f.run(t, "probe", "basic")
	require.ErrorIs(t, err, errProbeFailed)
	assert.Contains(t, out, "load keypair")
}

func TestProbeRent(t *testing.T) {
	f := newProbeFixture(t, true)

	out, err := f.run(t, "probe", "rent")
	require.NoError(t, err, out)
	assert.Contains(t, out, "generated lottery keypair")
	assert.Contains(t, out, "rent exemption (9000 bytes): 0.0635 SOL")
}

func TestProbeFlow(t *testing.T) {
	f := newProbeFixture(t, true)

	out, err := f.run(t, "probe", "flow")
	require.NoError(t, err, out)
	assert.Contains(t, out, "initialize confirmed")
	assert.Contains(t, out, "enter 0.1000 SOL confirmed")
	assert.Contains(t, out, "total pool: 0.1000 SOL")
	assert.Contains(t, out, "player 1: "+f.payer.PublicKey().String())
	assert.Contains(t, out, "getLotteryInfo confirmed")
	assert.Equal(t, []string{"initialize", "enter", "getLotteryInfo"}, f.program.Executed())
}

func TestProbeFlow_InitializeRejected(t *testing.T) {
	f := newProbeFixture(t, true)
	f.node.Fail("sendTransaction", -32002, "Transaction simulation failed: Attempt to debit an account but found no record of a prior credit.", nil)

	out, err := f.run(t, "probe", "flow")
	require.ErrorIs(t, err, errProbeFailed)
	assert.Contains(t, out, "initialize failed (insufficient_funds)")
}

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "lottery dev")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"http://a", "http://b"}, splitList(" http://a, ,http://b "))
	assert.Nil(t, splitList(""))
}

func TestBuildApp(t *testing.T) {
	f := newProbeFixture(t, true)

	root := &rootOptions{rpcURL: f.node.URL(), keypair: f.keyPath}
	cfg, err := root.load("localnet", config.ModeStrict)
	require.NoError(t, err)
	cfg.RefreshSchedule = "@every 1h"

	a, err := buildApp(context.Background(), cfg, logger.NewDiscard("test"))
	require.NoError(t, err)
	defer a.close()
	require.NotNil(t, a.scheduler)
	assert.Equal(t, config.ModeStrict, a.ctrl.Mode())

	require.NoError(t, a.ctrl.Connect(context.Background(), a.adapter))
	assert.Equal(t, f.payer.PublicKey().String(), a.ctrl.State().WalletAddress)

	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildApp_BadSchedule(t *testing.T) {
	f := newProbeFixture(t, true)

	cfg, err := (&rootOptions{rpcURL: f.node.URL()}).load("localnet", "")
	require.NoError(t, err)
	cfg.RefreshSchedule = "whenever"

	_, err = buildApp(context.Background(), cfg, logger.NewDiscard("test"))
	assert.Error(t, err)
}
