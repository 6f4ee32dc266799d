package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/lottery_dapp/internal/chain"
	"github.com/R3E-Network/lottery_dapp/internal/chain/chaintest"
	"github.com/R3E-Network/lottery_dapp/internal/config"
	"github.com/R3E-Network/lottery_dapp/internal/httputil"
	"github.com/R3E-Network/lottery_dapp/internal/journal"
	"github.com/R3E-Network/lottery_dapp/internal/lottery"
	"github.com/R3E-Network/lottery_dapp/internal/lottery/lotterytest"
	"github.com/R3E-Network/lottery_dapp/internal/session"
	"github.com/R3E-Network/lottery_dapp/internal/wallet"
	"github.com/R3E-Network/lottery_dapp/pkg/logger"
)

var programID = solana.MustPublicKeyFromBase58("5vfYx3qS4FL5yAwiBnxLkYoK4ZHTsqGXn93RGKUhPZUz")

type fixture struct {
	node    *chaintest.Node
	program *lotterytest.Program
	ctrl    *session.Controller
	journal *journal.MemoryStore
	signer  *wallet.Keypair
	server  *httptest.Server
}

func newFixture(t *testing.T, mode string) *fixture {
	t.Helper()
	node := chaintest.NewNode()
	t.Cleanup(node.Close)

	client, err := chain.NewClient(chain.Config{
		RPCURL:         node.URL(),
		Timeout:        2 * time.Second,
		PollInterval:   10 * time.Millisecond,
		ConfirmTimeout: 500 * time.Millisecond,
	})
	require.NoError(t, err)

	signer, err := wallet.GenerateKeypair()
	require.NoError(t, err)
	node.SetBalance(signer.PublicKey(), 2*chain.LamportsPerSOL)

	log := logger.NewDiscard("test")
	store := journal.NewMemoryStore(0)
	proxy := lottery.NewProxy(client, programID, nil, log)
	ctrl := session.NewController(proxy, session.Options{
		Mode:     mode,
		Journal:  store,
		Balances: client,
		Logger:   log,
	})

	srv := NewServer(Options{
		Controller: ctrl,
		Journal:    store,
		Adapter:    &wallet.StaticAdapter{Signer: signer},
		Ledger:     client,
		Logger:     log,
		Version:    "test",
		RateLimit:  1000,
		RateBurst:  1000,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{
		node:    node,
		program: lotterytest.Install(node, programID),
		ctrl:    ctrl,
		journal: store,
		signer:  signer,
		server:  ts,
	}
}

func (f *fixture) post(t *testing.T, path string, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(f.server.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return buf.Bytes()
}

func decodeState(t *testing.T, body []byte) session.State {
	t.Helper()
	var st session.State
	require.NoError(t, json.Unmarshal(body, &st))
	return st
}

func TestServer_StrictFlow(t *testing.T) {
	f := newFixture(t, config.ModeStrict)

	resp, body := f.post(t, "/api/wallet/connect", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decodeState(t, body)
	assert.True(t, st.WalletConnected)
	assert.Equal(t, f.signer.PublicKey().String(), st.WalletAddress)

	resp, body = f.post(t, "/api/lottery/initialize", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	st = decodeState(t, body)
	require.NotEmpty(t, st.ActiveHandle)
	assert.Equal(t, session.SourceAuthoritative, st.Snapshot.Source)

	resp, body = f.post(t, "/api/lottery/enter", `{"amount":"0.1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	st = decodeState(t, body)
	assert.Equal(t, uint64(100_000_000), st.Snapshot.TotalPool)
	assert.Equal(t, []string{f.signer.PublicKey().String()}, st.Snapshot.Players)

	resp, body = f.post(t, "/api/lottery/refresh", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Lottery info updated from blockchain!", decodeState(t, body).StatusMessage)

	resp, body = f.post(t, "/api/lottery/pick-winner", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Zero(t, decodeState(t, body).Snapshot.TotalPool)

	assert.Equal(t, []string{"initialize", "enter", "pickWinner"}, f.program.Executed())

	resp, body = f.get(t, "/api/journal?limit=10")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []journal.Entry
	require.NoError(t, json.Unmarshal(body, &entries))
	require.NotEmpty(t, entries)
	assert.Equal(t, "pickWinner", entries[0].Action)
}

func TestServer_Preconditions(t *testing.T) {
	f := newFixture(t, config.ModeDemo)

	resp, body := f.post(t, "/api/lottery/initialize", "")
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	var errResp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "wallet_not_connected", errResp.Code)
	assert.NotNil(t, errResp.Data)

	f.post(t, "/api/wallet/connect", "")

	resp, _ = f.post(t, "/api/lottery/enter", `{"amount":"0.1"}`)
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	f.post(t, "/api/lottery/initialize", "")

	resp, body = f.post(t, "/api/lottery/enter", `{"amount":"-1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "invalid_amount", errResp.Code)

	resp, _ = f.post(t, "/api/lottery/enter", `{"amount":"1","memo":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.post(t, "/api/lottery/pick-winner", "")
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "no_players", errResp.Code)
}

func TestServer_RemoteFailureStrict(t *testing.T) {
	f := newFixture(t, config.ModeStrict)
	f.post(t, "/api/wallet/connect", "")
	resp, _ := f.post(t, "/api/lottery/initialize", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f.node.Fail("sendTransaction", -32002, "Transaction simulation failed: Error processing Instruction 0: custom program error: 0x1771", nil)

	resp, body := f.post(t, "/api/lottery/enter", `{"amount":"0.5"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var errResp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "invalid_amount", errResp.Code)
}

func TestServer_DemoInitializeSurvivesPreflightRejection(t *testing.T) {
	f := newFixture(t, config.ModeDemo)
	f.post(t, "/api/wallet/connect", "")
	f.node.Fail("sendTransaction", -32002, "Transaction simulation failed: Attempt to debit an account but found no record of a prior credit.", nil)

	resp, body := f.post(t, "/api/lottery/initialize", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	st := decodeState(t, body)
	require.NotEmpty(t, st.ActiveHandle)
	assert.Equal(t, session.SourceSynthesized, st.Snapshot.Source)
	assert.Equal(t, "insufficient_funds", st.LastErrorKind)
}

func TestServer_ActionSettlesAfterClientAborts(t *testing.T) {
	f := newFixture(t, config.ModeStrict)
	resp, _ := f.post(t, "/api/wallet/connect", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	release := f.node.HoldConfirmations()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.server.URL+"/api/lottery/initialize", nil)
	require.NoError(t, err)
	_, err = http.DefaultClient.Do(req)
	require.Error(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.True(t, f.ctrl.State().Busy)
	release()

	assert.Eventually(t, func() bool {
		st := f.ctrl.State()
		return !st.Busy && st.ActiveHandle != ""
	}, 2*time.Second, 10*time.Millisecond)

	st := f.ctrl.State()
	require.NotNil(t, st.Snapshot)
	assert.Equal(t, session.SourceAuthoritative, st.Snapshot.Source)
	assert.Contains(t, f.program.Executed(), "initialize")
}

func TestServer_WalletAndHealth(t *testing.T) {
	f := newFixture(t, config.ModeDemo)

	resp, _ := f.get(t, "/api/wallet")
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	f.post(t, "/api/wallet/connect", "")
	resp, body := f.get(t, "/api/wallet")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info session.WalletInfo
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, 2*chain.LamportsPerSOL, info.Lamports)
	assert.Equal(t, "2.0000", info.BalanceSOL)

	resp, body = f.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health healthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "1.18.26", health.NodeVersion)
	assert.Equal(t, config.ModeDemo, health.Mode)

	f.node.Fail("getVersion", -32000, "node is behind", nil)
	resp, _ = f.get(t, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, body = f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "lottery_rpc_calls_total")
}

func TestServer_Disconnect(t *testing.T) {
	f := newFixture(t, config.ModeDemo)
	f.post(t, "/api/wallet/connect", "")

	resp, body := f.post(t, "/api/wallet/disconnect", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decodeState(t, body)
	assert.False(t, st.WalletConnected)
	assert.Equal(t, session.PhaseDisconnected, st.Phase)
}

func TestServer_JournalBadLimit(t *testing.T) {
	f := newFixture(t, config.ModeDemo)
	resp, _ := f.get(t, "/api/journal?limit=abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Events(t *testing.T) {
	f := newFixture(t, config.ModeDemo)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var st session.State
	require.NoError(t, conn.ReadJSON(&st))
	assert.Equal(t, session.PhaseDisconnected, st.Phase)

	require.NoError(t, f.ctrl.Connect(context.Background(), &wallet.StaticAdapter{Signer: f.signer}))

	for st.Phase != session.PhaseReady {
		require.NoError(t, conn.ReadJSON(&st))
	}
	assert.True(t, st.WalletConnected)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{session.ErrBusy, http.StatusConflict, "busy"},
		{session.ErrNoLottery, http.StatusPreconditionFailed, "no_lottery"},
		{session.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
		{&lottery.Error{Kind: lottery.KindTransport, Err: errors.New("dial")}, http.StatusBadGateway, "transport"},
		{&lottery.Error{Kind: lottery.KindTimeout, Err: errors.New("slow")}, http.StatusGatewayTimeout, "timeout"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, code := statusFor(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}
