package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                         "/",
		"/":                        "/",
		"/health":                  "/health",
		"/api":                     "/api",
		"/api/session":             "/api/session",
		"/api/lottery/enter":       "/api/lottery/enter",
		"/api/lottery/enter/extra": "/api/lottery/enter",
	}
	for in, want := range cases {
		assert.Equal(t, want, canonicalPath(in), in)
	}
}

func TestRecordRPCCall(t *testing.T) {
	before := testutil.ToFloat64(rpcCalls.WithLabelValues("getBalance", "error"))
	RecordRPCCall("getBalance", 20*time.Millisecond, errors.New("boom"))
	after := testutil.ToFloat64(rpcCalls.WithLabelValues("getBalance", "error"))
	assert.Equal(t, before+1, after)
}

func TestRecordAction_DefaultsOutcome(t *testing.T) {
	before := testutil.ToFloat64(actions.WithLabelValues("enter", "unknown"))
	RecordAction("enter", "")
	assert.Equal(t, before+1, testutil.ToFloat64(actions.WithLabelValues("enter", "unknown")))
}

func TestInstrumentHandlerAndExposition(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/lottery/refresh", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	srv := httptest.NewServer(Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `lottery_http_requests_total{method="POST",path="/api/lottery/refresh",status="202"}`))
}
