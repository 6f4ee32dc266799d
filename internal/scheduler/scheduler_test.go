package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/lottery_dapp/internal/session"
	"github.com/R3E-Network/lottery_dapp/pkg/logger"
)

type fakeRefresher struct {
	calls atomic.Int32
	err   error
}

func (f *fakeRefresher) Refresh(context.Context) error {
	f.calls.Add(1)
	return f.err
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New("every now and then", &fakeRefresher{}, logger.NewDiscard("test"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid refresh schedule")

	_, err = New("@every 1m", nil, logger.NewDiscard("test"))
	assert.Error(t, err)
}

func TestRunOnce_Outcomes(t *testing.T) {
	target := &fakeRefresher{}
	s, err := New("@every 1m", target, logger.NewDiscard("test"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.RunOnce(ctx))

	target.err = session.ErrNoLottery
	require.NoError(t, s.RunOnce(ctx))
	target.err = session.ErrBusy
	require.NoError(t, s.RunOnce(ctx))

	target.err = errors.New("rpc down")
	assert.Error(t, s.RunOnce(ctx))

	assert.Equal(t, Stats{Runs: 1, Skipped: 2, Failed: 1}, s.Stats())
	assert.Equal(t, int32(4), target.calls.Load())
}

func TestStartStop(t *testing.T) {
	target := &fakeRefresher{}
	s, err := New("@every 1s", target, logger.NewDiscard("test"))
	require.NoError(t, err)

	s.Start()
	s.Start()
	assert.Eventually(t, func() bool { return target.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}
