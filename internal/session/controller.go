// Package session hosts the lottery Controller: the state machine that turns
// user actions into proxy calls and owns the displayed session state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/lottery_dapp/internal/config"
	"github.com/R3E-Network/lottery_dapp/internal/journal"
	"github.com/R3E-Network/lottery_dapp/internal/lottery"
	"github.com/R3E-Network/lottery_dapp/internal/metrics"
	"github.com/R3E-Network/lottery_dapp/internal/wallet"
	"github.com/R3E-Network/lottery_dapp/pkg/logger"
)

// Contract is the part of the lottery proxy the controller drives.
type Contract interface {
	Initialize(ctx context.Context, payer, lotteryKey wallet.Signer) (solana.Signature, error)
	Enter(ctx context.Context, player wallet.Signer, lottery solana.PublicKey, lamports uint64) (solana.Signature, error)
	PickWinner(ctx context.Context, caller wallet.Signer, lottery, winner solana.PublicKey) (solana.Signature, error)
	FetchLottery(ctx context.Context, lottery solana.PublicKey) (*lottery.Record, error)
}

// BalanceReader reads wallet balances.
type BalanceReader interface {
	GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error)
}

// Options configures a Controller.
type Options struct {
	// Mode is config.ModeDemo (default) or config.ModeStrict.
	Mode     string
	Journal  journal.Store
	Balances BalanceReader
	Logger   *logger.Logger
	// NewLotteryKey generates lottery handles. Defaults to wallet.GenerateKeypair.
	NewLotteryKey func() (*wallet.Keypair, error)
}

// WalletInfo is the connected wallet with its balance.
type WalletInfo struct {
	Address    string `json:"address"`
	Lamports   uint64 `json:"lamports"`
	BalanceSOL string `json:"balance_sol"`
}

// Controller owns SessionState. One action runs at a time; a second action
// while busy fails with ErrBusy and leaves state unchanged.
type Controller struct {
	contract Contract
	mode     string
	journal  journal.Store
	balances BalanceReader
	log      *logger.Logger
	newKey   func() (*wallet.Keypair, error)

	mu     sync.Mutex
	state  State
	signer wallet.Signer
	handle *wallet.Keypair

	subMu sync.Mutex
	subs  map[chan State]struct{}
}

// NewController creates a disconnected controller.
func NewController(contract Contract, opts Options) *Controller {
	mode := opts.Mode
	if mode != config.ModeStrict {
		mode = config.ModeDemo
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("lottery")
	}
	store := opts.Journal
	if store == nil {
		store = journal.NewMemoryStore(0)
	}
	newKey := opts.NewLotteryKey
	if newKey == nil {
		newKey = wallet.GenerateKeypair
	}

	return &Controller{
		contract: contract,
		mode:     mode,
		journal:  store,
		balances: opts.Balances,
		log:      log.Named("session"),
		newKey:   newKey,
		state: State{
			Phase:         PhaseDisconnected,
			Mode:          mode,
			StatusMessage: "Welcome! Connect your wallet to start playing the Solana lottery.",
		},
		subs: make(map[chan State]struct{}),
	}
}

// Mode returns demo or strict.
func (c *Controller) Mode() string {
	return c.mode
}

// State returns a copy of the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() State {
	st := c.state
	st.Snapshot = c.state.Snapshot.clone()
	return st
}

// Subscribe returns a channel of state changes and a cancel func. The channel
// holds only the latest undelivered state; slow readers skip intermediate ones.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	c.mu.Lock()
	ch <- c.snapshotLocked()
	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	c.subMu.Unlock()
	c.mu.Unlock()
	metrics.SubscriberAdded()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, ch)
			c.subMu.Unlock()
			metrics.SubscriberRemoved()
		})
	}
}

// publishLocked must be called with c.mu held so subscribers see states in order.
func (c *Controller) publishLocked() {
	st := c.snapshotLocked()
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}

// rejection is an action refused before any remote call.
type rejection struct {
	message string
	err     error
}

// begin marks the session busy. It fails with ErrBusy if an action is running.
// check runs under the same lock, after the busy test; a non-nil rejection sets
// the status message, is journaled and is returned without entering phase.
func (c *Controller) begin(ctx context.Context, action string, phase Phase, message string, check func() *rejection) error {
	c.mu.Lock()
	if c.state.Busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if check != nil {
		if r := check(); r != nil {
			c.state.StatusMessage = r.message
			c.publishLocked()
			c.mu.Unlock()
			c.record(ctx, journal.Entry{Action: action, Outcome: journal.OutcomeRejected, Message: r.message})
			return r.err
		}
	}
	c.state.Busy = true
	c.state.Phase = phase
	c.state.StatusMessage = message
	c.publishLocked()
	c.mu.Unlock()
	return nil
}

// finishLocked clears the busy flag and returns to Ready, or Disconnected without a wallet.
func (c *Controller) finishLocked() {
	c.state.Busy = false
	if c.signer != nil {
		c.state.Phase = PhaseReady
	} else {
		c.state.Phase = PhaseDisconnected
	}
	c.publishLocked()
}

func (c *Controller) setErrorLocked(err error) {
	if err == nil {
		c.state.LastError = ""
		c.state.LastErrorKind = ""
		return
	}
	c.state.LastError = err.Error()
	c.state.LastErrorKind = lottery.KindOf(err).String()
}

func (c *Controller) record(ctx context.Context, e journal.Entry) {
	metrics.RecordAction(e.Action, string(e.Outcome))
	if _, err := c.journal.Append(context.WithoutCancel(ctx), e); err != nil {
		c.log.WithError(err).WithField("action", e.Action).Warn("journal append failed")
	}
}

func (c *Controller) entryLocked(action string, outcome journal.Outcome, sig solana.Signature, err error) journal.Entry {
	e := journal.Entry{
		Action:  action,
		Outcome: outcome,
		Message: c.state.StatusMessage,
		Handle:  c.state.ActiveHandle,
	}
	if sig != (solana.Signature{}) {
		e.Signature = sig.String()
	}
	if err != nil {
		e.ErrorKind = lottery.KindOf(err).String()
	}
	if snap := c.state.Snapshot; snap != nil {
		e.PoolAfter = snap.TotalPool
		e.PlayersAfter = snap.PlayerCount
	}
	return e
}

// =============================================================================
// Wallet
// =============================================================================

// Connect obtains a signer from adapter. Disconnected → Connecting → Ready,
// or back to Disconnected when the adapter fails.
func (c *Controller) Connect(ctx context.Context, adapter wallet.Adapter) error {
	c.mu.Lock()
	if c.state.Busy {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state.Busy = true
	c.state.Phase = PhaseConnecting
	c.state.StatusMessage = "Connecting wallet..."
	c.publishLocked()
	c.mu.Unlock()

	signer, err := adapter.Connect(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Busy = false
	if err != nil {
		c.signer = nil
		c.state.WalletConnected = false
		c.state.WalletAddress = ""
		c.state.Phase = PhaseDisconnected
		c.state.StatusMessage = fmt.Sprintf("Error connecting wallet: %v", err)
		c.setErrorLocked(err)
		c.publishLocked()
		c.log.WithError(err).WithField("adapter", adapter.Name()).Warn("wallet connection failed")
		return err
	}

	c.signer = signer
	c.state.WalletConnected = true
	c.state.WalletAddress = signer.PublicKey().String()
	c.state.Phase = PhaseReady
	c.state.StatusMessage = fmt.Sprintf("Wallet connected! Address: %s", wallet.ShortAddress(signer.PublicKey()))
	c.setErrorLocked(nil)
	c.publishLocked()
	c.log.WithFields(logrus.Fields{
		"adapter": adapter.Name(),
		"address": c.state.WalletAddress,
	}).Info("wallet connected")
	return nil
}

// Disconnect drops the signer and the displayed snapshot. The lottery handle is kept.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Busy {
		return ErrBusy
	}
	c.signer = nil
	c.state.WalletConnected = false
	c.state.WalletAddress = ""
	c.state.Snapshot = nil
	c.state.Phase = PhaseDisconnected
	c.state.StatusMessage = "Please connect your wallet to continue."
	c.publishLocked()
	return nil
}

// Wallet returns the connected address and its balance.
func (c *Controller) Wallet(ctx context.Context) (WalletInfo, error) {
	c.mu.Lock()
	signer := c.signer
	c.mu.Unlock()
	if signer == nil {
		return WalletInfo{}, ErrWalletNotConnected
	}

	info := WalletInfo{Address: signer.PublicKey().String(), BalanceSOL: FormatSOL(0)}
	if c.balances == nil {
		return info, nil
	}
	lamports, err := c.balances.GetBalance(ctx, signer.PublicKey())
	if err != nil {
		return info, fmt.Errorf("read balance: %w", err)
	}
	info.Lamports = lamports
	info.BalanceSOL = FormatSOL(lamports)
	return info, nil
}

// =============================================================================
// Actions
// =============================================================================

func (c *Controller) synthesize(err error) bool {
	return err != nil && c.mode == config.ModeDemo
}

// Initialize creates a new lottery handle. In demo mode a preflight rejection,
// simulation failure or access violation still yields a session-local zeroed
// lottery.
func (c *Controller) Initialize(ctx context.Context) error {
	const action = "initialize"

	var signer wallet.Signer
	err := c.begin(ctx, action, PhaseBusy, "Initializing lottery on Solana blockchain...", func() *rejection {
		if signer = c.signer; signer == nil {
			return &rejection{"Please connect your wallet first.", ErrWalletNotConnected}
		}
		return nil
	})
	if err != nil {
		return err
	}

	key, err := c.newKey()
	if err != nil {
		c.mu.Lock()
		c.state.StatusMessage = fmt.Sprintf("Error initializing lottery: %v", err)
		c.setErrorLocked(err)
		entry := c.entryLocked(action, journal.OutcomeFailed, solana.Signature{}, err)
		c.finishLocked()
		c.mu.Unlock()
		c.record(ctx, entry)
		return err
	}

	sig, err := c.contract.Initialize(ctx, signer, key)
	address := key.PublicKey().String()

	c.mu.Lock()
	var outcome journal.Outcome
	kind := lottery.KindOf(err)
	switch {
	case err == nil:
		outcome = journal.OutcomeConfirmed
		c.handle = key
		c.state.ActiveHandle = address
		c.state.Snapshot = zeroSnapshot(SourceAuthoritative)
		c.state.LastSignature = sig.String()
		c.state.StatusMessage = fmt.Sprintf("Lottery initialized! TX: %s... Address: %s...", sig.String()[:8], address[:8])
	case c.synthesize(err) && (lottery.IsPreflight(err) || kind == lottery.KindSimulationFailed || kind == lottery.KindAccessViolation):
		outcome = journal.OutcomeSynthesized
		c.handle = key
		c.state.ActiveHandle = address
		c.state.Snapshot = zeroSnapshot(SourceSynthesized)
		c.state.StatusMessage = fmt.Sprintf("Lottery created! Address: %s...", address[:8])
	default:
		outcome = journal.OutcomeFailed
		c.state.StatusMessage = fmt.Sprintf("Error initializing lottery: %v", err)
	}
	c.setErrorLocked(err)
	entry := c.entryLocked(action, outcome, sig, err)
	c.finishLocked()
	c.mu.Unlock()

	c.record(ctx, entry)
	c.logOutcome(action, outcome, err)
	if outcome == journal.OutcomeFailed {
		return err
	}
	return nil
}

// Enter stakes amount (decimal SOL) into the active lottery.
func (c *Controller) Enter(ctx context.Context, amount string) error {
	const action = "enter"

	var (
		signer   wallet.Signer
		handle   *wallet.Keypair
		lamports uint64
	)
	err := c.begin(ctx, action, PhaseBusy, "Entering lottery...", func() *rejection {
		signer, handle = c.signer, c.handle
		if handle == nil {
			return &rejection{"Please initialize a lottery first.", ErrNoLottery}
		}
		if signer == nil {
			return &rejection{"Please connect your wallet first.", ErrWalletNotConnected}
		}
		var perr error
		if lamports, perr = ParseSOL(amount); perr != nil {
			return &rejection{"Please enter a valid amount greater than 0.", ErrInvalidAmount}
		}
		return nil
	})
	if err != nil {
		return err
	}

	sig, err := c.contract.Enter(ctx, signer, handle.PublicKey(), lamports)

	var fetched *lottery.Record
	var fetchErr error
	if err == nil && c.mode == config.ModeStrict {
		fetched, fetchErr = c.contract.FetchLottery(ctx, handle.PublicKey())
	}

	display := formatAmount(lamports)
	player := signer.PublicKey().String()

	c.mu.Lock()
	var outcome journal.Outcome
	switch {
	case err == nil:
		outcome = journal.OutcomeConfirmed
		c.state.LastSignature = sig.String()
		c.state.StatusMessage = fmt.Sprintf("Entered lottery with %s SOL! TX: %s...", display, sig.String()[:8])
		if fetched != nil {
			c.state.Snapshot = recordSnapshot(fetched)
		} else {
			c.advanceLocked(lamports, player)
			if fetchErr != nil {
				c.log.WithError(fetchErr).Warn("re-fetch after enter failed, keeping local advance")
			}
		}
	case c.synthesize(err):
		outcome = journal.OutcomeSynthesized
		c.advanceLocked(lamports, player)
		c.state.StatusMessage = fmt.Sprintf("Entered lottery with %s SOL!", display)
	default:
		outcome = journal.OutcomeFailed
		c.state.StatusMessage = fmt.Sprintf("Error entering lottery: %v", err)
	}
	c.setErrorLocked(err)
	entry := c.entryLocked(action, outcome, sig, err)
	c.finishLocked()
	c.mu.Unlock()

	c.record(ctx, entry)
	c.logOutcome(action, outcome, err)
	if outcome == journal.OutcomeFailed {
		return err
	}
	return nil
}

// advanceLocked adds one local entry to the snapshot.
func (c *Controller) advanceLocked(lamports uint64, player string) {
	var pool uint64
	var players []string
	if snap := c.state.Snapshot; snap != nil {
		pool = snap.TotalPool
		players = append(players, snap.Players...)
	}
	c.state.Snapshot = newSnapshot(pool+lamports, append(players, player), SourceSynthesized)
}

// PickWinner pays out the pool. The connected wallet is passed as the winner
// account, so it is the announced winner.
func (c *Controller) PickWinner(ctx context.Context) error {
	const action = "pickWinner"

	var (
		signer        wallet.Signer
		handle        *wallet.Keypair
		pool, players uint64
	)
	err := c.begin(ctx, action, PhaseBusy, "Picking winner...", func() *rejection {
		signer, handle = c.signer, c.handle
		if snap := c.state.Snapshot; snap != nil {
			pool, players = snap.TotalPool, snap.PlayerCount
		}
		if players == 0 || handle == nil {
			return &rejection{"No players in the lottery yet!", ErrNoPlayers}
		}
		if signer == nil {
			return &rejection{"Please connect your wallet first.", ErrWalletNotConnected}
		}
		return nil
	})
	if err != nil {
		return err
	}

	sig, err := c.contract.PickWinner(ctx, signer, handle.PublicKey(), signer.PublicKey())

	var fetched *lottery.Record
	if err == nil && c.mode == config.ModeStrict {
		var fetchErr error
		if fetched, fetchErr = c.contract.FetchLottery(ctx, handle.PublicKey()); fetchErr != nil {
			c.log.WithError(fetchErr).Warn("re-fetch after pick winner failed, resetting locally")
		}
	}

	announcement := fmt.Sprintf("Winner: %s won %s SOL!", wallet.ShortAddress(signer.PublicKey()), FormatSOL(pool))

	c.mu.Lock()
	var outcome journal.Outcome
	switch {
	case err == nil:
		outcome = journal.OutcomeConfirmed
		c.state.LastSignature = sig.String()
		c.state.StatusMessage = announcement
		switch {
		case fetched != nil:
			c.state.Snapshot = recordSnapshot(fetched)
		case c.mode == config.ModeStrict:
			c.state.Snapshot = zeroSnapshot(SourceSynthesized)
		default:
			c.state.Snapshot = zeroSnapshot(SourceAuthoritative)
		}
	case c.synthesize(err):
		outcome = journal.OutcomeSynthesized
		c.state.StatusMessage = announcement
		c.state.Snapshot = zeroSnapshot(SourceSynthesized)
	default:
		outcome = journal.OutcomeFailed
		c.state.StatusMessage = fmt.Sprintf("Error picking winner: %v", err)
	}
	c.setErrorLocked(err)
	entry := c.entryLocked(action, outcome, sig, err)
	c.finishLocked()
	c.mu.Unlock()

	c.record(ctx, entry)
	c.logOutcome(action, outcome, err)
	if outcome == journal.OutcomeFailed {
		return err
	}
	return nil
}

// Refresh overwrites the snapshot with the decoded ledger record. Without an
// active handle it does nothing and returns ErrNoLottery.
func (c *Controller) Refresh(ctx context.Context) error {
	const action = "refresh"

	c.mu.Lock()
	if c.state.Busy {
		c.mu.Unlock()
		return ErrBusy
	}
	handle := c.handle
	if handle == nil {
		c.mu.Unlock()
		return ErrNoLottery
	}
	c.state.Busy = true
	c.state.Phase = PhaseBusy
	c.state.StatusMessage = "Fetching lottery info from blockchain..."
	c.publishLocked()
	c.mu.Unlock()

	rec, err := c.contract.FetchLottery(ctx, handle.PublicKey())

	c.mu.Lock()
	outcome := journal.OutcomeConfirmed
	if err != nil {
		outcome = journal.OutcomeFailed
		if lottery.KindOf(err) == lottery.KindNotFound {
			c.state.StatusMessage = "Lottery account not found on chain."
		} else {
			c.state.StatusMessage = fmt.Sprintf("Error getting lottery info: %v", err)
		}
	} else {
		c.state.Snapshot = recordSnapshot(rec)
		c.state.StatusMessage = "Lottery info updated from blockchain!"
	}
	c.setErrorLocked(err)
	entry := c.entryLocked(action, outcome, solana.Signature{}, err)
	c.finishLocked()
	c.mu.Unlock()

	c.record(ctx, entry)
	c.logOutcome(action, outcome, err)
	return err
}

func (c *Controller) logOutcome(action string, outcome journal.Outcome, err error) {
	entry := c.log.WithFields(logrus.Fields{
		"action":  action,
		"outcome": string(outcome),
		"mode":    c.mode,
	})
	if err == nil {
		entry.Info("action settled")
		return
	}
	entry = entry.WithError(err).WithField("kind", lottery.KindOf(err).String())
	var perr *lottery.Error
	if errors.As(err, &perr) && len(perr.Logs) > 0 {
		entry = entry.WithField("logs", perr.Logs)
	}
	entry.Warn("action settled with remote failure")
}

func recordSnapshot(rec *lottery.Record) *Snapshot {
	players := make([]string, 0, len(rec.Players))
	for _, p := range rec.Players {
		players = append(players, p.String())
	}
	return newSnapshot(rec.TotalPool, players, SourceAuthoritative)
}
