package session

import (
	"errors"
	"math/big"
	"regexp"
	"strings"

	"github.com/R3E-Network/lottery_dapp/internal/chain"
)

// Phase is the controller state machine position.
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseReady        Phase = "ready"
	PhaseBusy         Phase = "busy"
)

// Source tells whether a snapshot was decoded from the ledger or computed locally.
type Source string

const (
	SourceAuthoritative Source = "authoritative"
	SourceSynthesized   Source = "synthesized"
)

// Snapshot is the displayed lottery state.
type Snapshot struct {
	TotalPool    uint64   `json:"total_pool"`
	TotalPoolSOL string   `json:"total_pool_sol"`
	PlayerCount  uint64   `json:"player_count"`
	Players      []string `json:"players"`
	Source       Source   `json:"source"`
}

// State is a point-in-time copy of the session.
type State struct {
	Phase           Phase     `json:"phase"`
	Mode            string    `json:"mode"`
	WalletConnected bool      `json:"wallet_connected"`
	WalletAddress   string    `json:"wallet_address,omitempty"`
	ActiveHandle    string    `json:"active_handle,omitempty"`
	Snapshot        *Snapshot `json:"snapshot,omitempty"`
	Busy            bool      `json:"busy"`
	StatusMessage   string    `json:"status_message"`
	LastSignature   string    `json:"last_signature,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	LastErrorKind   string    `json:"last_error_kind,omitempty"`
}

func (s *Snapshot) clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Players = append([]string(nil), s.Players...)
	return &out
}

func zeroSnapshot(source Source) *Snapshot {
	return newSnapshot(0, nil, source)
}

func newSnapshot(pool uint64, players []string, source Source) *Snapshot {
	if players == nil {
		players = []string{}
	}
	return &Snapshot{
		TotalPool:    pool,
		TotalPoolSOL: FormatSOL(pool),
		PlayerCount:  uint64(len(players)),
		Players:      players,
		Source:       source,
	}
}

var lamportsPerSOL = new(big.Rat).SetInt64(int64(chain.LamportsPerSOL))

var maxLamports = new(big.Int).SetUint64(^uint64(0))

// decimalSOL accepts plain decimals with an optional short exponent.
var decimalSOL = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)([eE][+-]?\d{1,3})?$`)

// ParseSOL converts a decimal SOL string to lamports, truncating below one lamport.
// The result must be positive.
func ParseSOL(amount string) (uint64, error) {
	amount = strings.TrimSpace(amount)
	if !decimalSOL.MatchString(amount) {
		return 0, ErrInvalidAmount
	}
	r, ok := new(big.Rat).SetString(amount)
	if !ok || r.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	r.Mul(r, lamportsPerSOL)
	lamports := new(big.Int).Quo(r.Num(), r.Denom())
	if lamports.Sign() <= 0 || lamports.Cmp(maxLamports) > 0 {
		return 0, ErrInvalidAmount
	}
	return lamports.Uint64(), nil
}

// FormatSOL renders lamports as SOL with four decimals.
func FormatSOL(lamports uint64) string {
	return solRat(lamports).FloatString(4)
}

// formatAmount renders lamports as SOL without trailing zeros, e.g. "0.1".
func formatAmount(lamports uint64) string {
	s := solRat(lamports).FloatString(9)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func solRat(lamports uint64) *big.Rat {
	r := new(big.Rat).SetInt(new(big.Int).SetUint64(lamports))
	return r.Quo(r, lamportsPerSOL)
}

var (
	// ErrBusy is returned when an action is already running.
	ErrBusy = errors.New("another action is in progress")
	// ErrWalletNotConnected is returned when an action needs a wallet.
	ErrWalletNotConnected = errors.New("wallet not connected")
	// ErrNoLottery is returned when an action needs an active lottery handle.
	ErrNoLottery = errors.New("no active lottery")
	// ErrInvalidAmount is returned for non-positive or unparsable stakes.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrNoPlayers is returned when picking a winner of an empty lottery.
	ErrNoPlayers = errors.New("no players in the lottery")
)
