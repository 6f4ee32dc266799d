// Package chain provides Solana ledger interaction for the lottery client.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/R3E-Network/lottery_dapp/internal/metrics"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL uint64 = 1_000_000_000

// ErrAccountNotFound is returned when an account does not exist on the ledger.
var ErrAccountNotFound = errors.New("account not found")

// Client provides Solana JSON-RPC functionality.
type Client struct {
	rpc          *rpc.Client
	rpcURL       string
	commitment   rpc.CommitmentType
	timeout      time.Duration
	pollInterval time.Duration
	confirmWait  time.Duration
}

// Config holds client configuration.
type Config struct {
	RPCURL         string
	Commitment     string // processed, confirmed, finalized
	Timeout        time.Duration
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
}

// Account is the subset of account state the lottery client consumes.
type Account struct {
	Address  solana.PublicKey
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
}

// NewClient creates a new Solana client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	commitment := rpc.CommitmentType(strings.ToLower(cfg.Commitment))
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}

	return &Client{
		rpc:          rpc.New(cfg.RPCURL),
		rpcURL:       cfg.RPCURL,
		commitment:   commitment,
		timeout:      timeout,
		pollInterval: defaultDuration(cfg.PollInterval, DefaultPollInterval),
		confirmWait:  defaultDuration(cfg.ConfirmTimeout, DefaultConfirmTimeout),
	}, nil
}

// RPCURL returns the endpoint this client talks to.
func (c *Client) RPCURL() string {
	return c.rpcURL
}

// Commitment returns the commitment level used for reads and confirmation.
func (c *Client) Commitment() rpc.CommitmentType {
	return c.commitment
}

// call bounds fn by the client timeout and records the round trip.
func (c *Client) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := fn(cctx)
	metrics.RecordRPCCall(method, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// =============================================================================
// Core RPC Methods
// =============================================================================

// GetAccountInfo returns the account at address or ErrAccountNotFound.
func (c *Client) GetAccountInfo(ctx context.Context, address solana.PublicKey) (*Account, error) {
	var out *rpc.GetAccountInfoResult
	err := c.call(ctx, "getAccountInfo", func(ctx context.Context) error {
		var err error
		out, err = c.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: c.commitment,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
		}
		return nil, err
	}

	acct := &Account{
		Address:  address,
		Owner:    out.Value.Owner,
		Lamports: out.Value.Lamports,
	}
	if out.Value.Data != nil {
		acct.Data = out.Value.Data.GetBinary()
	}
	return acct, nil
}

// GetBalance returns the lamport balance of address.
func (c *Client) GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	var lamports uint64
	err := c.call(ctx, "getBalance", func(ctx context.Context) error {
		out, err := c.rpc.GetBalance(ctx, address, c.commitment)
		if err != nil {
			return err
		}
		lamports = out.Value
		return nil
	})
	return lamports, err
}

// GetLatestBlockhash returns a recent blockhash for transaction construction.
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	var hash solana.Hash
	err := c.call(ctx, "getLatestBlockhash", func(ctx context.Context) error {
		out, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
		if err != nil {
			return err
		}
		hash = out.Value.Blockhash
		return nil
	})
	return hash, err
}

// MinimumBalanceForRentExemption returns the rent-exempt minimum for an account of size bytes.
func (c *Client) MinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error) {
	var lamports uint64
	err := c.call(ctx, "getMinimumBalanceForRentExemption", func(ctx context.Context) error {
		var err error
		lamports, err = c.rpc.GetMinimumBalanceForRentExemption(ctx, size, c.commitment)
		return err
	})
	return lamports, err
}

// Version returns the node's solana-core version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var version string
	err := c.call(ctx, "getVersion", func(ctx context.Context) error {
		out, err := c.rpc.GetVersion(ctx)
		if err != nil {
			return err
		}
		version = out.SolanaCore
		return nil
	})
	return version, err
}

// RPCError extracts the JSON-RPC error carried by err, if any.
func RPCError(err error) (*jsonrpc.RPCError, bool) {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}

// IsNotFound reports whether err means the account does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}

func defaultDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
