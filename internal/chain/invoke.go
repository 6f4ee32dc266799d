package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// DefaultConfirmTimeout is the default timeout for waiting for transaction confirmation.
const DefaultConfirmTimeout = 60 * time.Second

// DefaultPollInterval is the default interval for polling signature status.
const DefaultPollInterval = 500 * time.Millisecond

// ErrConfirmTimeout is returned when a transaction is not confirmed in time.
var ErrConfirmTimeout = errors.New("transaction confirmation timed out")

// TxFailedError reports a transaction that landed but failed on-chain.
type TxFailedError struct {
	Signature solana.Signature
	// Err is the raw status error reported by the node, e.g.
	// {"InstructionError":[0,{"Custom":6000}]}.
	Err interface{}
}

func (e *TxFailedError) Error() string {
	raw, _ := json.Marshal(e.Err)
	return fmt.Sprintf("transaction %s failed: %s", e.Signature, raw)
}

// RawErr returns the status error as JSON for inspection.
func (e *TxFailedError) RawErr() []byte {
	raw, _ := json.Marshal(e.Err)
	return raw
}

// SendTransaction broadcasts a signed transaction with preflight simulation enabled.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	var sig solana.Signature
	err := c.call(ctx, "sendTransaction", func(ctx context.Context) error {
		var err error
		sig, err = c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: c.commitment,
		})
		return err
	})
	return sig, err
}

// WaitForConfirmation polls signature status until it reaches the client commitment,
// fails on-chain, or ctx is done. A signature the node has not seen yet is retried.
func (c *Client) WaitForConfirmation(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s", ErrConfirmTimeout, sig)
			}
			return ctx.Err()
		case <-ticker.C:
			var status *rpc.SignatureStatusesResult
			err := c.call(ctx, "getSignatureStatuses", func(ctx context.Context) error {
				out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
				if err != nil {
					return err
				}
				if len(out.Value) > 0 {
					status = out.Value[0]
				}
				return nil
			})
			if err != nil {
				if ctx.Err() != nil {
					return fmt.Errorf("%w: %s", ErrConfirmTimeout, sig)
				}
				return err
			}
			if status == nil {
				continue
			}
			if status.Err != nil {
				return &TxFailedError{Signature: sig, Err: status.Err}
			}
			if reached(status.ConfirmationStatus, c.commitment) {
				return nil
			}
		}
	}
}

// SendAndConfirm broadcasts tx and waits for confirmation within the configured timeout.
// The signature is returned even when confirmation fails.
func (c *Client) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}

	wctx, cancel := context.WithTimeout(ctx, c.confirmWait)
	defer cancel()

	if err := c.WaitForConfirmation(wctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

func reached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	switch want {
	case rpc.CommitmentProcessed:
		return status != ""
	case rpc.CommitmentFinalized:
		return status == rpc.ConfirmationStatusFinalized
	default:
		return status == rpc.ConfirmationStatusConfirmed || status == rpc.ConfirmationStatusFinalized
	}
}
