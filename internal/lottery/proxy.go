// Package lottery is the typed client of the on-chain lottery program.
package lottery

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/lottery_dapp/internal/chain"
	"github.com/R3E-Network/lottery_dapp/internal/wallet"
	"github.com/R3E-Network/lottery_dapp/pkg/logger"
)

// Ledger is the subset of the RPC client the proxy needs.
type Ledger interface {
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	GetAccountInfo(ctx context.Context, address solana.PublicKey) (*chain.Account, error)
}

// ErrNoSigner is returned when Invoke is called without a fee payer.
var ErrNoSigner = errors.New("at least one signer is required")

// Proxy builds, signs and submits lottery instructions.
type Proxy struct {
	ledger     Ledger
	programID  solana.PublicKey
	idl        *IDL
	classifier classifier
	log        *logger.Logger
}

// NewProxy creates a proxy for the program at programID. A nil idl selects the embedded one.
func NewProxy(ledger Ledger, programID solana.PublicKey, idl *IDL, log *logger.Logger) *Proxy {
	if idl == nil {
		idl = DefaultIDL()
	}
	if log == nil {
		log = logger.NewDefault("lottery")
	}
	return &Proxy{
		ledger:     ledger,
		programID:  programID,
		idl:        idl,
		classifier: classifier{idl: idl},
		log:        log.Named("proxy"),
	}
}

// ProgramID returns the program address.
func (p *Proxy) ProgramID() solana.PublicKey {
	return p.programID
}

// BuildInstruction resolves accounts by IDL name and encodes args in IDL order.
// systemProgram is filled in when the caller omits it.
func (p *Proxy) BuildInstruction(method string, accounts map[string]solana.PublicKey, args ...interface{}) (solana.Instruction, error) {
	def, err := p.idl.Instruction(method)
	if err != nil {
		return nil, err
	}

	metas := make(solana.AccountMetaSlice, 0, len(def.Accounts))
	for _, acct := range def.Accounts {
		key, ok := accounts[acct.Name]
		if !ok && acct.Name == "systemProgram" {
			key, ok = solana.SystemProgramID, true
		}
		if !ok {
			return nil, fmt.Errorf("%s: missing account %q", method, acct.Name)
		}
		metas = append(metas, solana.NewAccountMeta(key, acct.Writable, acct.Signer))
	}

	data, err := EncodeInstructionData(def, args...)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(p.programID, metas, data), nil
}

// Invoke submits method and waits for confirmation. signers[0] pays the fee.
func (p *Proxy) Invoke(ctx context.Context, method string, accounts map[string]solana.PublicKey, args []interface{}, signers ...wallet.Signer) (solana.Signature, error) {
	if len(signers) == 0 || signers[0] == nil {
		return solana.Signature{}, &Error{Kind: KindInvalidAccounts, Method: method, Err: ErrNoSigner}
	}
	payer := signers[0].PublicKey()

	ix, err := p.BuildInstruction(method, accounts, args...)
	if err != nil {
		return solana.Signature{}, &Error{Kind: KindInvalidAccounts, Method: method, Err: err}
	}

	blockhash, err := p.ledger.GetLatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, p.fail(method, err)
	}

	tx, err := solana.NewTransaction([]solana.Instruction{ix}, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return solana.Signature{}, p.fail(method, fmt.Errorf("build transaction: %w", err))
	}
	if err := wallet.SignTransaction(ctx, tx, signers...); err != nil {
		return solana.Signature{}, p.fail(method, err)
	}

	sig, err := p.ledger.SendAndConfirm(ctx, tx)
	if err != nil {
		return sig, p.fail(method, err)
	}

	p.log.WithFields(logrus.Fields{
		"method":    method,
		"signature": sig.String(),
		"payer":     payer.String(),
	}).Info("transaction confirmed")
	return sig, nil
}

func (p *Proxy) fail(method string, err error) *Error {
	perr := p.classifier.classify(method, err)
	entry := p.log.WithFields(logrus.Fields{
		"method":    method,
		"kind":      perr.Kind.String(),
		"preflight": perr.Preflight,
	}).WithError(perr)
	if len(perr.Logs) > 0 {
		entry = entry.WithField("logs", perr.Logs)
	}
	entry.Warn("lottery call failed")
	return perr
}

// Initialize creates the lottery account held by lotteryKey, paid by payer.
func (p *Proxy) Initialize(ctx context.Context, payer, lotteryKey wallet.Signer) (solana.Signature, error) {
	return p.Invoke(ctx, "initialize", map[string]solana.PublicKey{
		"lottery": lotteryKey.PublicKey(),
		"user":    payer.PublicKey(),
	}, nil, payer, lotteryKey)
}

// Enter stakes lamports from player into lottery.
func (p *Proxy) Enter(ctx context.Context, player wallet.Signer, lottery solana.PublicKey, lamports uint64) (solana.Signature, error) {
	return p.Invoke(ctx, "enter", map[string]solana.PublicKey{
		"lottery": lottery,
		"player":  player.PublicKey(),
	}, []interface{}{lamports}, player)
}

// PickWinner asks the program to pay out the pool to winner. caller pays the fee.
func (p *Proxy) PickWinner(ctx context.Context, caller wallet.Signer, lottery, winner solana.PublicKey) (solana.Signature, error) {
	return p.Invoke(ctx, "pickWinner", map[string]solana.PublicKey{
		"lottery": lottery,
		"winner":  winner,
	}, nil, caller)
}

// GetLotteryInfo submits the read-only info instruction, which logs pool and player count.
func (p *Proxy) GetLotteryInfo(ctx context.Context, caller wallet.Signer, lottery solana.PublicKey) (solana.Signature, error) {
	return p.Invoke(ctx, "getLotteryInfo", map[string]solana.PublicKey{
		"lottery": lottery,
	}, nil, caller)
}

// FetchLottery reads and decodes the lottery account.
func (p *Proxy) FetchLottery(ctx context.Context, lottery solana.PublicKey) (*Record, error) {
	const method = "fetchLottery"

	acct, err := p.ledger.GetAccountInfo(ctx, lottery)
	if err != nil {
		return nil, p.fail(method, err)
	}
	if !acct.Owner.Equals(p.programID) {
		return nil, p.fail(method, &Error{
			Kind:   KindInvalidAccounts,
			Method: method,
			Err:    fmt.Errorf("account %s is owned by %s", lottery, acct.Owner),
		})
	}

	rec, err := DecodeRecord(acct.Data)
	if err != nil {
		return nil, p.fail(method, &Error{Kind: KindInvalidAccounts, Method: method, Err: err})
	}
	return rec, nil
}
