package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/R3E-Network/lottery_dapp/internal/chain"
	"github.com/R3E-Network/lottery_dapp/internal/cli"
	"github.com/R3E-Network/lottery_dapp/internal/lottery"
	"github.com/R3E-Network/lottery_dapp/internal/session"
	"github.com/R3E-Network/lottery_dapp/internal/wallet"
)

// probeTimeout bounds a whole probe.
const probeTimeout = 3 * time.Minute

// probeStake is the entry the flow probe submits: 0.1 SOL.
const probeStake = chain.LamportsPerSOL / 10

var errProbeFailed = errors.New("probe failed")

// probeEnv is everything a probe talks to.
type probeEnv struct {
	client    *chain.Client
	proxy     *lottery.Proxy
	programID solana.PublicKey
	keypair   string
	out       *cli.Printer
}

func newProbeCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check connectivity to the ledger and the lottery program",
	}
	var network string
	cmd.PersistentFlags().StringVar(&network, "network", "localnet", "network profile to probe")

	add := func(use, short string, run func(context.Context, *probeEnv) error) {
		cmd.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				env, err := newProbeEnv(root, network, cmd.OutOrStdout())
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
				defer cancel()
				return run(ctx, env)
			},
		})
	}
	add("basic", "Node version, wallet balance and program account", probeBasic)
	add("rent", "Basic checks plus lottery keypair generation and rent exemption", probeRent)
	add("flow", "Initialize a lottery, enter 0.1 SOL and read it back", probeFlow)
	return cmd
}

func newProbeEnv(root *rootOptions, network string, w io.Writer) (*probeEnv, error) {
	cfg, err := root.load(network, "")
	if err != nil {
		return nil, err
	}
	client, err := chain.NewClient(chain.Config{
		RPCURL:         cfg.Endpoint(),
		Commitment:     cfg.Commitment,
		Timeout:        cfg.RPCTimeout,
		PollInterval:   cfg.PollInterval,
		ConfirmTimeout: cfg.ConfirmTimeout,
	})
	if err != nil {
		return nil, err
	}
	programID, err := solana.PublicKeyFromBase58(cfg.Program())
	if err != nil {
		return nil, fmt.Errorf("invalid program id %q: %w", cfg.Program(), err)
	}
	idl, err := lottery.LoadIDL(cfg.IDLPath)
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg)
	log.Logger.SetOutput(io.Discard)

	return &probeEnv{
		client:    client,
		proxy:     lottery.NewProxy(client, programID, idl, log),
		programID: programID,
		keypair:   cfg.Keypair(),
		out:       cli.NewPrinter(w),
	}, nil
}

// finish turns printed failures into a non-zero exit.
func (e *probeEnv) finish() error {
	if n := e.out.Failures(); n > 0 {
		e.out.Error("%d check(s) failed", n)
		return errProbeFailed
	}
	e.out.Success("all checks passed")
	return nil
}

// connect runs the connectivity checks shared by every probe and returns the wallet.
func (e *probeEnv) connect(ctx context.Context) (*wallet.Keypair, bool) {
	e.out.Step(1, "Connection")
	v, err := e.client.Version(ctx)
	if err != nil {
		e.out.Error("cannot reach %s: %v", e.client.RPCURL(), err)
		return nil, false
	}
	e.out.Success("connected to %s", e.client.RPCURL())
	e.out.Field("node version", v)
	e.out.Field("program id", e.programID)

	e.out.Step(2, "Wallet")
	kp, err := wallet.LoadKeypairFile(e.keypair)
	if err != nil {
		e.out.Error("load keypair %s: %v", e.keypair, err)
		return nil, false
	}
	e.out.Field("address", kp.PublicKey())
	balance, err := e.client.GetBalance(ctx, kp.PublicKey())
	if err != nil {
		e.out.Error("read balance: %v", err)
		return kp, false
	}
	e.out.Field("balance", session.FormatSOL(balance)+" SOL")
	if balance == 0 {
		e.out.Warning("wallet has no funds; transactions will fail")
	}

	e.out.Step(3, "Program")
	acct, err := e.client.GetAccountInfo(ctx, e.programID)
	switch {
	case chain.IsNotFound(err):
		e.out.Error("program %s not found", e.programID)
		return kp, false
	case err != nil:
		e.out.Error("read program account: %v", err)
		return kp, false
	}
	e.out.Success("program is deployed and accessible")
	e.out.Field("data length", len(acct.Data))
	e.out.Field("balance", session.FormatSOL(acct.Lamports)+" SOL")
	e.out.Field("owner", acct.Owner)
	return kp, true
}

func probeBasic(ctx context.Context, e *probeEnv) error {
	e.connect(ctx)
	return e.finish()
}

func probeRent(ctx context.Context, e *probeEnv) error {
	if _, ok := e.connect(ctx); !ok {
		return e.finish()
	}

	e.out.Step(4, "Lottery account")
	key, err := wallet.GenerateKeypair()
	if err != nil {
		e.out.Error("generate keypair: %v", err)
		return e.finish()
	}
	e.out.Success("generated lottery keypair %s", key.PublicKey())

	rent, err := e.client.MinimumBalanceForRentExemption(ctx, lottery.AccountSpace)
	if err != nil {
		e.out.Error("rent exemption: %v", err)
		return e.finish()
	}
	e.out.Field(fmt.Sprintf("rent exemption (%d bytes)", lottery.AccountSpace), session.FormatSOL(rent)+" SOL")
	return e.finish()
}

func probeFlow(ctx context.Context, e *probeEnv) error {
	payer, ok := e.connect(ctx)
	if !ok {
		return e.finish()
	}

	key, err := wallet.GenerateKeypair()
	if err != nil {
		e.out.Error("generate keypair: %v", err)
		return e.finish()
	}
	handle := key.PublicKey()

	e.out.Step(4, "Initialize")
	if !e.submit("initialize", func() (solana.Signature, error) {
		return e.proxy.Initialize(ctx, payer, key)
	}) {
		return e.finish()
	}
	e.out.Field("lottery", handle)
	if !e.show(ctx, handle) {
		return e.finish()
	}

	e.out.Step(5, "Enter")
	if !e.submit("enter "+session.FormatSOL(probeStake)+" SOL", func() (solana.Signature, error) {
		return e.proxy.Enter(ctx, payer, handle, probeStake)
	}) {
		return e.finish()
	}
	e.show(ctx, handle)

	e.out.Step(6, "Lottery info")
	e.submit("getLotteryInfo", func() (solana.Signature, error) {
		return e.proxy.GetLotteryInfo(ctx, payer, handle)
	})
	return e.finish()
}

func (e *probeEnv) submit(what string, send func() (solana.Signature, error)) bool {
	spin := e.out.Spinner(what + ": waiting for confirmation")
	spin.Start()
	sig, err := send()
	if err != nil {
		spin.Error(fmt.Sprintf("%s failed (%s): %v", what, lottery.KindOf(err), err))
		var lerr *lottery.Error
		if errors.As(err, &lerr) {
			for _, l := range lerr.Logs {
				e.out.Info("%s", l)
			}
		}
		return false
	}
	spin.Success(what + " confirmed")
	e.out.Field("tx", sig)
	return true
}

func (e *probeEnv) show(ctx context.Context, handle solana.PublicKey) bool {
	rec, err := e.proxy.FetchLottery(ctx, handle)
	if err != nil {
		e.out.Error("fetch lottery: %v", err)
		return false
	}
	e.out.Field("total pool", session.FormatSOL(rec.TotalPool)+" SOL")
	e.out.Field("players", len(rec.Players))
	for i, p := range rec.Players {
		e.out.Field(fmt.Sprintf("player %d", i+1), p)
	}
	return true
}
