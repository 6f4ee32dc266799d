// Package lotterytest emulates the lottery program on a chaintest node.
package lotterytest

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/R3E-Network/lottery_dapp/internal/chain/chaintest"
	"github.com/R3E-Network/lottery_dapp/internal/lottery"
)

// Program applies landed lottery instructions to node accounts.
type Program struct {
	ID solana.PublicKey

	mu       sync.Mutex
	executed []string
}

// Install attaches a program emulator with address id to node.
func Install(node *chaintest.Node, id solana.PublicKey) *Program {
	p := &Program{ID: id}
	node.OnSend = p.apply
	return p
}

// Executed returns the instruction names applied so far.
func (p *Program) Executed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.executed...)
}

// Seed stores a lottery account with the given state.
func Seed(node *chaintest.Node, programID, address solana.PublicKey, rec lottery.Record) {
	data, err := rec.Encode()
	if err != nil {
		panic(err)
	}
	padded := make([]byte, lottery.AccountSpace)
	copy(padded, data)
	node.SetAccount(address, chaintest.AccountState{
		Owner:    programID,
		Lamports: chaintest.RentExemptLamports + rec.TotalPool,
		Data:     padded,
	})
}

var names = []string{"initialize", "enter", "pickWinner", "getLotteryInfo"}

func (p *Program) apply(node *chaintest.Node, tx *solana.Transaction) {
	keys := tx.Message.AccountKeys
	for _, ix := range tx.Message.Instructions {
		if int(ix.ProgramIDIndex) >= len(keys) || !keys[ix.ProgramIDIndex].Equals(p.ID) {
			continue
		}
		data := []byte(ix.Data)
		if len(data) < 8 {
			continue
		}
		accounts := make([]solana.PublicKey, len(ix.Accounts))
		for i, idx := range ix.Accounts {
			accounts[i] = keys[idx]
		}

		for _, name := range names {
			disc := lottery.InstructionDiscriminator(name)
			if !bytes.Equal(data[:8], disc[:]) {
				continue
			}
			p.mu.Lock()
			p.executed = append(p.executed, name)
			p.mu.Unlock()
			p.execute(node, name, accounts, data[8:])
		}
	}
}

func (p *Program) execute(node *chaintest.Node, name string, accounts []solana.PublicKey, args []byte) {
	switch name {
	case "initialize":
		Seed(node, p.ID, accounts[0], lottery.Record{})
	case "enter":
		rec := p.load(node, accounts[0])
		if rec == nil || len(args) < 8 {
			return
		}
		rec.TotalPool += binary.LittleEndian.Uint64(args[:8])
		rec.Players = append(rec.Players, accounts[1])
		Seed(node, p.ID, accounts[0], *rec)
	case "pickWinner":
		if rec := p.load(node, accounts[0]); rec != nil {
			Seed(node, p.ID, accounts[0], lottery.Record{})
		}
	}
}

func (p *Program) load(node *chaintest.Node, address solana.PublicKey) *lottery.Record {
	acct, ok := node.Account(address)
	if !ok {
		return nil
	}
	rec, err := lottery.DecodeRecord(acct.Data)
	if err != nil {
		return nil
	}
	return rec
}
