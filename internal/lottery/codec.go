package lottery

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// AccountSpace is the size allocated for a lottery account on initialize.
const AccountSpace = 9000

// ErrDiscriminator is returned when account bytes do not start with the Lottery discriminator.
var ErrDiscriminator = errors.New("account discriminator mismatch")

var lotteryDiscriminator = AccountDiscriminator("Lottery")

// Record is the decoded on-chain lottery account.
type Record struct {
	TotalPool uint64             `json:"total_pool"`
	Players   []solana.PublicKey `json:"players"`
}

// InstructionDiscriminator returns the 8-byte Anchor selector for a method.
// Method names are snake-cased the way Anchor does, so pickWinner hashes as
// global:pick_winner.
func InstructionDiscriminator(method string) [8]byte {
	return toDiscriminator(bin.SighashInstruction(method))
}

// AccountDiscriminator returns the 8-byte Anchor tag for an account type.
func AccountDiscriminator(name string) [8]byte {
	return toDiscriminator(bin.SighashAccount(name))
}

func toDiscriminator(sighash []byte) [8]byte {
	var out [8]byte
	copy(out[:], sighash)
	return out
}

// EncodeInstructionData builds discriminator || borsh(args) for def.
func EncodeInstructionData(def InstructionDef, args ...interface{}) ([]byte, error) {
	if len(args) != len(def.Args) {
		return nil, fmt.Errorf("%s: want %d args, got %d", def.Name, len(def.Args), len(args))
	}

	buf := new(bytes.Buffer)
	disc := InstructionDiscriminator(def.Name)
	buf.Write(disc[:])

	enc := bin.NewBorshEncoder(buf)
	for i, arg := range def.Args {
		if err := encodeArg(enc, arg, args[i]); err != nil {
			return nil, fmt.Errorf("%s: arg %s: %w", def.Name, arg.Name, err)
		}
	}
	return buf.Bytes(), nil
}

func encodeArg(enc *bin.Encoder, def ArgDef, v interface{}) error {
	switch def.Type {
	case "u64":
		n, ok := v.(uint64)
		if !ok {
			return fmt.Errorf("want uint64, got %T", v)
		}
		return enc.WriteUint64(n, bin.LE)
	case "u32":
		n, ok := v.(uint32)
		if !ok {
			return fmt.Errorf("want uint32, got %T", v)
		}
		return enc.WriteUint32(n, bin.LE)
	case "u8":
		n, ok := v.(uint8)
		if !ok {
			return fmt.Errorf("want uint8, got %T", v)
		}
		return enc.WriteUint8(n)
	case "bool":
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("want bool, got %T", v)
		}
		return enc.WriteBool(b)
	case "publicKey":
		pk, ok := v.(solana.PublicKey)
		if !ok {
			return fmt.Errorf("want solana.PublicKey, got %T", v)
		}
		return enc.WriteBytes(pk[:], false)
	default:
		return fmt.Errorf("unsupported type %q", def.Type)
	}
}

// DecodeRecord parses lottery account bytes. Trailing allocation padding is ignored.
func DecodeRecord(data []byte) (*Record, error) {
	if len(data) < 8 || !bytes.Equal(data[:8], lotteryDiscriminator[:]) {
		return nil, ErrDiscriminator
	}

	dec := bin.NewBorshDecoder(data[8:])
	total, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("decode total_pool: %w", err)
	}
	count, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("decode players length: %w", err)
	}
	if remaining := len(data) - 8 - 8 - 4; int(count) > remaining/32 {
		return nil, fmt.Errorf("players length %d exceeds account data", count)
	}

	rec := &Record{TotalPool: total, Players: make([]solana.PublicKey, 0, count)}
	for i := uint32(0); i < count; i++ {
		raw, err := dec.ReadNBytes(32)
		if err != nil {
			return nil, fmt.Errorf("decode player %d: %w", i, err)
		}
		rec.Players = append(rec.Players, solana.PublicKeyFromBytes(raw))
	}
	return rec, nil
}

// Encode serializes the record with its discriminator, without padding.
func (r *Record) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(lotteryDiscriminator[:])

	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteUint64(r.TotalPool, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteUint32(uint32(len(r.Players)), bin.LE); err != nil {
		return nil, err
	}
	for _, p := range r.Players {
		if err := enc.WriteBytes(p[:], false); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// PlayerCount returns the number of entries.
func (r *Record) PlayerCount() uint64 {
	return uint64(len(r.Players))
}
