package lottery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/lottery_dapp/internal/chain"
)

// ErrorKind classifies proxy failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindSimulationFailed
	KindAccessViolation
	KindInsufficientFunds
	KindInvalidAccounts
	KindNotFound
	KindNoPlayers
	KindInvalidAmount
	KindTransport
	KindTimeout
)

var kindNames = map[ErrorKind]string{
	KindUnknown:           "unknown",
	KindSimulationFailed:  "simulation_failed",
	KindAccessViolation:   "access_violation",
	KindInsufficientFunds: "insufficient_funds",
	KindInvalidAccounts:   "invalid_accounts",
	KindNotFound:          "not_found",
	KindNoPlayers:         "no_players",
	KindInvalidAmount:     "invalid_amount",
	KindTransport:         "transport",
	KindTimeout:           "timeout",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText renders the kind by name in JSON.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Error is a classified proxy failure.
type Error struct {
	Kind   ErrorKind
	Method string
	// Preflight is set when the node rejected the transaction during
	// simulation, before it was broadcast.
	Preflight bool
	// Logs are program logs returned by preflight simulation, if any.
	Logs []string
	Err  error
}

func (e *Error) Error() string {
	if rpcErr, ok := chain.RPCError(e.Err); ok {
		return fmt.Sprintf("%s %s: %s (code %d)", e.Method, e.Kind, rpcErr.Message, rpcErr.Code)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a proxy error, or KindUnknown.
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

// IsPreflight reports whether err is a proxy error raised by preflight simulation.
func IsPreflight(err error) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.Preflight
}

// classifier maps raw ledger failures onto ErrorKind. It is the only place
// that inspects error text.
type classifier struct {
	idl *IDL
}

func (c classifier) classify(method string, err error) *Error {
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}

	out := &Error{Kind: KindUnknown, Method: method, Err: err}

	switch {
	case chain.IsNotFound(err):
		out.Kind = KindNotFound
		return out
	case errors.Is(err, chain.ErrConfirmTimeout), errors.Is(err, context.DeadlineExceeded):
		out.Kind = KindTimeout
		return out
	}

	var failed *chain.TxFailedError
	if errors.As(err, &failed) {
		out.Kind = c.fromStatus(gjson.ParseBytes(failed.RawErr()))
		return out
	}

	if rpcErr, ok := chain.RPCError(err); ok {
		var data gjson.Result
		if rpcErr.Data != nil {
			if raw, mErr := json.Marshal(rpcErr.Data); mErr == nil {
				data = gjson.ParseBytes(raw)
			}
		}
		out.Preflight = rpcErr.Code == -32002 ||
			strings.Contains(strings.ToLower(rpcErr.Message), "simulation failed")
		for _, l := range data.Get("logs").Array() {
			out.Logs = append(out.Logs, l.String())
		}

		if status := data.Get("err"); status.Exists() && status.Type != gjson.Null {
			if kind := c.fromStatus(status); kind != KindUnknown {
				out.Kind = kind
				return out
			}
		}
		text := rpcErr.Message + "\n" + strings.Join(out.Logs, "\n")
		if kind := c.fromText(text); kind != KindUnknown {
			out.Kind = kind
			return out
		}
		if rpcErr.Code == -32002 {
			out.Kind = KindSimulationFailed
		} else {
			out.Kind = KindTransport
		}
		return out
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		out.Kind = KindTransport
		return out
	}

	out.Kind = c.fromText(err.Error())
	return out
}

// fromStatus reads a transaction status error such as
// {"InstructionError":[0,{"Custom":6000}]} or "InsufficientFundsForFee".
func (c classifier) fromStatus(status gjson.Result) ErrorKind {
	if custom := status.Get("InstructionError.1.Custom"); custom.Exists() {
		return c.fromCustomCode(int(custom.Int()))
	}
	name := status.String()
	if detail := status.Get("InstructionError.1"); detail.Exists() {
		name = detail.String()
	}
	return c.fromText(name)
}

func (c classifier) fromCustomCode(code int) ErrorKind {
	pe, ok := c.idl.ErrorByCode(code)
	if !ok {
		return KindSimulationFailed
	}
	switch pe.Name {
	case "NoPlayers":
		return KindNoPlayers
	case "InvalidAmount":
		return KindInvalidAmount
	}
	return KindSimulationFailed
}

func (c classifier) fromText(text string) ErrorKind {
	lower := strings.ToLower(text)

	for code := range c.idl.errors {
		if strings.Contains(lower, fmt.Sprintf("custom program error: 0x%x", code)) {
			return c.fromCustomCode(code)
		}
	}

	switch {
	case strings.Contains(lower, "access violation"):
		return KindAccessViolation
	case strings.Contains(lower, "insufficient funds"),
		strings.Contains(lower, "insufficientfunds"),
		strings.Contains(lower, "insufficient lamports"),
		strings.Contains(lower, "no record of a prior credit"):
		return KindInsufficientFunds
	case strings.Contains(lower, "accountnotinitialized"),
		strings.Contains(lower, "invalid account data"),
		strings.Contains(lower, "invalidaccountdata"),
		strings.Contains(lower, "accountownedbywrongprogram"),
		strings.Contains(lower, "account not found"),
		strings.Contains(lower, "accountnotfound"):
		return KindInvalidAccounts
	case strings.Contains(lower, "simulation failed"):
		return KindSimulationFailed
	}
	return KindUnknown
}
