package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/R3E-Network/lottery_dapp/internal/httputil"
	"github.com/R3E-Network/lottery_dapp/internal/journal"
	"github.com/R3E-Network/lottery_dapp/internal/lottery"
	"github.com/R3E-Network/lottery_dapp/internal/session"
)

type enterRequest struct {
	Amount string `json:"amount"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Mode        string `json:"mode"`
	Version     string `json:"version,omitempty"`
	NodeVersion string `json:"node_version,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Mode: s.ctrl.Mode(), Version: s.version}
	if s.ledger == nil {
		httputil.WriteJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	v, err := s.ledger.Version(ctx)
	if err != nil {
		resp.Status = "degraded"
		resp.Error = err.Error()
		httputil.WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.NodeVersion = v
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.ctrl.State())
}

func (s *Server) walletInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.ctrl.Wallet(r.Context())
	if err != nil {
		if errors.Is(err, session.ErrWalletNotConnected) {
			s.fail(w, err)
			return
		}
		httputil.WriteError(w, http.StatusBadGateway, "balance_unavailable", err, info)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	if s.adapter == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "no_wallet", errors.New("no wallet adapter configured"), s.ctrl.State())
		return
	}
	s.act(w, s.ctrl.Connect(actionContext(r), s.adapter))
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	s.act(w, s.ctrl.Disconnect())
}

func (s *Server) initialize(w http.ResponseWriter, r *http.Request) {
	s.act(w, s.ctrl.Initialize(actionContext(r)))
}

func (s *Server) enter(w http.ResponseWriter, r *http.Request) {
	var req enterRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", err, nil)
		return
	}
	s.act(w, s.ctrl.Enter(actionContext(r), req.Amount))
}

func (s *Server) pickWinner(w http.ResponseWriter, r *http.Request) {
	s.act(w, s.ctrl.PickWinner(actionContext(r)))
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	s.act(w, s.ctrl.Refresh(actionContext(r)))
}

func (s *Server) listJournal(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.QueryInt(r, "limit", journal.DefaultLimit)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", err, nil)
		return
	}
	entries, err := s.journal.List(r.Context(), limit)
	if err != nil {
		s.log.WithContext(r.Context()).WithError(err).Error("list journal failed")
		httputil.WriteError(w, http.StatusInternalServerError, "journal_unavailable", err, nil)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

// actionContext keeps request values but not its cancellation: once submitted,
// an action settles even if the client goes away. Confirmation waits carry
// their own deadline.
func actionContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// act writes the session after an action, with an error envelope when it failed.
func (s *Server) act(w http.ResponseWriter, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.ctrl.State())
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	httputil.WriteError(w, status, code, err, s.ctrl.State())
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, session.ErrWalletNotConnected):
		return http.StatusPreconditionFailed, "wallet_not_connected"
	case errors.Is(err, session.ErrNoLottery):
		return http.StatusPreconditionFailed, "no_lottery"
	case errors.Is(err, session.ErrNoPlayers):
		return http.StatusPreconditionFailed, "no_players"
	case errors.Is(err, session.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	}

	var lerr *lottery.Error
	if errors.As(err, &lerr) {
		if lerr.Kind == lottery.KindTimeout {
			return http.StatusGatewayTimeout, lerr.Kind.String()
		}
		return http.StatusBadGateway, lerr.Kind.String()
	}
	return http.StatusInternalServerError, "internal"
}
