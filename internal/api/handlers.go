package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"tokenScope/internal/contract"
	"tokenScope/internal/indexer"
	"tokenScope/internal/model"
	"tokenScope/internal/wallet"
)

func (s *Server) currentViews(w http.ResponseWriter) (*model.Views, bool) {
	if s.deps.Views == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "views are not available")
		return nil, false
	}
	views := s.deps.Views.Views()
	if views == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "views are not computed yet")
		return nil, false
	}
	return views, true
}

func (s *Server) handleViews(w http.ResponseWriter, r *http.Request) {
	if views, ok := s.currentViews(w); ok {
		writeJSON(w, http.StatusOK, views)
	}
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if views, ok := s.currentViews(w); ok {
		writeJSON(w, http.StatusOK, views.RecentItems)
	}
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if views, ok := s.currentViews(w); ok {
		writeJSON(w, http.StatusOK, views.Leaderboard)
	}
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if views, ok := s.currentViews(w); ok {
		writeJSON(w, http.StatusOK, views.Activity)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Views == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "sync is not running")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Views.Status())
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Views == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "sync is not running")
		return
	}
	gen, err := s.deps.Views.Resync(r.Context())
	if err != nil {
		if errors.Is(err, indexer.ErrNotStarted) {
			writeError(w, http.StatusServiceUnavailable, CodeUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, CodeProviderError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]uint64{"generation": gen})
}

func (s *Server) handleWallets(w http.ResponseWriter, r *http.Request) {
	if s.deps.Wallets == nil {
		writeJSON(w, http.StatusOK, []wallet.Descriptor{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Wallets.List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "no active session")
		return
	}
	session, ok := s.deps.Sessions.Current()
	if !ok {
		writeError(w, http.StatusNotFound, CodeNotFound, "no active session")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type connectRequest struct {
	WalletID string `json:"wallet_id"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil || s.deps.Wallets == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "wallets are not configured")
		return
	}
	var req connectRequest
	if err := decodeBody(w, r, &req); err != nil || req.WalletID == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "wallet_id is required")
		return
	}
	d, ok := s.deps.Wallets.Get(req.WalletID)
	if !ok {
		writeError(w, http.StatusNotFound, CodeNotFound, wallet.ErrUnknownWallet.Error())
		return
	}

	session, err := s.deps.Sessions.Connect(r.Context(), d)
	if err != nil {
		s.logger.Info("wallet connect failed", zap.String("wallet", d.ID), zap.Error(err))
		writeWalletError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions != nil {
		s.deps.Sessions.Disconnect()
	}
	w.WriteHeader(http.StatusNoContent)
}

type accountsRequest struct {
	Accounts []string `json:"accounts"`
}

func (s *Server) handleAccountsChanged(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "wallets are not configured")
		return
	}
	var req accountsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid body")
		return
	}
	s.deps.Sessions.HandleAccountsChanged(req.Accounts)
	if session, ok := s.deps.Sessions.Current(); ok {
		writeJSON(w, http.StatusOK, session)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTrackTransaction(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tracker == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "live merge is not running")
		return
	}
	hash, err := indexer.ParseTxHash(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.TrackTimeout)
	defer cancel()
	added, err := s.deps.Tracker.TrackTransaction(ctx, hash)
	if err != nil {
		s.logger.Warn("track transaction failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		writeError(w, http.StatusBadGateway, CodeProviderError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tx_hash": strings.ToLower(hash.Hex()), "added": added})
}

func (s *Server) handleFactory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Factory == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "factory is not configured")
		return
	}
	info, err := s.deps.Factory.Info(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, CodeProviderError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleFactoryToken(w http.ResponseWriter, r *http.Request) {
	if s.deps.Factory == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "factory is not configured")
		return
	}
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "index must be a non-negative integer")
		return
	}
	token, err := s.deps.Factory.TokenAt(r.Context(), index)
	if err != nil {
		writeError(w, http.StatusBadGateway, CodeProviderError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"index": index, "token_address": strings.ToLower(token.Hex())})
}

type calldataRequest struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Supply string `json:"supply"`
}

type calldataResponse struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

// handleCreateCalldata prepares an unsigned createToken call. The value is
// the current base fee, read from the factory.
func (s *Server) handleCreateCalldata(w http.ResponseWriter, r *http.Request) {
	if s.deps.Factory == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "factory is not configured")
		return
	}
	var req calldataRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Symbol = strings.TrimSpace(req.Symbol)
	supply, ok := new(big.Int).SetString(strings.TrimSpace(req.Supply), 10)
	if req.Name == "" || req.Symbol == "" || !ok {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "name, symbol and a decimal supply are required")
		return
	}

	data, err := contract.EncodeCreateToken(req.Name, req.Symbol, supply)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	info, err := s.deps.Factory.Info(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, CodeProviderError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, calldataResponse{
		To:    strings.ToLower(s.deps.Factory.Address().Hex()),
		Data:  hexutil.Encode(data),
		Value: info.BaseFee,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
