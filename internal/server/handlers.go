package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/inkverse/inkgate/internal/splatnet"
)

type loginStartResponse struct {
	LoginURL string `json:"login_url"`
	State    string `json:"state"`
}

type loginCallbackRequest struct {
	CallbackURL string `json:"callback_url"`
	State       string `json:"state"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleLoginStart(w http.ResponseWriter, r *http.Request) {
	authURL, verifier, err := s.account.BeginLogin(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	state := s.logins.add(verifier)
	s.writeJSON(w, http.StatusOK, loginStartResponse{LoginURL: authURL, State: state})
}

func (s *Server) handleLoginCallback(w http.ResponseWriter, r *http.Request) {
	var req loginCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: "invalid JSON body"})
		return
	}
	if req.CallbackURL == "" || req.State == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: "callback_url and state are required"})
		return
	}

	verifier, ok := s.logins.take(req.State)
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Code: "INVALID_STATE", Message: "unknown or expired login state"})
		return
	}

	sessionToken, err := s.account.CompleteLogin(r.Context(), req.CallbackURL, verifier)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status, err := s.account.AdoptSessionToken(r.Context(), sessionToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.account.Status(r.Context()))
}

// dataHandler adapts a parameterless query method to an HTTP handler.
func (s *Server) dataHandler(query func(context.Context) (json.RawMessage, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := query(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeRaw(w, data)
	}
}

// dataDetailHandler adapts a query taking the {id} path parameter.
func (s *Server) dataDetailHandler(query func(context.Context, string) (json.RawMessage, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := query(r.Context(), r.PathValue("id"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeRaw(w, data)
	}
}

// writeError maps the classified error kinds onto HTTP responses so API
// consumers can branch on the code without parsing messages.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status int
		code   string
	)

	var bulletErr *splatnet.BulletTokenError
	switch {
	case errors.Is(err, splatnet.ErrSessionExpired):
		status, code = http.StatusUnauthorized, "SESSION_EXPIRED"
	case errors.Is(err, splatnet.ErrMembershipRequired):
		status, code = http.StatusForbidden, "MEMBERSHIP_REQUIRED"
	case errors.As(err, &bulletErr):
		status, code = http.StatusBadGateway, "BULLET_TOKEN_ERROR"
	case errors.Is(err, splatnet.ErrTokenRefresh):
		status, code = http.StatusServiceUnavailable, "TOKEN_REFRESH_FAILED"
	case errors.Is(err, splatnet.ErrNetwork):
		status, code = http.StatusBadGateway, "UPSTREAM_UNREACHABLE"
	default:
		var apiErr *splatnet.APIError
		if errors.As(err, &apiErr) {
			status, code = http.StatusBadGateway, "UPSTREAM_ERROR"
		} else {
			status, code = http.StatusInternalServerError, "INTERNAL"
		}
	}

	s.logger.ErrorContext(r.Context(), "request failed", "code", code, "error", err)
	s.writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writing response", "error", err)
	}
}

func (s *Server) writeRaw(w http.ResponseWriter, data json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		s.logger.Error("writing response", "error", err)
	}
}
