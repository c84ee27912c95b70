package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cleanfleet/control-plane/internal/app/apperrors"
	"github.com/cleanfleet/control-plane/internal/app/domain/authz"
)

type loginRequestDTO struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenPairDTO struct {
	AccessToken           string    `json:"accessToken"`
	RefreshToken          string    `json:"refreshToken"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
}

func tokenPairToDTO(p authz.TokenPair) tokenPairDTO {
	return tokenPairDTO{
		AccessToken: p.AccessToken, RefreshToken: p.RefreshToken,
		AccessTokenExpiresAt: p.AccessTokenExpiresAt, RefreshTokenExpiresAt: p.RefreshTokenExpiresAt,
	}
}

func (h *handlers) registerAuthRoutes(r *mux.Router) {
	r.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", h.refresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	user, err := h.deps.Accounts.Authenticate(req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	pair, err := h.deps.Tokens.GenerateTokenPair(user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenPairToDTO(pair))
}

type refreshRequestDTO struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	claims, err := h.deps.Tokens.Validate(req.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	user, ok := h.deps.Accounts.UserByID(claims.Subject)
	if !ok {
		writeError(w, apperrors.Unauthorized("unknown account"))
		return
	}
	pair, err := h.deps.Tokens.Refresh(req.RefreshToken, user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenPairToDTO(pair))
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	token := extractToken(r)
	claims, err := h.deps.Tokens.Validate(token)
	if err != nil {
		writeError(w, err)
		return
	}
	h.deps.Tokens.Revoke(claims.JTI, claims.ExpiresAt)
	h.deps.Access.InvalidateSession(claims.Subject)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}
