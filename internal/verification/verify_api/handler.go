package verify_api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"ms-orders/internal/apperr"
	"ms-orders/internal/auth"
	"ms-orders/internal/logger"
	"ms-orders/internal/models"
	"ms-orders/internal/utils"
	"ms-orders/internal/verification"
)

type Engine interface {
	RequestCode(ctx context.Context, identifier string) (*verification.RequestResult, error)
	VerifyCode(ctx context.Context, identifier, code string) (verification.Identifier, error)
	Login(ctx context.Context, identifier, code string) (*verification.LoginResult, error)
}

type AdminLogin interface {
	Login(ctx context.Context, pin string) (string, *models.Session, error)
}

type SessionDeleter interface {
	Delete(ctx context.Context, token string) error
}

type ProfileReader interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

type AddressLister interface {
	ShippingAddresses(ctx context.Context, userID string) ([]models.ShippingAddress, error)
}

type Handler struct {
	Engine    Engine
	Admin     AdminLogin
	Sessions  SessionDeleter
	Profiles  ProfileReader
	Addresses AddressLister
	Logger    *logger.Logger
}

type codeRequest struct {
	Identifier string `json:"identifier"`
}

type verifyRequest struct {
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
	Login      bool   `json:"login"`
}

type adminRequest struct {
	PIN string `json:"pin"`
}

type sessionResponse struct {
	Token   string          `json:"token"`
	Session *models.Session `json:"session"`
	User    *models.User    `json:"user,omitempty"`
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16)).Decode(v); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

// RequestCode → POST /api/auth/code
func (h *Handler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decode(r, &req); err != nil {
		utils.WriteError(w, "Could not send code", err)
		return
	}

	res, err := h.Engine.RequestCode(r.Context(), req.Identifier)
	if err != nil {
		utils.WriteError(w, "Could not send code", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Verification code sent", res))
}

// VerifyCode → POST /api/auth/verify. With login=true a session is issued.
func (h *Handler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(r, &req); err != nil {
		utils.WriteError(w, "Verification failed", err)
		return
	}

	if !req.Login {
		if _, err := h.Engine.VerifyCode(r.Context(), req.Identifier, req.Code); err != nil {
			utils.WriteError(w, "Verification failed", err)
			return
		}
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Verified", map[string]bool{"verified": true}))
		return
	}

	res, err := h.Engine.Login(r.Context(), req.Identifier, req.Code)
	if err != nil {
		utils.WriteError(w, "Verification failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Logged in", sessionResponse{Token: res.Token, Session: res.Session, User: res.User}))
}

// AdminLogin → POST /api/auth/admin
func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if err := decode(r, &req); err != nil {
		utils.WriteError(w, "Login failed", err)
		return
	}

	token, sess, err := h.Admin.Login(r.Context(), req.PIN)
	if err != nil {
		utils.WriteError(w, "Login failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Logged in", sessionResponse{Token: token, Session: sess}))
}

// Logout → POST /api/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Delete(r.Context(), auth.Token(r.Context())); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Logout: %v", err))
		utils.WriteError(w, "Logout failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Logged out", nil))
}

type currentSessionResponse struct {
	Session   *models.Session          `json:"session"`
	User      *models.User             `json:"user,omitempty"`
	Addresses []models.ShippingAddress `json:"shipping_addresses"`
}

// CurrentSession → GET /api/auth/session
func (h *Handler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	sess := auth.Session(r.Context())
	resp := currentSessionResponse{Session: sess, Addresses: []models.ShippingAddress{}}

	if h.Profiles != nil {
		user, err := h.Profiles.GetByID(r.Context(), sess.UserID)
		if err != nil {
			utils.WriteError(w, "Could not load profile", err)
			return
		}
		resp.User = user
	}
	if h.Addresses != nil {
		addrs, err := h.Addresses.ShippingAddresses(r.Context(), sess.UserID)
		if err != nil {
			h.Logger.Error("API", fmt.Sprintf("Shipping addresses for %s: %v", sess.UserID, err))
			utils.WriteError(w, "Could not load shipping addresses", err)
			return
		}
		if addrs != nil {
			resp.Addresses = addrs
		}
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Session", resp))
}
