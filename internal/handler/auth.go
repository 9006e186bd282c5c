package handler

import (
	"net/http"

	"github.com/Dan9191/finpay/internal/models"
	"github.com/Dan9191/finpay/internal/service"
	"github.com/Dan9191/finpay/internal/utils"
)

type registerRequest struct {
	Name               string            `json:"name"`
	Email              string            `json:"email"`
	Phone              string            `json:"phone"`
	Document           string            `json:"document"`
	PersonType         models.PersonType `json:"person_type"`
	Password           string            `json:"password"`
	MonthlyIncomeCents utils.Int64       `json:"monthly_income_cents"`
}

type registerResponse struct {
	UserID    int64  `json:"user_id"`
	AccountID int64  `json:"account_id"`
	Number    string `json:"number"`
	Branch    string `json:"branch"`
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := required("monthly_income_cents", req.MonthlyIncomeCents.Set); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, account, err := h.svc.Register(r.Context(), service.Registration{
		Name:               req.Name,
		Email:              req.Email,
		Phone:              req.Phone,
		Document:           req.Document,
		PersonType:         req.PersonType,
		Password:           req.Password,
		MonthlyIncomeCents: req.MonthlyIncomeCents.Value,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{
		UserID:    user.ID,
		AccountID: account.ID,
		Number:    account.Number,
		Branch:    account.Branch,
	})
}

type loginRequest struct {
	Document string `json:"document"`
	Password string `json:"password"`
}

// Login handles user authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	token, err := h.svc.Login(r.Context(), req.Document, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "token_type": "Bearer"})
}
