package handlers

import (
	"context"
	"time"

	"net/http"

	"github.com/andresmv/credithub/internal/config"
	"github.com/andresmv/credithub/internal/domain/user"
	"github.com/andresmv/credithub/internal/security"
	"github.com/gin-gonic/gin"
)

type UserReader interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
}

type TokenIssuer interface {
	GenerateAccessToken(userID, email, role string) (string, error)
}

type AuthHandler struct {
	users     UserReader
	jwt       TokenIssuer
	accessTTL time.Duration
}

func NewAuthHandler(users UserReader, jwt TokenIssuer, accessTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		users:     users,
		jwt:       jwt,
		accessTTL: accessTTL,
	}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}
	// short timeout for DB lookup
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	foundUser, err := h.users.GetByEmail(cctx, req.Email)
	if err != nil {
		// Burn a compare anyway so a missing account costs the same as a
		// wrong password.
		_ = security.CheckPassword(
			"$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy", req.Password)
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	err = security.CheckPassword(foundUser.PasswordHash, req.Password)

	if err != nil {
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	accessToken, err := h.jwt.GenerateAccessToken(foundUser.ID, foundUser.Email, foundUser.Role)

	if err != nil {
		RespondInternal(ctx, "Could not generate access token")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"accessToken": accessToken,
		"tokenType":   "Bearer",
		"expiresIn":   int(h.accessTTL.Seconds()),
	})
}
