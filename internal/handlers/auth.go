package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/memohai/botsmith/internal/auth"
)

// AdminAccount is the single operator allowed into the admin API.
type AdminAccount struct {
	Username     string
	PasswordHash string
}

// AuthHandler serves /auth/login and issues JWTs.
type AuthHandler struct {
	account   AdminAccount
	jwtSecret string
	expiresIn time.Duration
	logger    *slog.Logger
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the success body.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   string `json:"expires_at"`
	Username    string `json:"username"`
}

func NewAuthHandler(log *slog.Logger, account AdminAccount, jwtSecret string, expiresIn time.Duration) *AuthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AuthHandler{
		account:   account,
		jwtSecret: jwtSecret,
		expiresIn: expiresIn,
		logger:    log.With(slog.String("handler", "auth")),
	}
}

func (h *AuthHandler) Register(e *echo.Echo) {
	e.POST("/auth/login", h.Login)
}

func (h *AuthHandler) Login(c echo.Context) error {
	if strings.TrimSpace(h.account.PasswordHash) == "" {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "admin login not configured")
	}
	if h.expiresIn <= 0 {
		return echo.NewHTTPError(http.StatusInternalServerError, "jwt expiry not configured")
	}
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || strings.TrimSpace(req.Password) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.account.Username)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(h.account.PasswordHash), []byte(req.Password))
	if !userOK || passErr != nil {
		h.logger.Warn("admin login rejected", slog.String("username", req.Username), slog.String("remote_ip", c.RealIP()))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	token, expiresAt, err := auth.GenerateToken(req.Username, h.jwtSecret, h.expiresIn)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		Username:    req.Username,
	})
}
