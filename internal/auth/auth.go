package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/videobox/videobox/internal/database"
	"github.com/videobox/videobox/internal/httputil"
	"github.com/videobox/videobox/internal/validate"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const (
	userIDKey contextKey = "userID"
	roleKey   contextKey = "role"
)

const (
	activationTokenDuration = 48 * time.Hour
	resetTokenDuration      = time.Hour
	maxAuthBodyBytes        = 16 << 10
	refreshCookieName       = "refresh_token"
	refreshCookiePath       = "/api/auth"
)

type EmailSender interface {
	SendActivation(ctx context.Context, toEmail, activationLink string) error
	SendPasswordReset(ctx context.Context, toEmail, resetLink string) error
}

type Handler struct {
	db            database.DBTX
	jwtSecret     string
	secureCookies bool
	emailSender   EmailSender
	baseURL       string
}

func NewHandler(db database.DBTX, jwtSecret string, secureCookies bool) *Handler {
	return &Handler{db: db, jwtSecret: jwtSecret, secureCookies: secureCookies}
}

func (h *Handler) SetEmailSender(sender EmailSender, baseURL string) {
	h.emailSender = sender
	h.baseURL = strings.TrimRight(baseURL, "/")
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
	Role        string `json:"role,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httputil.DecodeJSON(w, r, maxAuthBodyBytes, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		httputil.WriteError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	if msg := validate.Email(req.Email); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validate.Password(req.Password); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	role := req.Role
	if role == "" {
		role = RoleStudent
	}
	if role != RoleCoach && role != RoleStudent {
		httputil.WriteError(w, http.StatusBadRequest, "role must be coach or student")
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	var userID string
	err = h.db.QueryRow(r.Context(),
		"INSERT INTO users (email, password, role) VALUES ($1, $2, $3) RETURNING id",
		email, string(hashedPassword), role,
	).Scan(&userID)
	if err != nil {
		if database.IsUniqueViolation(err, "users_email_key") {
			httputil.WriteError(w, http.StatusConflict, "could not create account")
			return
		}
		slog.Error("auth: failed to create user", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	if err := h.sendActivation(r.Context(), userID, email); err != nil {
		slog.Error("auth: failed to send activation email", "user_id", userID, "error", err)
	}

	httputil.WriteJSON(w, http.StatusCreated, messageResponse{Message: "account created, check your email to activate it"})
}

func (h *Handler) sendActivation(ctx context.Context, userID, email string) error {
	rawToken, tokenHash, err := generateSecureToken()
	if err != nil {
		return err
	}

	if _, err := h.db.Exec(ctx,
		"INSERT INTO activation_tokens (token_hash, user_id, expires_at) VALUES ($1, $2, $3)",
		tokenHash, userID, time.Now().Add(activationTokenDuration),
	); err != nil {
		return err
	}

	if h.emailSender == nil {
		return nil
	}
	return h.emailSender.SendActivation(ctx, email, h.baseURL+"/activate?token="+rawToken)
}

func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := httputil.DecodeJSON(w, r, maxAuthBodyBytes, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" {
		httputil.WriteError(w, http.StatusBadRequest, "token is required")
		return
	}

	tokenHash := hashToken(req.Token)
	userID, err := h.consumeToken(r.Context(), "activation_tokens", tokenHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusBadRequest, "invalid or expired activation link")
			return
		}
		slog.Error("auth: failed to consume activation token", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to activate account")
		return
	}

	var role string
	if err := h.db.QueryRow(r.Context(),
		"UPDATE users SET activated = true, updated_at = now() WHERE id = $1 RETURNING role",
		userID,
	).Scan(&role); err != nil {
		slog.Error("auth: failed to activate user", "user_id", userID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to activate account")
		return
	}

	h.respondWithTokens(w, r.Context(), http.StatusOK, userID, role)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.DecodeJSON(w, r, maxAuthBodyBytes, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		httputil.WriteError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	var userID, hashedPassword, role string
	var activated bool
	err := h.db.QueryRow(r.Context(),
		"SELECT id, password, role, activated FROM users WHERE lower(email) = $1",
		strings.ToLower(strings.TrimSpace(req.Email)),
	).Scan(&userID, &hashedPassword, &role, &activated)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(req.Password)); err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	if !activated {
		httputil.WriteError(w, http.StatusForbidden, "account has not been activated")
		return
	}

	h.respondWithTokens(w, r.Context(), http.StatusOK, userID, role)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "refresh token not found")
		return
	}

	claims, err := ValidateToken(h.jwtSecret, cookie.Value)
	if err != nil || claims.TokenType != "refresh" || claims.TokenID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	consumed, err := h.consumeRefreshToken(r.Context(), claims.UserID, claims.TokenID)
	if err != nil {
		slog.Error("auth: failed to rotate refresh token", "user_id", claims.UserID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to revoke refresh token")
		return
	}
	if !consumed {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	h.respondWithTokens(w, r.Context(), http.StatusOK, claims.UserID, claims.Role)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		if claims, err := ValidateToken(h.jwtSecret, cookie.Value); err == nil && claims.TokenType == "refresh" && claims.TokenID != "" {
			if err := h.revokeRefreshToken(r.Context(), claims.TokenID); err != nil {
				slog.Warn("auth: failed to revoke refresh token on logout", "error", err)
			}
		}
	}
	h.setRefreshTokenCookie(w, "", -1)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := httputil.DecodeJSON(w, r, maxAuthBodyBytes, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		httputil.WriteError(w, http.StatusBadRequest, "email is required")
		return
	}

	response := messageResponse{Message: "if an account exists for that email, a reset link has been sent"}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var userID string
	err := h.db.QueryRow(r.Context(),
		"SELECT id FROM users WHERE lower(email) = $1 AND activated = true", email,
	).Scan(&userID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			slog.Error("auth: failed to look up user for password reset", "error", err)
		}
		httputil.WriteJSON(w, http.StatusOK, response)
		return
	}

	if _, err := h.db.Exec(r.Context(),
		"UPDATE password_resets SET used_at = now() WHERE user_id = $1 AND used_at IS NULL", userID,
	); err != nil {
		slog.Error("auth: failed to invalidate old reset tokens", "user_id", userID, "error", err)
	}

	rawToken, tokenHash, err := generateSecureToken()
	if err != nil {
		slog.Error("auth: failed to generate reset token", "error", err)
		httputil.WriteJSON(w, http.StatusOK, response)
		return
	}

	if _, err := h.db.Exec(r.Context(),
		"INSERT INTO password_resets (token_hash, user_id, expires_at) VALUES ($1, $2, $3)",
		tokenHash, userID, time.Now().Add(resetTokenDuration),
	); err != nil {
		slog.Error("auth: failed to store reset token", "user_id", userID, "error", err)
		httputil.WriteJSON(w, http.StatusOK, response)
		return
	}

	if h.emailSender != nil {
		if err := h.emailSender.SendPasswordReset(r.Context(), email, h.baseURL+"/reset?token="+rawToken); err != nil {
			slog.Error("auth: failed to send password reset email", "user_id", userID, "error", err)
		}
	}

	httputil.WriteJSON(w, http.StatusOK, response)
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := httputil.DecodeJSON(w, r, maxAuthBodyBytes, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" || req.Password == "" {
		httputil.WriteError(w, http.StatusBadRequest, "token and password are required")
		return
	}
	if msg := validate.Password(req.Password); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	tokenHash := hashToken(req.Token)
	userID, err := h.consumeToken(r.Context(), "password_resets", tokenHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusBadRequest, "invalid or expired reset link")
			return
		}
		slog.Error("auth: failed to consume reset token", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to reset password")
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	if _, err := h.db.Exec(r.Context(),
		"UPDATE users SET password = $1, updated_at = now() WHERE id = $2",
		string(hashedPassword), userID,
	); err != nil {
		slog.Error("auth: failed to update password", "user_id", userID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to reset password")
		return
	}

	if _, err := h.db.Exec(r.Context(),
		"UPDATE refresh_tokens SET revoked = true, revoked_at = now() WHERE user_id = $1 AND revoked = false",
		userID,
	); err != nil {
		slog.Error("auth: failed to revoke sessions after reset", "user_id", userID, "error", err)
	}

	httputil.WriteJSON(w, http.StatusOK, messageResponse{Message: "password has been reset"})
}

// consumeToken marks a single-use token row as used and returns its owner.
// table is one of the fixed token tables, never user input.
func (h *Handler) consumeToken(ctx context.Context, table, tokenHash string) (string, error) {
	var userID string
	err := h.db.QueryRow(ctx,
		"SELECT user_id FROM "+table+" WHERE token_hash = $1 AND used_at IS NULL AND expires_at > now()",
		tokenHash,
	).Scan(&userID)
	if err != nil {
		return "", err
	}

	tag, err := h.db.Exec(ctx,
		"UPDATE "+table+" SET used_at = now() WHERE token_hash = $1 AND used_at IS NULL",
		tokenHash,
	)
	if err != nil {
		return "", err
	}
	if tag.RowsAffected() == 0 {
		return "", pgx.ErrNoRows
	}
	return userID, nil
}

func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteError(w, http.StatusUnauthorized, "authorization header required")
			return
		}

		claims, msg := h.accessClaims(authHeader)
		if claims == nil {
			httputil.WriteError(w, http.StatusUnauthorized, msg)
			return
		}

		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

// OptionalMiddleware lets anonymous requests through but still rejects a
// malformed or expired bearer token.
func (h *Handler) OptionalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, msg := h.accessClaims(authHeader)
		if claims == nil {
			httputil.WriteError(w, http.StatusUnauthorized, msg)
			return
		}

		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

func (h *Handler) accessClaims(authHeader string) (*Claims, string) {
	tokenStr, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found {
		return nil, "invalid authorization header format"
	}

	claims, err := ValidateToken(h.jwtSecret, tokenStr)
	if err != nil {
		return nil, "invalid token"
	}
	if claims.TokenType != "access" {
		return nil, "invalid token type"
	}
	return claims, ""
}

// RequireRole must run after Middleware.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if RoleFromContext(r.Context()) != role {
				httputil.WriteError(w, http.StatusForbidden, "this action requires the "+role+" role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func withClaims(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, userIDKey, claims.UserID)
	return context.WithValue(ctx, roleKey, claims.Role)
}

func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(roleKey).(string)
	return role
}

func (h *Handler) respondWithTokens(w http.ResponseWriter, ctx context.Context, status int, userID, role string) {
	accessToken, refreshToken, err := h.issueTokens(ctx, userID, role)
	if err != nil {
		slog.Error("auth: failed to issue tokens", "user_id", userID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	h.setRefreshTokenCookie(w, refreshToken, int(RefreshTokenDuration/time.Second))
	httputil.WriteJSON(w, status, tokenResponse{AccessToken: accessToken, Role: role})
}

func (h *Handler) setRefreshTokenCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     refreshCookiePath,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   maxAge,
	})
}

func (h *Handler) issueTokens(ctx context.Context, userID, role string) (accessToken, refreshToken string, err error) {
	tokenID, err := newTokenID()
	if err != nil {
		return "", "", err
	}

	expiresAt := time.Now().Add(RefreshTokenDuration)
	if _, err := h.db.Exec(ctx, "INSERT INTO refresh_tokens (token_id, user_id, expires_at, revoked) VALUES ($1, $2, $3, false)", tokenID, userID, expiresAt); err != nil {
		return "", "", err
	}

	accessToken, err = GenerateAccessToken(h.jwtSecret, userID, role)
	if err != nil {
		return "", "", err
	}

	refreshToken, err = GenerateRefreshToken(h.jwtSecret, userID, role, tokenID)
	if err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}

// consumeRefreshToken revokes a live refresh token in one statement, so
// only one of several concurrent refreshes with the same token succeeds.
func (h *Handler) consumeRefreshToken(ctx context.Context, userID, tokenID string) (bool, error) {
	tag, err := h.db.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = true, revoked_at = now()
		 WHERE token_id = $1 AND user_id = $2 AND revoked = false AND expires_at > now()`,
		tokenID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (h *Handler) revokeRefreshToken(ctx context.Context, tokenID string) error {
	_, err := h.db.Exec(ctx, "UPDATE refresh_tokens SET revoked = true, revoked_at = now() WHERE token_id = $1", tokenID)
	return err
}

func newTokenID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// generateSecureToken returns a raw token for the email link and the hash
// that gets stored.
func generateSecureToken() (raw, hash string, err error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(b[:])
	return raw, hashToken(raw), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
