package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const userContextKey = "User"

// UserClaims represents JWT claims for authenticated users.
type UserClaims struct {
	User string `json:"usr"`
	jwt.RegisteredClaims
}

// authenticator checks the configured operator credentials and issues
// bearer tokens. The password is kept only as a bcrypt hash.
type authenticator struct {
	username string
	pwHash   []byte
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

func newAuthenticator(username, password, secret string, ttl time.Duration) (*authenticator, error) {
	a := &authenticator{username: username, secret: []byte(secret), ttl: ttl, now: time.Now}
	if password == "" {
		return a, nil
	}
	if secret == "" {
		return nil, errors.New("JWT_SECRET is required when AUTH_PASSWORD is set")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	a.pwHash = hash
	return a, nil
}

func (a *authenticator) enabled() bool { return len(a.pwHash) > 0 }

func (a *authenticator) check(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	pwOK := bcrypt.CompareHashAndPassword(a.pwHash, []byte(password)) == nil
	return userOK && pwOK
}

func (a *authenticator) issue(user string) (string, time.Time, error) {
	now := a.now()
	expiresAt := now.Add(a.ttl)
	claims := UserClaims{
		User: user,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	return token, expiresAt, err
}

func (a *authenticator) parse(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &UserClaims{}, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*UserClaims); ok && token.Valid {
		return claims.User, nil
	}
	return "", errors.New("invalid token claims")
}

// Middleware enforces a bearer token, or a token query parameter for
// websocket upgrades. It passes everything when auth is disabled.
func (a *authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.enabled() {
			c.Next()
			return
		}
		tokenStr := c.Query("token")
		if h := c.GetHeader("Authorization"); h != "" {
			scheme, rest, ok := strings.Cut(h, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				respondError(c, http.StatusUnauthorized, "INVALID_AUTH_HEADER", "invalid Authorization header")
				return
			}
			tokenStr = rest
		}
		if tokenStr == "" {
			respondError(c, http.StatusUnauthorized, "MISSING_TOKEN", "missing Authorization header")
			return
		}
		user, err := a.parse(tokenStr)
		if err != nil {
			respondError(c, http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token")
			return
		}
		c.Set(userContextKey, user)
		c.Next()
	}
}

// CurrentUser returns the authenticated user from context.
func CurrentUser(c *gin.Context) string {
	return c.GetString(userContextKey)
}

// login exchanges basic-auth (or JSON) credentials for a bearer token.
func (s *Server) login(c *gin.Context) {
	if !s.auth.enabled() {
		respondError(c, http.StatusNotFound, "AUTH_DISABLED", "authentication is disabled")
		return
	}
	username, password, ok := c.Request.BasicAuth()
	if !ok {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Header("WWW-Authenticate", `Basic realm="pair-trader"`)
			respondError(c, http.StatusUnauthorized, "MISSING_CREDENTIALS", "username and password are required")
			return
		}
		username, password = strings.TrimSpace(req.Username), req.Password
	}

	if !s.auth.check(username, password) {
		s.log.Warn().Str("user", username).Str("ip", c.ClientIP()).Msg("login failed")
		respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
		return
	}

	token, expiresAt, err := s.auth.issue(username)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to generate token")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
		"user":       username,
	})
}
