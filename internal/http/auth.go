package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"channelscope/internal/models"
	"channelscope/internal/store"
)

type contextKey string

const (
	contextKeyAccountID contextKey = "account_id"
	contextKeyAccount   contextKey = "account"
)

type JWTClaims struct {
	AccountID int64  `json:"account_id"`
	Username  string `json:"username"`
	jwt.RegisteredClaims
}

func (s *Server) generateJWT(acct models.Account) (string, error) {
	if s.cfg.JWTSecretKey == "" {
		return "", errors.New("JWT secret key not configured")
	}

	claims := JWTClaims{
		AccountID: acct.ID,
		Username:  acct.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.cfg.JWTExpiry())),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "channelscope",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecretKey))
}

// jwtMiddleware resolves the bearer token to an account id. Every failure
// mode is the same generic 401.
func (s *Server) jwtMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			respondError(w, http.StatusUnauthorized, errors.New("authentication required"))
			return
		}

		if s.cfg.JWTSecretKey == "" {
			respondError(w, http.StatusInternalServerError, errors.New("JWT secret key not configured"))
			return
		}

		token, err := jwt.ParseWithClaims(parts[1], &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(s.cfg.JWTSecretKey), nil
		})
		if err != nil {
			respondError(w, http.StatusUnauthorized, errors.New("authentication required"))
			return
		}

		claims, ok := token.Claims.(*JWTClaims)
		if !ok || !token.Valid || claims.AccountID == 0 {
			respondError(w, http.StatusUnauthorized, errors.New("authentication required"))
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyAccountID, claims.AccountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireTier gates a route on current entitlement. The account is loaded
// and HasAccess evaluated on every request; entitlement can lapse by
// calendar time alone, so it is never cached.
func (s *Server) requireTier(required models.Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acct, err := s.accounts.Get(r.Context(), accountIDFromContext(r.Context()))
			if errors.Is(err, store.ErrNotFound) {
				respondError(w, http.StatusUnauthorized, errors.New("authentication required"))
				return
			}
			if err != nil {
				respondError(w, http.StatusInternalServerError, err)
				return
			}
			if !acct.HasAccess(required, time.Now().UTC()) {
				respondError(w, http.StatusForbidden, errors.New("active subscription required"))
				return
			}
			ctx := context.WithValue(r.Context(), contextKeyAccount, acct)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func accountIDFromContext(ctx context.Context) int64 {
	if id, ok := ctx.Value(contextKeyAccountID).(int64); ok {
		return id
	}
	return 0
}

func accountFromContext(ctx context.Context) (models.Account, bool) {
	acct, ok := ctx.Value(contextKeyAccount).(models.Account)
	return acct, ok
}
