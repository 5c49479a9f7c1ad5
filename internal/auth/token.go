package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/abkawan/banka-ledger/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload issued by the authentication service.
type Claims struct {
	UserID  string `json:"id,omitempty"`
	Role    string `json:"role"`
	IsAdmin bool   `json:"isAdmin"`
	jwt.RegisteredClaims
}

// TokenVerifier turns HS256 bearer tokens into actors.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses and validates tokenString and returns the actor it names.
func (v *TokenVerifier) Verify(tokenString string) (*Actor, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, &models.Error{Kind: models.KindUnauthenticated, Message: "invalid or expired token", Err: err}
	}

	id := claims.Subject
	if id == "" {
		id = claims.UserID
	}
	if id == "" {
		return nil, &models.Error{Kind: models.KindUnauthenticated, Message: "token has no subject"}
	}

	role, err := ParseRole(claims.Role)
	if err != nil {
		return nil, err
	}

	return &Actor{ID: id, Role: role, IsAdmin: claims.IsAdmin}, nil
}

// IssueToken signs a token for actor. Production tokens come from the
// authentication service; this serves tooling and tests.
func IssueToken(secret string, actor Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:    string(actor.Role),
		IsAdmin: actor.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Middleware resolves the bearer token into an actor on the request context.
// Requests without a token pass through anonymously; handlers that need an
// actor reject them. A token that does not verify is answered with 401 here.
func Middleware(v *TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				unauthorized(w, errors.New("invalid authorization header format"))
				return
			}

			actor, err := v.Verify(token)
			if err != nil {
				unauthorized(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func unauthorized(w http.ResponseWriter, err error) {
	msg := "invalid authorization header format"
	var e *models.Error
	if errors.As(err, &e) {
		msg = e.Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": http.StatusUnauthorized,
		"kind":   models.KindUnauthenticated,
		"error":  msg,
	})
}
