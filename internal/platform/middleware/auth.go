package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"anchorage/pkg/requestcontext"
)

const operatorRole = "operator"

// OperatorClaims identify an operator allowed to call admin endpoints.
type OperatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// OperatorTokens issues and validates HS256 operator tokens.
type OperatorTokens struct {
	key []byte
	now func() time.Time
}

func NewOperatorTokens(signingKey string) (*OperatorTokens, error) {
	if len(signingKey) < 32 {
		return nil, errors.New("operator token key must be at least 32 bytes")
	}
	return &OperatorTokens{key: []byte(signingKey), now: time.Now}, nil
}

// Issue signs a token for operator valid for ttl.
func (o *OperatorTokens) Issue(operator string, ttl time.Duration) (string, error) {
	now := o.now()
	claims := OperatorClaims{
		Role: operatorRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			Issuer:    "anchorage",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(o.key)
	if err != nil {
		return "", fmt.Errorf("sign operator token: %w", err)
	}
	return signed, nil
}

// Validate parses tokenString and returns the operator it names.
func (o *OperatorTokens) Validate(tokenString string) (string, error) {
	var claims OperatorClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return o.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer("anchorage"),
		jwt.WithTimeFunc(o.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("invalid operator token: %w", err)
	}
	if claims.Role != operatorRole {
		return "", fmt.Errorf("token role %q is not %q", claims.Role, operatorRole)
	}
	if claims.Subject == "" {
		return "", errors.New("operator token has no subject")
	}
	return claims.Subject, nil
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":%q,"error_description":%q}`, errCode, errDesc))
}

// RequireOperator rejects requests without a valid operator bearer token and
// records the operator as the acting identity.
func RequireOperator(tokens *OperatorTokens, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			operator, err := tokens.Validate(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(ctx, operator)))
		})
	}
}
