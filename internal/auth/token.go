package auth

import (
	"fmt"
	"net/http"
	"strings"

	"ms-orders/internal/apperr"
)

// ExtractTokenFromRequest extracts the bearer token from the Authorization
// header.
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("%w: authorization header is missing", apperr.ErrUnauthorized)
	}

	// Bearer token format: "Bearer {token}"
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("%w: authorization header format must be 'Bearer {token}'", apperr.ErrUnauthorized)
	}

	return parts[1], nil
}

// Session tokens are base64url without dots, JWTs have exactly two.
func looksLikeJWT(token string) bool {
	return strings.Count(token, ".") == 2
}
