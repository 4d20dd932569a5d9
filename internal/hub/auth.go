package hub

import (
	"net/http"

	"github.com/Krishnaraj-Irkal/flowsense/libs/auth"
)

// JWTAuthenticator adapts libs/auth's JWTManager to the Authenticator
// seam. It is the concrete implementation wired in by the composition
// root; Hub itself never imports libs/auth directly, keeping the
// out-of-scope auth collaborator pluggable (spec.md §1).
type JWTAuthenticator struct {
	manager *auth.JWTManager
}

// NewJWTAuthenticator wraps an already-configured JWTManager.
func NewJWTAuthenticator(manager *auth.JWTManager) *JWTAuthenticator {
	return &JWTAuthenticator{manager: manager}
}

// Authenticate extracts and validates a bearer token, returning the
// claimed user id as the subscriber id.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (string, error) {
	token, err := auth.ExtractTokenFromRequest(r)
	if err != nil {
		return "", err
	}
	claims, err := a.manager.ValidateToken(token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}
