package oauth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
)

// OpaqueTokenLifetime is the expiration reported for bearer tokens this
// server holds no record of. Such tokens are provider access tokens and are
// validated by the provider on first downstream use.
const OpaqueTokenLifetime = time.Hour

// tokenInfoAccessTokenKey holds the raw bearer token in auth.TokenInfo.Extra
const tokenInfoAccessTokenKey = "access_token"

// TokenVerifier returns a verifier for auth.RequireBearerToken.
//
// A token the provider adapter reports as active carries its scope and
// expiry. Any other non-empty token is accepted as opaque with
// OpaqueTokenLifetime and no scopes.
func (h *Handler) TokenVerifier() auth.TokenVerifier {
	return func(ctx context.Context, token string, _ *http.Request) (*auth.TokenInfo, error) {
		token = strings.TrimSpace(token)
		if token == "" {
			return nil, fmt.Errorf("%w: empty bearer token", auth.ErrInvalidToken)
		}

		info := &auth.TokenInfo{
			Expiration: time.Now().Add(OpaqueTokenLifetime),
			Extra:      map[string]any{tokenInfoAccessTokenKey: token},
		}

		introspection, err := h.server.Introspect(ctx, token)
		if err != nil || introspection == nil || !introspection.Active {
			return info, nil
		}

		info.Scopes = strings.Fields(introspection.Scope)
		if introspection.Exp > 0 {
			info.Expiration = time.Unix(introspection.Exp, 0)
		}
		if introspection.ClientID != "" {
			info.Extra["client_id"] = introspection.ClientID
		}
		return info, nil
	}
}

// AccessTokenFromContext returns the bearer token verified by
// auth.RequireBearerToken, or "" when the request was not authenticated.
func AccessTokenFromContext(ctx context.Context) string {
	return AccessTokenFromInfo(auth.TokenInfoFromContext(ctx))
}

// AccessTokenFromInfo returns the bearer token recorded by TokenVerifier.
// MCP tool handlers receive the same info as req.Extra.TokenInfo.
func AccessTokenFromInfo(info *auth.TokenInfo) string {
	if info == nil {
		return ""
	}
	token, _ := info.Extra[tokenInfoAccessTokenKey].(string)
	return token
}
