package server

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"git.cscs.ch/openchami/filemaker-mcp/internal/policy"
)

var (
	// ErrSessionTokenMissing indicates no MCP session token was configured.
	ErrSessionTokenMissing = errors.New("mcp session token is not configured")
	// ErrBearerTokenMissing indicates the Authorization header carried no bearer token.
	ErrBearerTokenMissing = errors.New("missing or malformed Authorization bearer token")
	// ErrBearerTokenInvalid indicates the bearer token did not match the session token.
	ErrBearerTokenInvalid = errors.New("invalid bearer token for MCP session")
)

const localSubject = "local-stdio"

// SessionPrincipal carries caller identity for tool policy checks.
type SessionPrincipal struct {
	Subject string
	Scopes  []string
}

// SessionAuthenticator authenticates HTTP and stdio MCP calls.
type SessionAuthenticator interface {
	AuthenticateHTTP(r *http.Request) (SessionPrincipal, error)
	AuthenticateStdio() (SessionPrincipal, error)
}

// TokenSessionAuthenticator checks bearer tokens against the configured
// session token.
type TokenSessionAuthenticator struct {
	token     string
	principal SessionPrincipal
}

// NewTokenSessionAuthenticator creates a session authenticator.
//
// JWT-shaped tokens contribute their sub and scope claims. Opaque tokens are
// granted admin.
func NewTokenSessionAuthenticator(token string) *TokenSessionAuthenticator {
	trimmed := strings.TrimSpace(token)
	return &TokenSessionAuthenticator{
		token:     trimmed,
		principal: deriveSessionPrincipal(trimmed),
	}
}

// AuthenticateHTTP validates the Authorization bearer token.
func (a *TokenSessionAuthenticator) AuthenticateHTTP(r *http.Request) (SessionPrincipal, error) {
	if a.token == "" {
		return SessionPrincipal{}, fmt.Errorf("%w; set FILEMAKER_MCP_SESSION_TOKEN", ErrSessionTokenMissing)
	}
	presented := parseBearerToken(r.Header.Get("Authorization"))
	if presented == "" {
		return SessionPrincipal{}, ErrBearerTokenMissing
	}
	if presented != a.token {
		return SessionPrincipal{}, ErrBearerTokenInvalid
	}
	return clonePrincipal(a.principal), nil
}

// AuthenticateStdio returns the stdio principal. The stdio peer is the
// process that spawned the server, so an unset token yields a local admin.
func (a *TokenSessionAuthenticator) AuthenticateStdio() (SessionPrincipal, error) {
	if a.token == "" {
		return SessionPrincipal{Subject: localSubject, Scopes: []string{"admin"}}, nil
	}
	return clonePrincipal(a.principal), nil
}

func clonePrincipal(p SessionPrincipal) SessionPrincipal {
	return SessionPrincipal{
		Subject: p.Subject,
		Scopes:  slices.Clone(p.Scopes),
	}
}

func deriveSessionPrincipal(token string) SessionPrincipal {
	subject, scopes, ok := parseJWTPrincipal(token)
	if !ok {
		return SessionPrincipal{Subject: "mcp-session", Scopes: []string{"admin"}}
	}
	if subject == "" {
		subject = "mcp-session"
	}
	if len(scopes) == 0 {
		scopes = nil
	}
	return SessionPrincipal{Subject: subject, Scopes: scopes}
}

func parseBearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// parseJWTPrincipal reads claims without verifying the signature. The token
// itself is compared verbatim against the configured secret, so the claims
// only describe what that secret may do.
func parseJWTPrincipal(token string) (string, []string, bool) {
	if strings.Count(token, ".") != 2 {
		return "", nil, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", nil, false
	}

	subject, _ := claims.GetSubject()
	scopes := parseScopeClaims(claims["scope"])
	if len(scopes) == 0 {
		scopes = parseScopeClaims(claims["scopes"])
	}
	if len(scopes) == 0 {
		scopes = parseScopeClaims(claims["scp"])
	}
	if slices.Contains(parseScopeClaims(claims["roles"]), "admin") {
		scopes = append(scopes, "admin")
	}

	normalized := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		if !slices.Contains(normalized, scope) {
			normalized = append(normalized, scope)
		}
	}
	return strings.TrimSpace(subject), normalized, true
}

func parseScopeClaims(value any) []string {
	var raw []string
	switch typed := value.(type) {
	case string:
		raw = strings.Fields(typed)
	case []string:
		raw = typed
	case []any:
		for _, item := range typed {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	default:
		return nil
	}
	result := make([]string, 0, len(raw))
	for _, scope := range raw {
		if trimmed := strings.TrimSpace(scope); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func requireToolScopes(tool ToolSpec, principal SessionPrincipal) error {
	return policy.RequireScopes(tool.Name, tool.RequiredScopes, principal.Scopes)
}
