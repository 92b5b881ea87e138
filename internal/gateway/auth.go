package gateway

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"github.com/soyeahso/roundtable/internal/config"
)

// Auth modes.
const (
	AuthModeNone     = "none"
	AuthModeToken    = "token"
	AuthModePassword = "password"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth is the gateway's effective credential set.
type ResolvedAuth struct {
	Mode     string
	Token    string
	Password string
}

// ResolveAuth resolves credentials from config, falling back to
// ROUNDTABLE_GATEWAY_PASSWORD for the password. With no credential at all
// the gateway runs open (AuthModeNone).
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	auth := ResolvedAuth{Mode: cfg.Mode, Token: cfg.Token, Password: cfg.Password}
	if auth.Password == "" {
		auth.Password = os.Getenv("ROUNDTABLE_GATEWAY_PASSWORD")
	}

	switch {
	case auth.Token == "" && auth.Password == "":
		auth.Mode = AuthModeNone
	case auth.Mode == "" && auth.Token == "":
		auth.Mode = AuthModePassword
	case auth.Mode == "":
		auth.Mode = AuthModeToken
	}
	return auth
}

// Authorize checks connect credentials against the resolved server auth.
func Authorize(server ResolvedAuth, client *ConnectAuth) AuthResult {
	if server.Mode == AuthModeNone {
		return AuthResult{OK: true, Method: AuthModeNone}
	}
	if client == nil {
		return AuthResult{OK: false, Reason: "no credentials provided"}
	}

	switch server.Mode {
	case AuthModeToken:
		return check(AuthModeToken, server.Token, client.Token)
	case AuthModePassword:
		return check(AuthModePassword, server.Password, client.Password)
	default:
		return AuthResult{OK: false, Reason: "unknown auth mode: " + server.Mode}
	}
}

// AuthorizeRequest checks the bearer credential of a REST request. In
// password mode the bearer value is compared with the password.
func AuthorizeRequest(server ResolvedAuth, r *http.Request) AuthResult {
	if server.Mode == AuthModeNone {
		return AuthResult{OK: true, Method: AuthModeNone}
	}
	bearer := bearerToken(r)
	return Authorize(server, &ConnectAuth{Token: bearer, Password: bearer})
}

func check(method, want, got string) AuthResult {
	if want == "" {
		return AuthResult{OK: false, Reason: "server " + method + " not configured"}
	}
	if got == "" {
		return AuthResult{OK: false, Reason: method + " required"}
	}
	if !safeEqual(got, want) {
		return AuthResult{OK: false, Reason: method + "_mismatch"}
	}
	return AuthResult{OK: true, Method: method}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// safeEqual compares in constant time without leaking the secret length.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
