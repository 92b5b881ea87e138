package gateway

import (
	"net/http/httptest"
	"testing"

	"github.com/soyeahso/roundtable/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestResolveAuth(t *testing.T) {
	t.Setenv("ROUNDTABLE_GATEWAY_PASSWORD", "")

	tests := []struct {
		name string
		cfg  config.GatewayAuth
		want string
	}{
		{"nothing configured", config.GatewayAuth{Mode: "token"}, AuthModeNone},
		{"token", config.GatewayAuth{Token: "t"}, AuthModeToken},
		{"password only", config.GatewayAuth{Password: "p"}, AuthModePassword},
		{"explicit mode wins", config.GatewayAuth{Mode: "password", Token: "t", Password: "p"}, AuthModePassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveAuth(tt.cfg).Mode)
		})
	}
}

func TestResolveAuthPasswordFromEnv(t *testing.T) {
	t.Setenv("ROUNDTABLE_GATEWAY_PASSWORD", "from-env")

	auth := ResolveAuth(config.GatewayAuth{})
	assert.Equal(t, AuthModePassword, auth.Mode)
	assert.Equal(t, "from-env", auth.Password)
}

func TestAuthorize(t *testing.T) {
	token := ResolvedAuth{Mode: AuthModeToken, Token: "secret"}
	password := ResolvedAuth{Mode: AuthModePassword, Password: "hunter2"}

	tests := []struct {
		name   string
		server ResolvedAuth
		client *ConnectAuth
		ok     bool
		reason string
	}{
		{"open gateway", ResolvedAuth{Mode: AuthModeNone}, nil, true, ""},
		{"no credentials", token, nil, false, "no credentials provided"},
		{"token ok", token, &ConnectAuth{Token: "secret"}, true, ""},
		{"token missing", token, &ConnectAuth{}, false, "token required"},
		{"token mismatch", token, &ConnectAuth{Token: "secreT"}, false, "token_mismatch"},
		{"token prefix", token, &ConnectAuth{Token: "secre"}, false, "token_mismatch"},
		{"server token unset", ResolvedAuth{Mode: AuthModeToken}, &ConnectAuth{Token: "x"}, false, "server token not configured"},
		{"password ok", password, &ConnectAuth{Password: "hunter2"}, true, ""},
		{"password sent as token", password, &ConnectAuth{Token: "hunter2"}, false, "password required"},
		{"unknown mode", ResolvedAuth{Mode: "oidc"}, &ConnectAuth{Token: "x"}, false, "unknown auth mode: oidc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Authorize(tt.server, tt.client)
			assert.Equal(t, tt.ok, res.OK)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestAuthorizeRequest(t *testing.T) {
	token := ResolvedAuth{Mode: AuthModeToken, Token: "secret"}

	tests := []struct {
		header string
		ok     bool
	}{
		{"Bearer secret", true},
		{"bearer secret", true},
		{"Bearer  secret ", true},
		{"Basic secret", false},
		{"secret", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/api/v1/chat", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.ok, AuthorizeRequest(token, r).OK)
		})
	}

	r := httptest.NewRequest("POST", "/clear", nil)
	r.Header.Set("Authorization", "Bearer hunter2")
	assert.True(t, AuthorizeRequest(ResolvedAuth{Mode: AuthModePassword, Password: "hunter2"}, r).OK)
	assert.True(t, AuthorizeRequest(ResolvedAuth{Mode: AuthModeNone}, httptest.NewRequest("GET", "/", nil)).OK)
}

func TestSafeEqual(t *testing.T) {
	assert.True(t, safeEqual("abc", "abc"))
	assert.True(t, safeEqual("", ""))
	assert.False(t, safeEqual("abc", "abd"))
	assert.False(t, safeEqual("abc", "abcd"))
	assert.False(t, safeEqual("", "a"))
}
