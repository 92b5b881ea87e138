package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/soyeahso/roundtable/internal/config"
	"github.com/soyeahso/roundtable/internal/version"
)

// gatewayURL is the base URL a local client uses to reach the configured
// gateway.
func gatewayURL(gw config.GatewayConfig) string {
	scheme := "http"
	if gw.TLS.Enabled {
		scheme = "https"
	}
	host := "127.0.0.1"
	if gw.Bind == "custom" && gw.CustomBindHost != "" {
		host = gw.CustomBindHost
	}
	return scheme + "://" + host + ":" + strconv.Itoa(gw.Port)
}

// gatewayCredential is the bearer value sent to the gateway.
func gatewayCredential(auth config.GatewayAuth) string {
	if auth.Mode == "password" {
		return auth.Password
	}
	if auth.Token != "" {
		return auth.Token
	}
	return auth.Password
}

// callGateway sends body (nil for GET) to path and decodes the JSON reply
// into out. Non-2xx replies are errors.
func callGateway(ctx context.Context, gw config.GatewayConfig, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, gatewayURL(gw)+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if cred := gatewayCredential(gw.Auth); cred != "" {
		req.Header.Set("Authorization", "Bearer "+cred)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
