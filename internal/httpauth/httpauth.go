// Package httpauth builds outbound authentication for calls against
// registered upstream APIs, from the decrypted auth configuration blob.
// It is shared by the validation prober, the generation engine and the
// deployment orchestrator (secret injection).
package httpauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/mcphub-dev/mcphub/pkg/models"
)

// Decode parses the decrypted auth configuration JSON into a flat key/value
// map. Empty input yields an empty map.
func Decode(raw string) (map[string]string, error) {
	cfg := make(map[string]string)
	if raw == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}
	return cfg, nil
}

// Apply sets the authentication headers or query parameters on req for the
// given authentication type.
func Apply(ctx context.Context, req *http.Request, authType models.AuthenticationType, cfg map[string]string) error {
	switch authType {
	case models.AuthNone:
		return nil

	case models.AuthApiKey:
		key := cfg["apiKey"]
		if key == "" {
			return fmt.Errorf("auth config missing apiKey")
		}
		if cfg["in"] == "query" {
			param := cfg["paramName"]
			if param == "" {
				param = "api_key"
			}
			q := req.URL.Query()
			q.Set(param, key)
			req.URL.RawQuery = q.Encode()
			return nil
		}
		header := cfg["headerName"]
		if header == "" {
			header = "X-Api-Key"
		}
		req.Header.Set(header, key)
		return nil

	case models.AuthBasic:
		if cfg["username"] == "" {
			return fmt.Errorf("auth config missing username")
		}
		req.SetBasicAuth(cfg["username"], cfg["password"])
		return nil

	case models.AuthBearerToken:
		if cfg["token"] == "" {
			return fmt.Errorf("auth config missing token")
		}
		req.Header.Set("Authorization", "Bearer "+cfg["token"])
		return nil

	case models.AuthJWT:
		token, err := signJWT(cfg)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil

	case models.AuthOAuth2ClientCreds:
		token, err := clientCredentialsToken(ctx, cfg)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil

	case models.AuthOAuth2AuthCode:
		// Authorization-code flow needs user interaction; the probe can
		// only use a previously obtained access token.
		if cfg["accessToken"] != "" {
			req.Header.Set("Authorization", "Bearer "+cfg["accessToken"])
		}
		return nil

	case models.AuthCustom:
		for name, value := range cfg {
			req.Header.Set(name, value)
		}
		return nil
	}
	return fmt.Errorf("unsupported authentication type: %s", authType)
}

// signJWT mints a short-lived HS256 token from the configured secret.
func signJWT(cfg map[string]string) (string, error) {
	secret := cfg["secret"]
	if secret == "" {
		return "", fmt.Errorf("auth config missing secret")
	}

	ttl := 5 * time.Minute
	if raw := cfg["ttlSeconds"]; raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return "", fmt.Errorf("invalid ttlSeconds %q", raw)
		}
		ttl = time.Duration(seconds) * time.Second
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if iss := cfg["issuer"]; iss != "" {
		claims["iss"] = iss
	}
	if sub := cfg["subject"]; sub != "" {
		claims["sub"] = sub
	}
	if aud := cfg["audience"]; aud != "" {
		claims["aud"] = aud
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}
	return signed, nil
}

func clientCredentialsToken(ctx context.Context, cfg map[string]string) (string, error) {
	if cfg["tokenUrl"] == "" || cfg["clientId"] == "" {
		return "", fmt.Errorf("auth config missing tokenUrl or clientId")
	}
	cc := clientcredentials.Config{
		ClientID:     cfg["clientId"],
		ClientSecret: cfg["clientSecret"],
		TokenURL:     cfg["tokenUrl"],
		Scopes:       strings.Fields(cfg["scopes"]),
	}
	token, err := cc.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("client credentials token request failed: %w", err)
	}
	return token.AccessToken, nil
}

// EnvVars returns the environment variables injected into a deployed MCP
// server so it can authenticate against the upstream API at runtime.
func EnvVars(authType models.AuthenticationType, cfg map[string]string) map[string]string {
	env := map[string]string{
		"MCP_UPSTREAM_AUTH_TYPE": string(authType),
	}
	switch authType {
	case models.AuthNone:
	case models.AuthApiKey:
		env["MCP_UPSTREAM_API_KEY"] = cfg["apiKey"]
		if cfg["headerName"] != "" {
			env["MCP_UPSTREAM_API_KEY_HEADER"] = cfg["headerName"]
		}
	case models.AuthBasic:
		credentials := base64.StdEncoding.EncodeToString([]byte(cfg["username"] + ":" + cfg["password"]))
		env["MCP_UPSTREAM_BASIC_AUTH"] = credentials
	case models.AuthBearerToken:
		env["MCP_UPSTREAM_TOKEN"] = cfg["token"]
	case models.AuthJWT:
		env["MCP_UPSTREAM_JWT_SECRET"] = cfg["secret"]
	case models.AuthOAuth2ClientCreds:
		env["MCP_UPSTREAM_OAUTH_TOKEN_URL"] = cfg["tokenUrl"]
		env["MCP_UPSTREAM_OAUTH_CLIENT_ID"] = cfg["clientId"]
		env["MCP_UPSTREAM_OAUTH_CLIENT_SECRET"] = cfg["clientSecret"]
	case models.AuthOAuth2AuthCode:
		env["MCP_UPSTREAM_TOKEN"] = cfg["accessToken"]
	case models.AuthCustom:
		for name, value := range cfg {
			env["MCP_UPSTREAM_HEADER_"+sanitizeEnvKey(name)] = value
		}
	}
	return env
}

func sanitizeEnvKey(name string) string {
	upper := strings.ToUpper(name)
	return strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, upper)
}
