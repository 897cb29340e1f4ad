package grpc

import (
	"context"
	"fmt"
	"strings"
)

// AuthMode selects how calls authenticate themselves to the server.
type AuthMode string

const (
	// AuthModeNone adds no authentication headers.
	AuthModeNone AuthMode = "none"
	// AuthModeBearerToken adds an `authorization: Bearer <token>` header, using the
	// configured token or, failing that, the token provider.
	AuthModeBearerToken AuthMode = "bearer"
	// AuthModeAPIKey adds the configured key under the configured header.
	AuthModeAPIKey AuthMode = "apikey"
	// AuthModeMutualTLS authenticates via a client certificate at the transport
	// layer; no header is added.
	AuthModeMutualTLS AuthMode = "mtls"
)

const authorizationHeader = "authorization"

// AuthOpts holds authentication opts for a gRPC client.
type AuthOpts struct {
	Mode         AuthMode `long:"mode" env:"MODE" description:"Authentication mode." default:"none" choice:"none" choice:"bearer" choice:"apikey" choice:"mtls"`
	BearerToken  string   `long:"bearer-token" env:"BEARER_TOKEN" description:"Fixed bearer token. Takes precedence over the token provider."`
	APIKeyHeader string   `long:"api-key-header" env:"API_KEY_HEADER" description:"Header under which the api key is sent." default:"x-api-key"`
	APIKey       string   `long:"api-key" env:"API_KEY" description:"API key to send."`
}

// TokenProvider produces bearer tokens on demand. An empty token with a nil error
// means no token is available.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenProviderFN adapts a function to the TokenProvider interface.
type TokenProviderFN func(ctx context.Context) (string, error)

// Token implements the TokenProvider interface.
func (fn TokenProviderFN) Token(ctx context.Context) (string, error) { return fn(ctx) }

// Validate checks mode-specific credential presence. Mutual TLS material lives in
// certs opts and is checked by the client at connection time.
func (o *AuthOpts) Validate() error {
	switch o.Mode {
	case AuthModeNone, AuthModeBearerToken, AuthModeMutualTLS:
		return nil
	case AuthModeAPIKey:
		if strings.TrimSpace(o.APIKey) == "" {
			return fmt.Errorf("apikey authentication requires a non-blank key")
		}
		if strings.TrimSpace(o.APIKeyHeader) == "" {
			return fmt.Errorf("apikey authentication requires a non-blank header name")
		}
		return nil
	default:
		return fmt.Errorf("unsupported authentication mode: %q", o.Mode)
	}
}

// headers returns the authentication headers for one call, as alternating key/value
// pairs. Configuration errors are returned before any network activity takes place.
func (o *AuthOpts) headers(ctx context.Context, provider TokenProvider) ([]string, error) {
	if o == nil {
		return nil, nil
	}
	switch o.Mode {
	case "", AuthModeNone, AuthModeMutualTLS:
		return nil, nil

	case AuthModeBearerToken:
		token := strings.TrimSpace(o.BearerToken)
		if token == "" && provider != nil {
			providedToken, err := provider.Token(ctx)
			if err != nil {
				return nil, fmt.Errorf("querying token provider: %w", err)
			}
			token = strings.TrimSpace(providedToken)
		}
		if token == "" {
			return nil, fmt.Errorf("bearer token authentication requires a token or a token provider")
		}
		return []string{authorizationHeader, "Bearer " + token}, nil

	case AuthModeAPIKey:
		if strings.TrimSpace(o.APIKey) == "" {
			return nil, fmt.Errorf("apikey authentication requires a non-blank key")
		}
		if strings.TrimSpace(o.APIKeyHeader) == "" {
			return nil, fmt.Errorf("apikey authentication requires a non-blank header name")
		}
		return []string{o.APIKeyHeader, o.APIKey}, nil

	default:
		return nil, fmt.Errorf("unsupported authentication mode: %q", o.Mode)
	}
}
