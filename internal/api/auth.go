package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"shareit/internal/config"
	"shareit/internal/domain"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	permReadBookings  = "read:bookings"
	permWriteBookings = "write:bookings"
	permReadCatalog   = "read:catalog"
	permWriteCatalog  = "write:catalog"
	clientKeyUnknown  = "unknown"

	healthMethodPrefix = "/grpc.health.v1.Health/"
)

var (
	errMissingAPIKey    = errors.New("missing api key header")
	errInvalidAPIKey    = errors.New("invalid api key")
	errPermissionDenied = errors.New("permission denied")
)

// HTTPAuth checks service API keys and applies per-client rate limits.
// Probes under /healthz and /readyz are never gated.
type HTTPAuth struct {
	cfg      config.APIConfig
	clients  map[string]config.APIClientKey
	limiters *keyLimiters
	shared   domain.RateLimiter
	log      zerolog.Logger
}

// NewHTTPAuth builds the gate. shared may be nil; when set it enforces
// rate_limit.limit per rate_limit.window across instances.
func NewHTTPAuth(cfg config.APIConfig, shared domain.RateLimiter, logger *zerolog.Logger) *HTTPAuth {
	clients := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		clients[k.Key] = k
	}
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &HTTPAuth{
		cfg:      cfg,
		clients:  clients,
		limiters: newKeyLimiters(cfg.RateLimit),
		shared:   shared,
		log:      l,
	}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.authorize(r); err != nil {
				if errors.Is(err, errPermissionDenied) {
					writeError(w, http.StatusForbidden, "permission_denied", err.Error())
					return
				}
				writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
		}

		if !a.allow(r) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) authorize(r *http.Request) error {
	apiKey := strings.TrimSpace(r.Header.Get(a.apiKeyHeader()))
	if apiKey == "" {
		return errMissingAPIKey
	}

	client, err := a.lookupClient(apiKey)
	if err != nil {
		return err
	}
	return checkPermissions(client, requiredPermission(r))
}

func (a *HTTPAuth) lookupClient(apiKey string) (config.APIClientKey, error) {
	for key, c := range a.clients {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			return c, nil
		}
	}
	return config.APIClientKey{}, errInvalidAPIKey
}

// checkGRPC requires a known API key in call metadata when auth is enabled.
// The health service stays open, like the HTTP probes.
func (a *HTTPAuth) checkGRPC(ctx context.Context, fullMethod string) error {
	if !a.cfg.Auth.Enabled || strings.HasPrefix(fullMethod, healthMethodPrefix) {
		return nil
	}
	md, _ := metadata.FromIncomingContext(ctx)
	var apiKey string
	if vals := md.Get(a.apiKeyHeader()); len(vals) > 0 {
		apiKey = strings.TrimSpace(vals[0])
	}
	if apiKey == "" {
		return status.Error(codes.Unauthenticated, errMissingAPIKey.Error())
	}
	if _, err := a.lookupClient(apiKey); err != nil {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	return nil
}

func checkPermissions(client config.APIClientKey, required string) error {
	if required == "" {
		return nil
	}
	// An empty permission list allows everything.
	if len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

func requiredPermission(r *http.Request) string {
	read := r.Method == http.MethodGet || r.Method == http.MethodHead
	switch {
	case strings.HasPrefix(r.URL.Path, "/bookings"):
		if read {
			return permReadBookings
		}
		return permWriteBookings
	case strings.HasPrefix(r.URL.Path, "/users"), strings.HasPrefix(r.URL.Path, "/items"):
		if read {
			return permReadCatalog
		}
		return permWriteCatalog
	default:
		return ""
	}
}

func (a *HTTPAuth) allow(r *http.Request) bool {
	key := a.clientKey(r)
	if !a.limiters.allow(key) {
		return false
	}
	if a.shared == nil || a.cfg.RateLimit.Limit <= 0 {
		return true
	}

	ok, err := a.shared.CheckRateLimit(r.Context(), "http:"+key, a.cfg.RateLimit.Limit, a.cfg.RateLimit.Window)
	if err != nil {
		a.log.Warn().Err(err).Str("client", key).Msg("shared rate limit check failed, allowing request")
		return true
	}
	return ok
}

func (a *HTTPAuth) apiKeyHeader() string {
	h := strings.TrimSpace(a.cfg.Auth.HeaderAPIKey)
	if h == "" {
		h = "x-api-key"
	}
	return h
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.apiKeyHeader())); apiKey != "" {
		return apiKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}
