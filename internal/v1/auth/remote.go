package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/quadcall/signaling/internal/v1/logging"
	"github.com/quadcall/signaling/internal/v1/metrics"
)

// publicKeyCacheTTL bounds how long a fetched signing key is trusted before
// re-checking the auth server. Rotation inside the window is still handled
// by the refresh-and-retry path in Verify.
const publicKeyCacheTTL = 60 * time.Second

// RemoteKeyVerifier verifies RS256 tokens against the public key published by
// the session auth server at GET <baseURL>/public_key. The key is cached, and
// a token that fails signature verification triggers one forced refresh and
// retry to ride through key rotation or an auth-server restart.
type RemoteKeyVerifier struct {
	baseURL    string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker

	mu        sync.Mutex
	key       *rsa.PublicKey
	keyPEM    string
	fetchedAt time.Time
}

// publicKeyResponse is the auth server's key document.
type publicKeyResponse struct {
	PublicKey string `json:"public_key"`
}

// NewRemoteKeyVerifier creates a verifier for the given auth server base URL,
// e.g. "http://127.0.0.1:8081".
func NewRemoteKeyVerifier(baseURL string) *RemoteKeyVerifier {
	st := gobreaker.Settings{
		Name:        "auth_server",
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("auth_server").Set(stateVal)
			logging.Warn(context.Background(), "Auth server circuit breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &RemoteKeyVerifier{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		cb:         gobreaker.NewCircuitBreaker(st),
	}
}

// Verify parses and validates an RS256 bearer token.
func (v *RemoteKeyVerifier) Verify(tokenString string) (*Claims, error) {
	key, pem, err := v.publicKey(false)
	if err != nil {
		return nil, fmt.Errorf("no signing key available: %w", err)
	}

	claims, err := v.parse(tokenString, key)
	if err == nil {
		return claims, nil
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, err
	}

	// Auth server may have rotated or restarted; refresh key and retry once.
	freshKey, freshPEM, ferr := v.publicKey(true)
	if ferr != nil || freshPEM == pem {
		return nil, err
	}
	logging.Warn(context.Background(), "Token invalid under cached key, retrying with refreshed key")
	return v.parse(tokenString, freshKey)
}

func (v *RemoteKeyVerifier) parse(tokenString string, key *rsa.PublicKey) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(t *jwt.Token) (interface{}, error) { return key, nil },
		jwt.WithValidMethods([]string{"RS256"}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is invalid")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("failed to cast claims to Claims")
	}
	return claims, nil
}

// publicKey returns the cached signing key, fetching through the circuit
// breaker when the cache is stale or a forced refresh is requested.
func (v *RemoteKeyVerifier) publicKey(force bool) (*rsa.PublicKey, string, error) {
	v.mu.Lock()
	if !force && v.key != nil && time.Since(v.fetchedAt) < publicKeyCacheTTL {
		key, pem := v.key, v.keyPEM
		v.mu.Unlock()
		return key, pem, nil
	}
	v.mu.Unlock()

	result, err := v.cb.Execute(func() (interface{}, error) {
		return v.fetchKey()
	})
	if err != nil {
		// Serve the stale key if we have one rather than rejecting everyone
		// while the auth server is down.
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.key != nil {
			return v.key, v.keyPEM, nil
		}
		return nil, "", err
	}

	pem := result.(string)
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, "", fmt.Errorf("auth server returned an unparsable key: %w", err)
	}

	v.mu.Lock()
	v.key = key
	v.keyPEM = pem
	v.fetchedAt = time.Now()
	v.mu.Unlock()

	return key, pem, nil
}

func (v *RemoteKeyVerifier) fetchKey() (string, error) {
	resp, err := v.httpClient.Get(v.baseURL + "/public_key")
	if err != nil {
		return "", fmt.Errorf("failed to reach auth server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth server returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read auth server response: %w", err)
	}

	var doc publicKeyResponse
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("failed to decode public key document: %w", err)
	}
	if doc.PublicKey == "" {
		return "", errors.New("public key document is empty")
	}

	return doc.PublicKey, nil
}

// Ready reports whether a signing key is available, fetching one if needed.
// Used by the readiness probe.
func (v *RemoteKeyVerifier) Ready(ctx context.Context) error {
	_, _, err := v.publicKey(false)
	return err
}
