package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/quadcall/signaling/internal/v1/logging"
)

// MockVerifier is a development-only token verifier that accepts any token.
// It still decodes the unverified payload so the logged subject matches what
// the client believes it sent.
type MockVerifier struct{}

func (m *MockVerifier) Verify(tokenString string) (*Claims, error) {
	var subject, name, email string

	// Parse JWT token (format: header.payload.signature) without verifying.
	parts := strings.Split(tokenString, ".")
	if len(parts) == 3 {
		payload, err := base64.RawURLEncoding.DecodeString(parts[1])
		if err == nil {
			var claims map[string]interface{}
			if json.Unmarshal(payload, &claims) == nil {
				if sub, ok := claims["sub"].(string); ok {
					subject = sub
				}
				if n, ok := claims["name"].(string); ok {
					name = n
				}
				if e, ok := claims["email"].(string); ok {
					email = e
				}
				logging.Info(context.Background(), "MockVerifier parsed JWT", zap.String("subject", subject))
			}
		}
	}

	if subject == "" {
		subject = "dev-user-123"
	}
	if name == "" {
		name = "Dev User"
	}
	if email == "" {
		email = "dev@example.com"
	}

	claims := &Claims{
		Name:  name,
		Email: email,
	}
	claims.Subject = subject
	return claims, nil
}

// Ready always succeeds; the mock has no external dependency.
func (m *MockVerifier) Ready(ctx context.Context) error {
	return nil
}
