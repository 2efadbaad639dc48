package usecase

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
)

const SignatureHeader = "X-Verkada-Signature"

// SignatureVerifier authenticates inbound deliveries with an HMAC-SHA256
// digest of the raw body. Unsigned deliveries pass only when allowUnsigned
// is set, which is meant for local testing against a replayed payload.
type SignatureVerifier struct {
	secret        []byte
	allowUnsigned bool
	logger        *slog.Logger
}

func NewSignatureVerifier(secret string, allowUnsigned bool, logger *slog.Logger) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret), allowUnsigned: allowUnsigned, logger: logger}
}

func (v *SignatureVerifier) Verify(body []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		if v.allowUnsigned {
			v.logger.Warn("accepting unsigned delivery", "allow_unsigned", true)
			return nil
		}
		return fmt.Errorf("missing signature: %w", domain.ErrUnauthorized)
	}
	if len(v.secret) == 0 {
		return fmt.Errorf("no shared secret configured: %w", domain.ErrUnauthorized)
	}

	got, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(signature), "sha256="))
	if err != nil {
		return fmt.Errorf("signature is not hex: %w", domain.ErrUnauthorized)
	}
	if !hmac.Equal(got, Sign(v.secret, body)) {
		return fmt.Errorf("signature mismatch: %w", domain.ErrUnauthorized)
	}
	return nil
}

// Sign returns the raw HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
