package usecase

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
)

func TestSignatureVerifierAcceptsValidDigest(t *testing.T) {
	body := []byte(`{"webhook_id":"wh-1"}`)
	digest := hex.EncodeToString(Sign([]byte("secret"), body))
	v := NewSignatureVerifier("secret", false, discardLogger())

	for _, sig := range []string{digest, strings.ToUpper(digest), "sha256=" + digest, "  " + digest + " "} {
		if err := v.Verify(body, sig); err != nil {
			t.Fatalf("signature %q rejected: %v", sig, err)
		}
	}
}

func TestSignatureVerifierRejects(t *testing.T) {
	body := []byte(`{"webhook_id":"wh-1"}`)
	good := hex.EncodeToString(Sign([]byte("secret"), body))

	cases := map[string]struct {
		secret    string
		signature string
	}{
		"wrong secret": {secret: "other", signature: good},
		"tampered":     {secret: "secret", signature: hex.EncodeToString(Sign([]byte("secret"), append(body, ' ')))},
		"not hex":      {secret: "secret", signature: "zz-not-hex"},
		"missing":      {secret: "secret", signature: ""},
		"no secret":    {secret: "", signature: good},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			v := NewSignatureVerifier(tc.secret, false, discardLogger())
			err := v.Verify(body, tc.signature)
			if !errors.Is(err, domain.ErrUnauthorized) {
				t.Fatalf("expected unauthorized, got %v", err)
			}
		})
	}
}

func TestSignatureVerifierAllowUnsignedOnlySkipsMissingHeader(t *testing.T) {
	body := []byte(`{}`)
	v := NewSignatureVerifier("secret", true, discardLogger())

	if err := v.Verify(body, ""); err != nil {
		t.Fatalf("expected unsigned delivery to pass, got %v", err)
	}
	if err := v.Verify(body, "deadbeef"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected a present but wrong signature to fail, got %v", err)
	}
}
