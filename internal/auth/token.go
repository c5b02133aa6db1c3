package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Identity is the user an identity-provider token vouches for.
type Identity struct {
	Email    string `json:"email"`
	Provider string `json:"provider"`
	Expires  int64  `json:"exp"`
}

// TokenVerifier checks an identity-provider token.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// HMACVerifier accepts tokens of the form payload.signature, where payload
// is base64url JSON Identity and signature is base64url HMAC-SHA256 of the
// payload under Secret. It stands in for an OAuth provider's ID token.
type HMACVerifier struct {
	Secret []byte
	Now    func() time.Time
}

func (v HMACVerifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v HMACVerifier) sign(payload string) string {
	mac := hmac.New(sha256.New, v.Secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Issue mints a token for id valid for ttl.
func (v HMACVerifier) Issue(id Identity, ttl time.Duration) (string, error) {
	if len(v.Secret) == 0 {
		return "", fmt.Errorf("%w: no signing secret", ErrInvalidToken)
	}
	id.Expires = v.now().Add(ttl).Unix()
	raw, err := json.Marshal(id)
	if err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)
	return payload + "." + v.sign(payload), nil
}

// Verify implements TokenVerifier.
func (v HMACVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if len(v.Secret) == 0 {
		return Identity{}, fmt.Errorf("%w: no signing secret", ErrInvalidToken)
	}
	payload, sig, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok {
		return Identity{}, fmt.Errorf("%w: malformed", ErrInvalidToken)
	}
	if !hmac.Equal([]byte(sig), []byte(v.sign(payload))) {
		return Identity{}, fmt.Errorf("%w: bad signature", ErrInvalidToken)
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if id.Expires != 0 && v.now().Unix() > id.Expires {
		return Identity{}, fmt.Errorf("%w: expired", ErrInvalidToken)
	}
	if id.Provider == "" {
		id.Provider = "oauth"
	}
	return id, nil
}
