package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kmulambia/qgen-engine/internal/config"
)

var (
	// ErrInvalidToken is returned for a bad signature or signing algorithm.
	ErrInvalidToken = errors.New("invalid token")
	// ErrDecode is returned for a token that cannot be parsed at all.
	ErrDecode = errors.New("malformed token")
)

// ClaimExpiresAt is the payload field carrying the expiry timestamp. It is an
// ordinary claim, deliberately NOT the registered "exp" claim: signature
// verification alone does not reject expired tokens, so callers must compare
// the field against the clock themselves. Compatibility contract, do not
// "fix" by moving to the registered claim.
const ClaimExpiresAt = "expires_at"

// Codec is a stateless JWT encoder/decoder sharing one server-wide HMAC
// secret.
type Codec struct {
	key        []byte
	method     jwt.SigningMethod
	defaultTTL time.Duration
	now        func() time.Time
}

// NewCodec builds a codec from the JWT configuration. Supported algorithms
// are HS256, HS384 and HS512.
func NewCodec(cfg config.JWTConfig) (*Codec, error) {
	var method jwt.SigningMethod
	switch cfg.Algorithm {
	case "HS256", "":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported signing algorithm: %s", cfg.Algorithm)
	}

	if cfg.Key == "" {
		return nil, fmt.Errorf("signing key is required")
	}

	return &Codec{
		key:        []byte(cfg.Key),
		method:     method,
		defaultTTL: time.Duration(cfg.TokenExpireMinutes) * time.Minute,
		now:        time.Now,
	}, nil
}

// WithClock overrides the codec's clock. Intended for tests.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

// Encode signs the claims and returns the token along with its expiry. Nil
// claim values are dropped and UUIDs are stringified. A zero ttl falls back
// to the configured default.
func (c *Codec) Encode(claims map[string]any, ttl time.Duration) (string, time.Time, error) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	expiresAt := c.now().UTC().Add(ttl)

	payload := jwt.MapClaims{}
	for k, v := range claims {
		if v == nil {
			continue
		}
		if id, ok := v.(uuid.UUID); ok {
			payload[k] = id.String()
			continue
		}
		payload[k] = v
	}
	payload[ClaimExpiresAt] = expiresAt.Format(time.RFC3339)

	signed, err := jwt.NewWithClaims(c.method, payload).SignedString(c.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// Decode verifies the signature and algorithm and returns the raw claims.
// Expiry is NOT checked here; see ClaimExpiresAt.
func (c *Codec) Decode(tokenString string) (map[string]any, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != c.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return c.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, ErrDecode
		}
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// ExpiresAt reconstructs the expiry timestamp from decoded claims.
func ExpiresAt(claims map[string]any) (time.Time, error) {
	raw, ok := claims[ClaimExpiresAt].(string)
	if !ok {
		return time.Time{}, ErrDecode
	}
	expiresAt, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, ErrDecode
	}
	return expiresAt, nil
}
