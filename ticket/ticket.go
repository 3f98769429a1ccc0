package ticket

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Method selects the JWS algorithm.
type Method string

const (
	MethodEd25519 Method = "ed25519"
	MethodHS256   Method = "hs256"
)

var (
	ErrInvalidConfig = errors.New("invalid ticket configuration")
	ErrInvalidTicket = errors.New("invalid completion ticket")
)

// Config configures a Signer.
type Config struct {
	TTL    time.Duration
	Method Method
	// PrivateKey is the HMAC secret for hs256, or a raw or PEM ed25519 key.
	// Verification-only signers may leave it empty for ed25519.
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	Audience   string
	KeyID      string
	Leeway     time.Duration
	// Now overrides the time source, mostly for tests.
	Now func() time.Time
}

// Claims is the body of a completion ticket.
type Claims struct {
	Kind   string `json:"kind"`
	FlowID string `json:"flow"`
	Step   string `json:"step"`
	jwt.RegisteredClaims
}

// Principal returns the subject the ticket was minted for.
func (c *Claims) Principal() string {
	return c.Subject
}

// Signer mints and checks short-lived tickets proving a flow reached its
// terminal step.
type Signer struct {
	cfg       Config
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
}

// NewSigner validates cfg and resolves its keys.
func NewSigner(cfg Config) (*Signer, error) {
	if cfg.TTL <= 0 || cfg.TTL > time.Hour {
		return nil, fmt.Errorf("%w: ttl must be in (0, 1h]", ErrInvalidConfig)
	}
	if cfg.Leeway < 0 || cfg.Leeway > time.Minute {
		return nil, fmt.Errorf("%w: leeway must be in [0, 1m]", ErrInvalidConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	s := &Signer{cfg: cfg}
	switch cfg.Method {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, fmt.Errorf("%w: hs256 secret must be at least 32 bytes", ErrInvalidConfig)
		}
		s.method = jwt.SigningMethodHS256
		s.signKey = cfg.PrivateKey
		s.verifyKey = cfg.PrivateKey
	case MethodEd25519, "":
		s.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			s.signKey = priv
			s.verifyKey = priv.Public()
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			s.verifyKey = pub
		}
		if s.verifyKey == nil {
			return nil, fmt.Errorf("%w: ed25519 needs a private or public key", ErrInvalidConfig)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported method %q", ErrInvalidConfig, cfg.Method)
	}
	return s, nil
}

// Sign mints a ticket for a completed flow.
func (s *Signer) Sign(principal, kind, flowID, step string) (string, error) {
	if s.signKey == nil {
		return "", fmt.Errorf("%w: signer has no private key", ErrInvalidConfig)
	}

	now := s.cfg.Now()
	claims := Claims{
		Kind:   kind,
		FlowID: flowID,
		Step:   step,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TTL)),
			ID:        uuid.NewString(),
		},
	}
	if s.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.cfg.Audience}
	}

	token := jwt.NewWithClaims(s.method, claims)
	if s.cfg.KeyID != "" {
		token.Header["kid"] = s.cfg.KeyID
	}
	return token.SignedString(s.signKey)
}

// Parse verifies signature, expiry, issuer and audience.
func (s *Signer) Parse(raw string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithTimeFunc(s.cfg.Now),
		jwt.WithExpirationRequired(),
	}
	if s.cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(s.cfg.Leeway))
	}
	if s.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(s.cfg.Issuer))
	}
	if s.cfg.Audience != "" {
		options = append(options, jwt.WithAudience(s.cfg.Audience))
	}

	token, err := jwt.NewParser(options...).ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if s.cfg.KeyID != "" {
			if kid, _ := t.Header["kid"].(string); kid != s.cfg.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return s.verifyKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" || claims.FlowID == "" {
		return nil, ErrInvalidTicket
	}
	return claims, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ed25519 private key", ErrInvalidConfig)
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: invalid ed25519 private key type", ErrInvalidConfig)
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ed25519 public key", ErrInvalidConfig)
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: invalid ed25519 public key type", ErrInvalidConfig)
	}
	return edKey, nil
}
