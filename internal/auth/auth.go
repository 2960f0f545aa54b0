// Package auth backs llm.AuthProvider: it classifies an inbound
// Authorization header as either a caller-facing API key or a JWT bearer
// token, per spec.md §6, and resolves it to the authenticated user plus
// their current wallet balance.
package auth

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/MakeHub-ai/makehub-gateway/config"
	"github.com/MakeHub-ai/makehub-gateway/llm"
	"github.com/MakeHub-ai/makehub-gateway/types"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// apiKeyPrefixes are the literal prefixes that always classify a token as
// an API key regardless of its dot count.
var apiKeyPrefixes = []string{"sk_", "ak_", "api_", "key_"}

// Cache caches a resolved AuthData by token hash, same shape as
// familyrouter.Cache and internal/cache.Manager.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Balancer reads a user's current wallet balance. Implemented by
// internal/wallet.Ledger; kept as a narrow interface here to avoid an
// internal/auth <-> internal/wallet import cycle.
type Balancer interface {
	GetBalance(ctx context.Context, userID string) (float64, error)
}

const cacheTTL = 10 * time.Minute

// Provider is the gorm-backed llm.AuthProvider implementation.
type Provider struct {
	db      *gorm.DB
	jwt     config.JWTConfig
	hmac    []byte
	rsaKey  *rsa.PublicKey
	balance Balancer
	cache   Cache
	logger  *zap.Logger
}

// New builds a Provider. HS256 tokens verify against jwtCfg.Secret and
// RS256 tokens against jwtCfg.PublicKey (PEM); when both are set, either
// algorithm is accepted, matching cmd/gateway's JWTAuth middleware key
// resolution.
func New(db *gorm.DB, jwtCfg config.JWTConfig, balance Balancer, cache Cache, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{db: db, jwt: jwtCfg, hmac: []byte(jwtCfg.Secret), balance: balance, cache: cache, logger: logger.With(zap.String("component", "auth_provider"))}
	if jwtCfg.PublicKey != "" {
		if block, _ := pem.Decode([]byte(jwtCfg.PublicKey)); block != nil {
			if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
				if k, ok := pub.(*rsa.PublicKey); ok {
					p.rsaKey = k
				}
			}
		}
	}
	return p
}

var _ llm.AuthProvider = (*Provider)(nil)

// Authenticate resolves the Authorization header to an authenticated
// caller. A token is classified as an API key, per spec.md §6, if it
// carries one of the literal prefixes above OR if its '.'-separated
// segment count is not 3 (a JWT always has exactly 3: header.payload.sig).
func (p *Provider) Authenticate(ctx context.Context, headers map[string][]string) (*types.AuthData, error) {
	token, err := bearerToken(headers)
	if err != nil {
		return nil, err
	}

	cacheKey := "auth:" + hashToken(token)
	if p.cache != nil {
		var cached types.AuthData
		if err := p.cache.GetJSON(ctx, cacheKey, &cached); err == nil && cached.User.ID != "" {
			return &cached, nil
		}
	}

	var data *types.AuthData
	if isAPIKey(token) {
		data, err = p.authenticateAPIKey(ctx, token)
	} else {
		data, err = p.authenticateJWT(ctx, token)
	}
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		if err := p.cache.SetJSON(ctx, cacheKey, data, cacheTTL); err != nil {
			p.logger.Warn("failed to cache auth result", zap.Error(err))
		}
	}
	return data, nil
}

func (p *Provider) authenticateAPIKey(ctx context.Context, token string) (*types.AuthData, error) {
	var row types.CallerAPIKey
	err := p.db.WithContext(ctx).Where("key_hash = ? AND active = ?", hashToken(token), true).First(&row).Error
	if err != nil {
		return nil, &types.Error{Code: types.ErrAuthenticationGW, Message: "invalid or unknown API key", HTTPStatus: 401}
	}
	balance, err := p.userBalance(ctx, row.UserID)
	if err != nil {
		return nil, err
	}
	return &types.AuthData{
		User:   types.AuthUser{ID: row.UserID, Balance: balance},
		APIKey: &types.AuthAPIKey{ID: row.ID, Name: row.Name},
		Method: types.AuthMethodAPIKey,
	}, nil
}

func (p *Provider) authenticateJWT(ctx context.Context, token string) (*types.AuthData, error) {
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "RS256"})}
	if p.jwt.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(p.jwt.Issuer))
	}
	if p.jwt.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(p.jwt.Audience))
	}

	keyFunc := func(t *jwt.Token) (interface{}, error) {
		switch t.Method.Alg() {
		case "HS256":
			if len(p.hmac) == 0 {
				return nil, fmt.Errorf("HMAC secret not configured")
			}
			return p.hmac, nil
		case "RS256":
			if p.rsaKey == nil {
				return nil, fmt.Errorf("RSA public key not configured")
			}
			return p.rsaKey, nil
		default:
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
	}

	parsed, err := jwt.Parse(token, keyFunc, parserOpts...)
	if err != nil || !parsed.Valid {
		return nil, &types.Error{Code: types.ErrAuthenticationGW, Message: "invalid or expired token", HTTPStatus: 401}
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, &types.Error{Code: types.ErrAuthenticationGW, Message: "invalid token claims", HTTPStatus: 401}
	}
	userID, _ := claims["user_id"].(string)
	if userID == "" {
		userID, _ = claims["sub"].(string)
	}
	if userID == "" {
		return nil, &types.Error{Code: types.ErrAuthenticationGW, Message: "token carries no user identity", HTTPStatus: 401}
	}

	balance, err := p.userBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	email, _ := claims["email"].(string)
	return &types.AuthData{
		User:   types.AuthUser{ID: userID, Balance: balance, Email: email},
		Method: types.AuthMethodBearer,
	}, nil
}

func (p *Provider) userBalance(ctx context.Context, userID string) (float64, error) {
	if p.balance == nil {
		return 0, nil
	}
	balance, err := p.balance.GetBalance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("auth: resolve balance: %w", err)
	}
	return balance, nil
}

func bearerToken(headers map[string][]string) (string, error) {
	for _, v := range headers["Authorization"] {
		if strings.HasPrefix(v, "Bearer ") {
			return strings.TrimPrefix(v, "Bearer "), nil
		}
	}
	return "", &types.Error{Code: types.ErrAuthenticationGW, Message: "missing or malformed Authorization header", HTTPStatus: 401}
}

func isAPIKey(token string) bool {
	for _, prefix := range apiKeyPrefixes {
		if strings.HasPrefix(token, prefix) {
			return true
		}
	}
	return strings.Count(token, ".") != 2
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
