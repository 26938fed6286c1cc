// Package auth issues and verifies the bearer tokens used by accounts and
// paired device agents, and checks device agent signatures.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const Issuer = "famtool-server"

type Scope string

const (
	ScopeAccount Scope = "account"
	ScopeDevice  Scope = "device"
)

var ErrWrongScope = errors.New("token scope not accepted here")

type Claims struct {
	UserID    string `json:"sub"`
	Scope     Scope  `json:"scope"`
	DeviceKey string `json:"dev,omitempty"`
	jwt.RegisteredClaims
}

type TokenConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

func DefaultTokenConfig(secret string) TokenConfig {
	return TokenConfig{
		Secret: secret,
		Expiry: 7 * 24 * time.Hour,
		Issuer: Issuer,
	}
}

// CreateToken issues an account token.
func CreateToken(userID string, cfg TokenConfig) (string, error) {
	return sign(Claims{UserID: userID, Scope: ScopeAccount}, cfg)
}

// CreateDeviceToken issues a token that only speaks for one device of one
// account.
func CreateDeviceToken(userID, deviceKey string, cfg TokenConfig) (string, error) {
	if deviceKey == "" {
		return "", errors.New("missing deviceKey")
	}
	return sign(Claims{UserID: userID, Scope: ScopeDevice, DeviceKey: deviceKey}, cfg)
}

func sign(claims Claims, cfg TokenConfig) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("missing secret")
	}
	if claims.UserID == "" {
		return "", errors.New("missing userID")
	}
	if cfg.Expiry <= 0 {
		return "", errors.New("invalid expiry")
	}

	jtiBytes := make([]byte, 16)
	if _, err := rand.Read(jtiBytes); err != nil {
		return "", err
	}

	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(cfg.Expiry)),
		ID:        hex.EncodeToString(jtiBytes),
		Subject:   claims.UserID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

func VerifyToken(tokenString string, cfg TokenConfig) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, errors.New("missing secret")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	return claims, nil
}

// VerifyScoped verifies the token and requires the given scope.
func VerifyScoped(tokenString string, scope Scope, cfg TokenConfig) (*Claims, error) {
	claims, err := VerifyToken(tokenString, cfg)
	if err != nil {
		return nil, err
	}
	if claims.Scope != scope {
		return nil, ErrWrongScope
	}
	if scope == ScopeDevice && claims.DeviceKey == "" {
		return nil, ErrWrongScope
	}
	return claims, nil
}
