package service

import (
	"errors"
	"time"

	"univapay-integration-demo/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Demo credential; swap for a real user store before anything serious.
const (
	demoUsername = "Nayeem"
	demoPassword = "password"
)

type AuthService interface {
	Login(username, password string) (string, error)
	VerifyToken(token string) (string, error)
}

type authServiceImpl struct {
	secretKey []byte
	tokenTTL  time.Duration
}

func NewAuthService(cfg config.Auth) AuthService {
	return &authServiceImpl{
		secretKey: []byte(cfg.SecretKey),
		tokenTTL:  cfg.TokenTTL,
	}
}

func (s *authServiceImpl) Login(username, password string) (string, error) {
	if username != demoUsername || password != demoPassword {
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
}

func (s *authServiceImpl) VerifyToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secretKey, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidCredentials
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidCredentials
	}
	return claims.Subject, nil
}
