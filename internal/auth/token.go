package auth

import (
	"errors"
	"strconv"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/reshala/support-desk/internal/domain"
)

// TokenManager handles issuing and validating JWT tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, ttlMinutes int) *TokenManager {
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	return &TokenManager{secret: []byte(secret), ttl: time.Duration(ttlMinutes) * time.Minute}
}

// Claims describes JWT payload.
type Claims struct {
	TelegramID int64              `json:"tg_id,omitempty"`
	Username   string             `json:"username,omitempty"`
	FirstName  string             `json:"first_name,omitempty"`
	Subject    domain.SubjectType `json:"subject"`
	jwt.RegisteredClaims
}

// Manager rebuilds the manager identity carried by the token.
func (c *Claims) Manager() domain.Manager {
	return domain.Manager{TelegramID: c.TelegramID, Username: c.Username, FirstName: c.FirstName}
}

// GenerateToken builds and signs a JWT for a manager or the service account.
func (tm *TokenManager) GenerateToken(manager domain.Manager, subject domain.SubjectType) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(tm.ttl)
	sub := manager.Username
	if manager.TelegramID != 0 {
		sub = strconv.FormatInt(manager.TelegramID, 10)
	}
	claims := &Claims{
		TelegramID: manager.TelegramID,
		Username:   manager.Username,
		FirstName:  manager.FirstName,
		Subject:    subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ParseToken validates and returns claims.
func (tm *TokenManager) ParseToken(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
