package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/reshala/support-desk/internal/auth"
	"github.com/reshala/support-desk/internal/config"
	"github.com/reshala/support-desk/internal/domain"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbiddenManager   = errors.New("not an allowed manager")
)

// Session is an issued API token.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Subject   domain.SubjectType
	Manager   domain.Manager
}

// AuthService exchanges Mini App init data or service credentials for JWT sessions.
type AuthService struct {
	tokenMgr    *auth.TokenManager
	verifier    *auth.Verifier
	serviceUser string
	serviceHash string
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, tokens *auth.TokenManager, verifier *auth.Verifier) *AuthService {
	return &AuthService{
		tokenMgr:    tokens,
		verifier:    verifier,
		serviceUser: strings.TrimSpace(cfg.ServiceUsername),
		serviceHash: cfg.ServicePasswordHash,
	}
}

// LoginWebApp verifies init data from the Mini App and opens a manager session.
func (s *AuthService) LoginWebApp(_ context.Context, initData string) (*Session, error) {
	manager, err := s.verifier.Manager(initData)
	switch {
	case errors.Is(err, auth.ErrNotManager):
		return nil, ErrForbiddenManager
	case err != nil:
		return nil, errors.Join(ErrInvalidCredentials, err)
	}
	return s.issue(manager, domain.SubjectTypeManager)
}

// LoginService authenticates the service account used by back-office integrations.
func (s *AuthService) LoginService(_ context.Context, username, password string) (*Session, error) {
	if s.serviceUser == "" || s.serviceHash == "" {
		return nil, ErrInvalidCredentials
	}
	if strings.TrimSpace(username) != s.serviceUser {
		return nil, ErrInvalidCredentials
	}
	if err := auth.ComparePassword(s.serviceHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(domain.Manager{Username: s.serviceUser}, domain.SubjectTypeService)
}

func (s *AuthService) issue(manager domain.Manager, subject domain.SubjectType) (*Session, error) {
	token, exp, err := s.tokenMgr.GenerateToken(manager, subject)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: exp, Subject: subject, Manager: manager}, nil
}
