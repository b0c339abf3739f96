package service

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/reshala/support-desk/internal/auth"
	"github.com/reshala/support-desk/internal/config"
	"github.com/reshala/support-desk/internal/domain"
)

func newAuthService(t *testing.T) (*AuthService, *auth.TokenManager) {
	t.Helper()
	hash, err := auth.HashPassword("crm-pass", 4)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	tokens := auth.NewTokenManager("secret", 10)
	verifier := auth.NewVerifier("1:TOKEN", time.Hour, func(id int64) bool { return id == 900 })
	cfg := config.AuthConfig{ServiceUsername: "crm", ServicePasswordHash: hash}
	return NewAuthService(cfg, tokens, verifier), tokens
}

func signedInitData(userID int64) string {
	values := url.Values{}
	values.Set("auth_date", strconv.FormatInt(time.Now().Unix(), 10))
	values.Set("user", `{"id":`+strconv.FormatInt(userID, 10)+`,"first_name":"Anna"}`)
	values.Set("hash", auth.SignInitData(values, "1:TOKEN"))
	return values.Encode()
}

func TestLoginWebApp(t *testing.T) {
	svc, tokens := newAuthService(t)
	ctx := context.Background()

	session, err := svc.LoginWebApp(ctx, signedInitData(900))
	if err != nil {
		t.Fatalf("LoginWebApp: %v", err)
	}
	claims, err := tokens.ParseToken(session.Token)
	if err != nil || claims.TelegramID != 900 || claims.Subject != domain.SubjectTypeManager {
		t.Fatalf("claims = %+v, %v", claims, err)
	}

	if _, err := svc.LoginWebApp(ctx, signedInitData(901)); !errors.Is(err, ErrForbiddenManager) {
		t.Fatalf("foreign user err = %v", err)
	}
	if _, err := svc.LoginWebApp(ctx, "user=1&hash=ff"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("forged err = %v", err)
	}
}

func TestLoginService(t *testing.T) {
	svc, tokens := newAuthService(t)
	ctx := context.Background()

	session, err := svc.LoginService(ctx, "crm", "crm-pass")
	if err != nil {
		t.Fatalf("LoginService: %v", err)
	}
	claims, _ := tokens.ParseToken(session.Token)
	if claims == nil || claims.Subject != domain.SubjectTypeService || claims.Username != "crm" {
		t.Fatalf("claims = %+v", claims)
	}
	for _, creds := range [][2]string{{"crm", "wrong"}, {"other", "crm-pass"}} {
		if _, err := svc.LoginService(ctx, creds[0], creds[1]); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("LoginService(%v) err = %v", creds, err)
		}
	}

	unset := NewAuthService(config.AuthConfig{}, tokens, auth.NewVerifier("", 0, nil))
	if _, err := unset.LoginService(ctx, "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unset service account err = %v", err)
	}
}
