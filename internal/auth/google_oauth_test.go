package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

const (
	testClientID = "test-client-id"
	testIssuer   = "https://accounts.google.com"
)

// signIDToken はテスト用RSA鍵でid_tokenを署名する。
func signIDToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign id_token: %v", err)
	}
	return signed
}

func validIDTokenClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":            testIssuer,
		"aud":            testClientID,
		"sub":            "google-sub-1",
		"email":          "alice@example.com",
		"email_verified": true,
		"name":           "Alice",
		"picture":        "https://example.com/alice.png",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	}
}

// newTokenServer はトークンエンドポイントを模したサーバーを返す。
func newTokenServer(t *testing.T, body map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		if r.Form.Get("code") != "auth-code" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}))
}

func newTestProvider(t *testing.T, key *rsa.PrivateKey, tokenURL, userInfoURL string) *GoogleOAuthProvider {
	t.Helper()
	return NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:     testClientID,
		ClientSecret: "test-secret",
		RedirectURL:  "http://localhost:8080/auth/google/callback",
		TokenURL:     tokenURL,
		UserInfoURL:  userInfoURL,
		Issuer:       testIssuer,
		KeySet:       &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}},
	})
}

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return key
}

func TestGoogleOAuthProvider_GetLoginURL_ContainsRequiredParams(t *testing.T) {
	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:    testClientID,
		RedirectURL: "http://localhost:8080/auth/google/callback",
		KeySet:      &oidc.StaticKeySet{},
	})

	raw := provider.GetLoginURL("test-state-value")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid URL: %v", err)
	}
	if u.Host != "accounts.google.com" {
		t.Errorf("host = %q, want accounts.google.com", u.Host)
	}

	q := u.Query()
	tests := []struct {
		param string
		want  string
	}{
		{"client_id", testClientID},
		{"redirect_uri", "http://localhost:8080/auth/google/callback"},
		{"state", "test-state-value"},
		{"response_type", "code"},
		{"scope", "openid email profile"},
	}
	for _, tt := range tests {
		t.Run(tt.param, func(t *testing.T) {
			if got := q.Get(tt.param); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.param, got, tt.want)
			}
		})
	}
}

func TestGoogleOAuthProvider_ExchangeCode_VerifiedIDToken(t *testing.T) {
	key := generateKey(t)
	tokenServer := newTokenServer(t, map[string]any{
		"access_token": "test-access-token",
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     signIDToken(t, key, validIDTokenClaims()),
	})
	defer tokenServer.Close()

	provider := newTestProvider(t, key, tokenServer.URL, "http://invalid.invalid/userinfo")
	info, err := provider.ExchangeCode(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if info.ProviderUserID != "google-sub-1" {
		t.Errorf("ProviderUserID = %q", info.ProviderUserID)
	}
	if info.Email != "alice@example.com" || info.Name != "Alice" {
		t.Errorf("unexpected profile: %+v", info)
	}
	if info.AvatarURL != "https://example.com/alice.png" {
		t.Errorf("AvatarURL = %q", info.AvatarURL)
	}
	if info.Provider != "google" {
		t.Errorf("Provider = %q, want google", info.Provider)
	}
}

func TestGoogleOAuthProvider_ExchangeCode_RejectsBadIDToken(t *testing.T) {
	key := generateKey(t)
	otherKey := generateKey(t)

	tests := []struct {
		name  string
		token func() string
	}{
		{"別の鍵で署名", func() string { return signIDToken(t, otherKey, validIDTokenClaims()) }},
		{"audience不一致", func() string {
			c := validIDTokenClaims()
			c["aud"] = "someone-else"
			return signIDToken(t, key, c)
		}},
		{"発行者不一致", func() string {
			c := validIDTokenClaims()
			c["iss"] = "https://evil.example.com"
			return signIDToken(t, key, c)
		}},
		{"期限切れ", func() string {
			c := validIDTokenClaims()
			c["exp"] = time.Now().Add(-time.Hour).Unix()
			return signIDToken(t, key, c)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokenServer := newTokenServer(t, map[string]any{
				"access_token": "test-access-token",
				"token_type":   "Bearer",
				"id_token":     tt.token(),
			})
			defer tokenServer.Close()

			provider := newTestProvider(t, key, tokenServer.URL, "http://invalid.invalid/userinfo")
			if _, err := provider.ExchangeCode(context.Background(), "auth-code"); err == nil {
				t.Fatal("expected verification error")
			}
		})
	}
}

func TestGoogleOAuthProvider_ExchangeCode_MissingClaims(t *testing.T) {
	key := generateKey(t)

	for _, missing := range []string{"email", "name"} {
		t.Run(missing, func(t *testing.T) {
			c := validIDTokenClaims()
			delete(c, missing)
			tokenServer := newTokenServer(t, map[string]any{
				"access_token": "test-access-token",
				"token_type":   "Bearer",
				"id_token":     signIDToken(t, key, c),
			})
			defer tokenServer.Close()

			provider := newTestProvider(t, key, tokenServer.URL, "")
			_, err := provider.ExchangeCode(context.Background(), "auth-code")
			if !errors.Is(err, ErrMalformedProfile) {
				t.Errorf("err = %v, want ErrMalformedProfile", err)
			}
		})
	}
}

func TestGoogleOAuthProvider_ExchangeCode_UnverifiedEmail(t *testing.T) {
	key := generateKey(t)
	c := validIDTokenClaims()
	c["email_verified"] = false
	tokenServer := newTokenServer(t, map[string]any{
		"access_token": "test-access-token",
		"token_type":   "Bearer",
		"id_token":     signIDToken(t, key, c),
	})
	defer tokenServer.Close()

	provider := newTestProvider(t, key, tokenServer.URL, "")
	_, err := provider.ExchangeCode(context.Background(), "auth-code")
	if !errors.Is(err, ErrMalformedProfile) {
		t.Errorf("err = %v, want ErrMalformedProfile", err)
	}
}

// id_tokenがない場合はユーザー情報エンドポイントにフォールバックする
func TestGoogleOAuthProvider_ExchangeCode_UserInfoFallback(t *testing.T) {
	key := generateKey(t)
	tokenServer := newTokenServer(t, map[string]any{
		"access_token": "test-access-token",
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
	defer tokenServer.Close()

	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-access-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"sub":   "google-sub-2",
			"email": "bob@example.com",
			"name":  "Bob",
		})
	}))
	defer userInfoServer.Close()

	provider := newTestProvider(t, key, tokenServer.URL, userInfoServer.URL)
	info, err := provider.ExchangeCode(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.ProviderUserID != "google-sub-2" || info.Email != "bob@example.com" || info.Name != "Bob" {
		t.Errorf("unexpected profile: %+v", info)
	}
}

func TestGoogleOAuthProvider_ExchangeCode_TokenError(t *testing.T) {
	key := generateKey(t)
	tokenServer := newTokenServer(t, map[string]any{})
	defer tokenServer.Close()

	provider := newTestProvider(t, key, tokenServer.URL, "")
	_, err := provider.ExchangeCode(context.Background(), "wrong-code")
	if err == nil {
		t.Fatal("expected error for rejected code")
	}
	if !strings.Contains(err.Error(), "failed to exchange token") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGoogleOAuthProvider_ExchangeCode_UserInfoError(t *testing.T) {
	key := generateKey(t)
	tokenServer := newTokenServer(t, map[string]any{
		"access_token": "test-access-token",
		"token_type":   "Bearer",
	})
	defer tokenServer.Close()

	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer userInfoServer.Close()

	provider := newTestProvider(t, key, tokenServer.URL, userInfoServer.URL)
	if _, err := provider.ExchangeCode(context.Background(), "auth-code"); err == nil {
		t.Fatal("expected error for user info failure")
	}
}
