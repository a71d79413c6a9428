package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"pipesync/internal/cache"
)

const (
	testIssuer   = "https://test-issuer.com"
	testClientID = "test-client"
)

// MockKeySet satisfies oidc.KeySet to bypass signature verification
type MockKeySet struct{}

func (m *MockKeySet) VerifySignature(ctx context.Context, jwtToken string) ([]byte, error) {
	parts := strings.Split(jwtToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed jwt")
	}
	return base64.RawURLEncoding.DecodeString(parts[1])
}

func fakeToken(t *testing.T, subject string, expires time.Time) string {
	t.Helper()
	claims := map[string]interface{}{
		"iss": testIssuer,
		"aud": testClientID,
		"sub": subject,
		"exp": expires.Unix(),
		"iat": time.Now().Add(-1 * time.Minute).Unix(),
	}
	headerBytes, err := json.Marshal(map[string]interface{}{"alg": "RS256", "typ": "JWT", "kid": "test-key"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(headerBytes) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("fakesignature"))
}

func testVerifier() *oidc.IDTokenVerifier {
	return oidc.NewVerifier(testIssuer, &MockKeySet{}, &oidc.Config{ClientID: testClientID})
}

func TestOIDC_Identity(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  Identity
	}{
		{"no token", "", Identity{Guest: true}},
		{"valid", fakeToken(t, "user-42", time.Now().Add(time.Hour)), Identity{UserID: "user-42"}},
		{"expired", fakeToken(t, "user-42", time.Now().Add(-time.Hour)), Identity{Guest: true}},
		{"garbage", "not-a-jwt", Identity{Guest: true}},
		{"no subject", fakeToken(t, "", time.Now().Add(time.Hour)), Identity{Guest: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := cache.NewMemoryKV()
			if tt.token != "" {
				require.NoError(t, kv.Set(cache.KeyIDToken, tt.token))
			}
			a := newOIDC(&oauth2.Config{}, testVerifier(), kv, nil)

			got, err := a.Identity(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.UserID != "", got.Authenticated())
		})
	}
}

func TestOIDC_LoginAndLogout(t *testing.T) {
	idToken := fakeToken(t, "user-7", time.Now().Add(time.Hour))

	mux := http.NewServeMux()
	mux.HandleFunc("/device", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, testClientID, r.Form.Get("client_id"))
		assert.Contains(t, r.Form.Get("scope"), ScopeOpenID)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"device_code":"dc-1","user_code":"WDJB-MJHT","verification_uri":"https://login.example/activate","expires_in":60,"interval":1}`))
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "dc-1", r.Form.Get("device_code"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "at-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	kv := cache.NewMemoryKV()
	a := newOIDC(&oauth2.Config{
		ClientID: testClientID,
		Scopes:   AllScopes,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: server.URL + "/device",
			TokenURL:      server.URL + "/token",
			AuthStyle:     oauth2.AuthStyleInParams,
		},
	}, testVerifier(), kv, nil)

	var promptedURI, promptedCode string
	id, err := a.Login(context.Background(), func(uri, code string) {
		promptedURI, promptedCode = uri, code
	})
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "user-7"}, id)
	assert.Equal(t, "https://login.example/activate", promptedURI)
	assert.Equal(t, "WDJB-MJHT", promptedCode)

	stored, ok, err := kv.Get(cache.KeyIDToken)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, idToken, stored)

	got, err := a.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-7", got.UserID)

	require.NoError(t, a.Logout())
	got, err = a.Identity(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Guest)
}

func TestOIDC_LoginWithoutIDToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/device", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"device_code":"dc-1","user_code":"X","verification_uri":"https://login.example/activate","expires_in":60,"interval":1}`))
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	kv := cache.NewMemoryKV()
	a := newOIDC(&oauth2.Config{
		ClientID: testClientID,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: server.URL + "/device",
			TokenURL:      server.URL + "/token",
			AuthStyle:     oauth2.AuthStyleInParams,
		},
	}, testVerifier(), kv, nil)

	_, err := a.Login(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoIDToken)
	_, ok, _ := kv.Get(cache.KeyIDToken)
	assert.False(t, ok)
}

func TestNewOIDC_IncompleteConfig(t *testing.T) {
	_, err := NewOIDC(context.Background(), "", testClientID, cache.NewMemoryKV(), nil)
	assert.Error(t, err)
}

func TestStatic(t *testing.T) {
	id, err := NewStatic("user-1", false).Identity(context.Background())
	require.NoError(t, err)
	assert.True(t, id.Authenticated())

	id, err = NewStatic("user-1", true).Identity(context.Background())
	require.NoError(t, err)
	assert.False(t, id.Authenticated())
}
