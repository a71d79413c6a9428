package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc"
	"golang.org/x/oauth2"

	"pipesync/internal/cache"
	"pipesync/internal/logging"
)

// ErrNoIDToken is returned when a token response carries no id_token.
var ErrNoIDToken = errors.New("no id_token in token response")

// DevicePrompt shows the user where to approve a device login.
type DevicePrompt func(verificationURI, userCode string)

// OIDC resolves the identity from an ID token kept in the local cache and
// signs users in with the OAuth2 device authorization flow.
type OIDC struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	kv           cache.KV
	logger       *logging.Logger
}

// NewOIDC discovers the provider at issuer and prepares an ID token
// verifier for clientID.
func NewOIDC(ctx context.Context, issuer, clientID string, kv cache.KV, logger *logging.Logger) (*OIDC, error) {
	if issuer == "" || clientID == "" {
		return nil, errors.New("auth configuration is incomplete")
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover provider: %w", err)
	}

	var discovery struct {
		DeviceAuthURL string `json:"device_authorization_endpoint"`
	}
	if err := provider.Claims(&discovery); err != nil {
		return nil, fmt.Errorf("failed to read provider metadata: %w", err)
	}
	endpoint := provider.Endpoint()
	endpoint.DeviceAuthURL = discovery.DeviceAuthURL

	return newOIDC(
		&oauth2.Config{ClientID: clientID, Endpoint: endpoint, Scopes: AllScopes},
		provider.Verifier(&oidc.Config{ClientID: clientID}),
		kv, logger,
	), nil
}

func newOIDC(cfg *oauth2.Config, verifier *oidc.IDTokenVerifier, kv cache.KV, logger *logging.Logger) *OIDC {
	if logger == nil {
		logger = logging.Discard()
	}
	return &OIDC{oauth2Config: cfg, verifier: verifier, kv: kv, logger: logger.With("component", "auth")}
}

// Identity returns the signed-in user, or a guest when no valid token is
// cached. An expired or otherwise invalid token is not an error.
func (a *OIDC) Identity(ctx context.Context) (Identity, error) {
	raw, ok, err := a.kv.Get(cache.KeyIDToken)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to read id token: %w", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return Identity{Guest: true}, nil
	}
	id, err := a.verify(ctx, raw)
	if err != nil {
		a.logger.Info("cached id token rejected, continuing as guest", "error", err)
		return Identity{Guest: true}, nil
	}
	return id, nil
}

func (a *OIDC) verify(ctx context.Context, raw string) (Identity, error) {
	token, err := a.verifier.Verify(ctx, raw)
	if err != nil {
		return Identity{}, err
	}
	if token.Subject == "" {
		return Identity{}, errors.New("id token has no subject")
	}
	return Identity{UserID: token.Subject}, nil
}

// Login runs the device authorization flow, verifies the returned ID token
// and caches it.
func (a *OIDC) Login(ctx context.Context, prompt DevicePrompt) (Identity, error) {
	resp, err := a.oauth2Config.DeviceAuth(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("device authorization failed: %w", err)
	}
	uri := resp.VerificationURIComplete
	if uri == "" {
		uri = resp.VerificationURI
	}
	if prompt != nil {
		prompt(uri, resp.UserCode)
	}

	token, err := a.oauth2Config.DeviceAccessToken(ctx, resp)
	if err != nil {
		return Identity{}, fmt.Errorf("device token exchange failed: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Identity{}, ErrNoIDToken
	}
	id, err := a.verify(ctx, rawIDToken)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to verify id token: %w", err)
	}
	if err := a.kv.Set(cache.KeyIDToken, rawIDToken); err != nil {
		return Identity{}, fmt.Errorf("failed to store id token: %w", err)
	}
	a.logger.Info("signed in", "user_id", id.UserID)
	return id, nil
}

// Logout forgets the cached token.
func (a *OIDC) Logout() error {
	return a.kv.Remove(cache.KeyIDToken)
}
