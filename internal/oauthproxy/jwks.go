package oauthproxy

import (
	"encoding/json"
	"net/http"

	jose "github.com/go-jose/go-jose/v4"
)

func (p *Provider) handleJWKS(w http.ResponseWriter, r *http.Request) {
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: &p.key.PublicKey, KeyID: p.kid, Algorithm: "RS256", Use: "sig"},
	}}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_ = json.NewEncoder(w).Encode(set)
}

// serverMetadata is the RFC 8414 authorization server metadata document.
type serverMetadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	JWKSURI                       string   `json:"jwks_uri"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	GrantTypesSupported           []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	TokenEndpointAuthMethods      []string `json:"token_endpoint_auth_methods_supported"`
}

func (p *Provider) handleMetadata(w http.ResponseWriter, r *http.Request) {
	meta := serverMetadata{
		Issuer:                        p.issuer,
		AuthorizationEndpoint:         p.issuer + authorizePath,
		TokenEndpoint:                 p.issuer + tokenPath,
		JWKSURI:                       p.issuer + jwksPath,
		ResponseTypesSupported:        []string{"code"},
		GrantTypesSupported:           []string{"authorization_code"},
		CodeChallengeMethodsSupported: []string{"S256", "plain"},
		ScopesSupported:               p.cfg.RequiredScopes,
		TokenEndpointAuthMethods:      []string{"none"},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(meta)
}
