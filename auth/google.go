package auth

// GoogleTokeninfoURL is Google's public token introspection endpoint.
const GoogleTokeninfoURL = "https://oauth2.googleapis.com/tokeninfo"

// GoogleScopeAliases maps the OIDC short scope names to the full Google
// scope URIs tokeninfo reports for them.
var GoogleScopeAliases = map[string][]string{
	"email":   {"https://www.googleapis.com/auth/userinfo.email"},
	"profile": {"https://www.googleapis.com/auth/userinfo.profile"},
}

// NewGoogleVerifier returns an opaque token verifier preconfigured for
// Google-issued access tokens: the public tokeninfo endpoint and the scope
// aliases Google uses for the OIDC email and profile scopes. Additional
// options are applied on top and may override the preset.
func NewGoogleVerifier(clientID string, opts ...OpaqueVerifierOption) (TokenVerifier, error) {
	preset := []OpaqueVerifierOption{WithScopeAliases(GoogleScopeAliases)}
	return NewOpaqueVerifier(GoogleTokeninfoURL, clientID, append(preset, opts...)...)
}
