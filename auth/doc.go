// Package auth provides the bearer token authentication primitives used by
// the streamable HTTP transport. It supports two verification paths that can
// be layered behind a single Authenticator:
//
//   - Opaque token verification against a provider's tokeninfo endpoint
//     (Google's https://oauth2.googleapis.com/tokeninfo convention), for
//     clients that obtained an access token directly from the provider.
//   - Signed token verification via a Provider, either the built-in OAuth
//     proxy that mints its own JWTs, or an external issuer validated through
//     OIDC discovery.
//
// The public surface stays small: a TokenVerifier validates a bearer token
// string and returns a Principal (or an error wrapping ErrUnauthorized). The
// transport extracts the token from the HTTP request and maps sentinel
// errors into WWW-Authenticate challenges.
//
// # Dual-path verification
//
// NewBearerAuthenticator composes an opaque verifier with a Provider. The
// opaque path is consulted first; any failure there falls through to the
// signed path silently. Callers never learn which path rejected a token or
// why, only that verification failed:
//
//	verifier, err := auth.NewGoogleVerifier(clientID, auth.WithRequiredScopes("openid", "email"))
//	if err != nil { log.Fatal(err) }
//	authn := auth.NewBearerAuthenticator(verifier, provider)
//
//	principal, err := authn.VerifyToken(r.Context(), bearerToken)
//	if errors.Is(err, auth.ErrUnauthorized) { /* map to 401 challenge */ }
//
// # Errors
//
// ErrUnauthorized signals the token was rejected. The cause (transport
// failure, claim mismatch, missing scope, malformed response) is logged at
// debug level and never surfaced to the caller, so the error cannot be used
// as an oracle to probe the verification pipeline. ErrInsufficientScope is
// reserved for signed-path verifiers that authenticate the caller but find
// required scopes missing; transports map it to 403.
package auth
