// Package auth guards the gateway's admin HTTP endpoints with JWT bearer tokens.
//
// # Tokens
//
// Tokens are signed with HS256 using the configured auth.jwt_secret and carry
// a subject, issued-at, and expiry:
//
//	verifier := auth.NewJWTVerifier([]byte(secret))
//	token, err := verifier.Generate("admin", 30*24*time.Hour)
//	subject, err := verifier.Verify(token)
//
// The `herald-gateway token` subcommand uses Generate to mint operator tokens.
//
// # HTTP Middleware
//
// Middleware wraps admin handlers, rejects missing or invalid bearer tokens
// with a 401 JSON error, and places the verified subject in the request
// context:
//
//	mux.Handle("/admin/", auth.Middleware(verifier)(adminMux))
//	subject := auth.SubjectFromContext(r.Context())
//
// The Telegram webhook does not use this package; Telegram authenticates via
// the X-Telegram-Bot-Api-Secret-Token header checked by the bot client.
package auth
