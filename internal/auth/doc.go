// Package auth provides bearer token handling for trident.
//
// # Server Side
//
// The development backend authenticates requests with HS256 JWTs signed
// with server.jwt_secret. HTTPAuthMiddleware verifies the Authorization
// header and stores the token subject on the request context:
//
//	verifier := auth.NewJWTVerifier([]byte(cfg.Server.JWTSecret))
//	handler = auth.HTTPAuthMiddleware(verifier)(handler)
//	...
//	userID := auth.UserFromContext(r.Context())
//
// Rejections use the {"detail": "..."} body shape the client decodes.
//
// # Client Side
//
// TokenSource supplies the token attached to outgoing requests, from the
// config (remote.token), or a token file re-read on every request. JWTs are
// checked for expiry locally without verifying the signature so a stale
// token fails fast with ErrExpiredToken; opaque tokens are passed through.
package auth
