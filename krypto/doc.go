// Package krypto provides the cryptographic helpers used to protect OAuth
// material at rest and to identify browser sessions.
//
// # Sealing
//
// A Sealer encrypts session images and token secrets before they reach a
// cache or database. Keys are derived from a configured secret with
// HKDF-SHA256:
//
//	sealer, err := krypto.NewSealer([]byte(os.Getenv("BEAVER_SEAL_SECRET")), "oauth-session")
//	sealed, err := sealer.Seal([]byte(`{"access_token":"..."}`))
//	plain, err := sealer.Open(sealed)
//
// # Identity Tokens
//
// IdentitySigner issues HS256 JWTs carrying an opaque identity. The web
// package stores them in a cookie so every browser gets its own OAuth
// sessions:
//
//	signer, err := krypto.NewIdentitySigner(key, "beaver-social", 30*24*time.Hour)
//	token, err := signer.Sign(uuid.NewString())
//	identity, err := signer.Verify(token)
//
// # Random Tokens
//
// GenerateSecureToken returns hex-encoded random bytes, used for OAuth state
// values.
package krypto
