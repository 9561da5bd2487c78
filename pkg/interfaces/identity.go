package interfaces

import "context"

// IdentityVerifier validates the opaque token supplied at connection
// admission and resolves it to a user ID
// ARCHITECTURAL DISCOVERY: Authentication policy lives outside this
// subsystem; the verifier is an injected external collaborator
type IdentityVerifier interface {
	// Verify returns the user ID bound to token, or an error when the token
	// is missing, malformed, or forged. An error means admission rejection.
	Verify(ctx context.Context, token string) (string, error)
}

// VerifierFunc adapts a plain function to the IdentityVerifier interface
type VerifierFunc func(ctx context.Context, token string) (string, error)

func (f VerifierFunc) Verify(ctx context.Context, token string) (string, error) {
	return f(ctx, token)
}
