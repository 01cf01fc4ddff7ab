package auth

import (
	"context"
	"sync"
)

// CredentialSource yields the session credential visible to a call site.
type CredentialSource interface {
	Credential(ctx context.Context) (string, bool)
}

type credentialKey struct{}

// WithCredential returns a copy of ctx carrying credential.
func WithCredential(ctx context.Context, credential string) context.Context {
	return context.WithValue(ctx, credentialKey{}, credential)
}

// CredentialFrom returns the credential stored in ctx, if any.
func CredentialFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(credentialKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ContextSource reads the credential from the call's context.
type ContextSource struct{}

// Credential implements CredentialSource.
func (ContextSource) Credential(ctx context.Context) (string, bool) {
	return CredentialFrom(ctx)
}

// MemoryStore is a process-wide credential slot written on login and cleared
// on logout. Reads may race with Clear; a read after Clear sees nothing.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

// Set replaces the stored credential.
func (s *MemoryStore) Set(credential string) {
	s.mu.Lock()
	s.token = credential
	s.mu.Unlock()
}

// Clear removes the stored credential.
func (s *MemoryStore) Clear() {
	s.Set("")
}

// Credential implements CredentialSource. A credential attached to ctx wins
// over the stored one.
func (s *MemoryStore) Credential(ctx context.Context) (string, bool) {
	if tok, ok := CredentialFrom(ctx); ok {
		return tok, true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}
