package ouroboros

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zoobzio/zyn"
)

// Provider is the language-model collaborator used by the reasoning
// primitives. It is method-compatible with zyn.Provider.
type Provider interface {
	Call(ctx context.Context, messages []zyn.Message, temperature float32) (*zyn.ProviderResponse, error)
	Name() string
}

type providerKey struct{}

var (
	globalProvider   Provider
	globalProviderMu sync.RWMutex
)

// ErrNoProvider is returned when no provider can be resolved.
var ErrNoProvider = errors.New("no provider configured: set explicitly, via context, or globally")

// SetProvider sets the global fallback provider.
func SetProvider(p Provider) {
	globalProviderMu.Lock()
	defer globalProviderMu.Unlock()
	globalProvider = p
}

// GetProvider returns the global provider, if set.
func GetProvider() Provider {
	globalProviderMu.RLock()
	defer globalProviderMu.RUnlock()
	return globalProvider
}

// WithProvider returns a context carrying p.
func WithProvider(ctx context.Context, p Provider) context.Context {
	return context.WithValue(ctx, providerKey{}, p)
}

// ProviderFromContext retrieves the provider from context, if present.
func ProviderFromContext(ctx context.Context) (Provider, bool) {
	p, ok := ctx.Value(providerKey{}).(Provider)
	return p, ok
}

// ResolveProvider picks a provider in order:
// 1. explicit (usually set on the primitive)
// 2. context
// 3. global
func ResolveProvider(ctx context.Context, explicit Provider) (Provider, error) {
	if explicit != nil {
		return explicit, nil
	}
	if p, ok := ProviderFromContext(ctx); ok {
		return p, nil
	}
	if p := GetProvider(); p != nil {
		return p, nil
	}
	return nil, ErrNoProvider
}

// fireTransform runs a zyn transform synapse with instruction against
// provider. Call failures are external-dependency failures.
func fireTransform(ctx context.Context, provider Provider, instruction string, input zyn.TransformInput) (string, error) {
	synapse, err := zyn.Transform(instruction, provider)
	if err != nil {
		return "", fmt.Errorf("failed to create transform synapse: %w", err)
	}
	out, err := synapse.FireWithInput(ctx, zyn.NewSession(), input)
	if err != nil {
		return "", External("transform", err)
	}
	return out, nil
}
