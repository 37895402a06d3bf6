package authsession

import (
	"context"
	"log/slog"
)

// RegisteredProvider pairs a provider id with its session manager for
// Selector registration.
type RegisteredProvider struct {
	ID      string
	Manager SessionManager
}

// Selector fronts several per-provider session managers with a single
// dispatch surface. Flow entry points (Login, HandleRedirect) take a
// provider id, falling back to the configured default; everything bound
// to a live session must be called on the authenticated manager itself,
// which Active locates.
type Selector struct {
	order     []string
	managers  map[string]SessionManager
	defaultID string
	logger    *slog.Logger
}

// NewSelector builds a selector over the given providers. Provider ids
// must be unique; defaultID, when non-empty, must name a registered
// provider.
func NewSelector(providers []RegisteredProvider, defaultID string, logger *slog.Logger) (*Selector, error) {
	if len(providers) == 0 {
		return nil, NewConfigError("at least one provider is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	managers := make(map[string]SessionManager, len(providers))
	order := make([]string, 0, len(providers))
	for _, p := range providers {
		if p.ID == "" {
			return nil, NewConfigError("provider id must not be empty")
		}
		if p.Manager == nil {
			return nil, NewConfigError("provider " + p.ID + " has no session manager")
		}
		if _, dup := managers[p.ID]; dup {
			return nil, NewDuplicateProviderError(p.ID)
		}
		managers[p.ID] = p.Manager
		order = append(order, p.ID)
	}

	if defaultID != "" {
		if _, ok := managers[defaultID]; !ok {
			return nil, NewUnknownProviderError(defaultID)
		}
	}

	return &Selector{
		order:     order,
		managers:  managers,
		defaultID: defaultID,
		logger:    logger,
	}, nil
}

// Login starts the login flow on the named provider. providerID "" uses
// the default provider.
func (s *Selector) Login(ctx context.Context, returnPath, providerID string) error {
	mgr, err := s.resolve(providerID)
	if err != nil {
		return err
	}
	return mgr.Login(ctx, returnPath)
}

// HandleRedirect completes the login flow on the named provider.
// providerID "" uses the default provider.
func (s *Selector) HandleRedirect(ctx context.Context, providerID string) error {
	mgr, err := s.resolve(providerID)
	if err != nil {
		return err
	}
	return mgr.HandleRedirect(ctx)
}

// AutoLogin tries each provider in registration order and reports
// whether any resumed a persisted session. Per-provider failures are
// logged and skipped.
func (s *Selector) AutoLogin(ctx context.Context) bool {
	for _, id := range s.order {
		if s.managers[id].AutoLogin(ctx) {
			s.logger.Debug("auto-login resumed session", "provider_id", id)
			return true
		}
	}
	return false
}

// Active returns the first authenticated provider in registration order.
func (s *Selector) Active() (string, SessionManager, bool) {
	for _, id := range s.order {
		if mgr := s.managers[id]; mgr.IsAuthenticated() {
			return id, mgr, true
		}
	}
	return "", nil, false
}

// IsAuthenticated on the selector is always false: authentication is a
// per-provider question, answered by the individual managers.
func (s *Selector) IsAuthenticated() bool { return false }

// Can on the selector is always false, for the same reason as
// IsAuthenticated.
func (s *Selector) Can(string) bool { return false }

// Logout requires an active provider; call it on the authenticated
// manager (see Active).
func (s *Selector) Logout(context.Context, string) error { return ErrNoActiveProvider }

// GetAccessToken requires an active provider; call it on the
// authenticated manager (see Active).
func (s *Selector) GetAccessToken(context.Context, string) (string, error) {
	return "", ErrNoActiveProvider
}

// GetIdentityToken requires an active provider; call it on the
// authenticated manager (see Active).
func (s *Selector) GetIdentityToken(context.Context) (string, error) {
	return "", ErrNoActiveProvider
}

// Provider returns the manager registered under id.
func (s *Selector) Provider(id string) (SessionManager, error) {
	mgr, ok := s.managers[id]
	if !ok {
		return nil, NewUnknownProviderError(id)
	}
	return mgr, nil
}

// ProviderIDs returns the registered provider ids in registration order.
func (s *Selector) ProviderIDs() []string {
	return append([]string(nil), s.order...)
}

func (s *Selector) resolve(providerID string) (SessionManager, error) {
	if providerID == "" {
		if s.defaultID == "" {
			return nil, &Error{
				Code:        ErrorCodeUnknownProvider,
				Description: "no provider id given and no default provider configured",
			}
		}
		providerID = s.defaultID
	}
	mgr, ok := s.managers[providerID]
	if !ok {
		return nil, NewUnknownProviderError(providerID)
	}
	return mgr, nil
}
