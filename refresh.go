package authsession

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/oidckit/authsession/instrumentation"
	"github.com/oidckit/authsession/token"
)

// maxTokenResponseBytes bounds how much of a token-endpoint response body
// is read.
const maxTokenResponseBytes = 1 << 20

// refresh runs a refresh cycle, coalescing concurrent callers into one
// network cycle through the single-flight group.
func (m *Manager) refresh(ctx context.Context) error {
	_, err, _ := m.refreshGroup.Do("refresh", func() (any, error) {
		return nil, m.refreshCycle(ctx)
	})
	return err
}

// refreshCycle performs one refresh_token grant per non-empty scope set,
// rotating the refresh token forward between iterations, and commits the
// collected tokens as a wholesale record replacement. Any per-set failure
// aborts the cycle and leaves the prior record untouched.
func (m *Manager) refreshCycle(ctx context.Context) error {
	started := time.Now()
	ctx, span := m.tracer.Start(ctx, "authsession.refresh")
	defer span.End()
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrProviderID, m.cfg.ProviderID),
	)

	m.mu.RLock()
	prior := m.record.Clone()
	m.mu.RUnlock()
	if !prior.Authenticated() {
		return ErrNotAuthenticated
	}

	// Double-checked staleness: a caller that queued up behind a completed
	// flight finds fresh tokens and skips the network cycle.
	if !m.accessTokensStale() && !m.identityTokenStale() {
		return nil
	}

	doc, err := m.configuration(ctx)
	if err != nil {
		instrumentation.RecordSpanError(span, err)
		m.metrics.RecordRefreshCycle(ctx, m.cfg.ProviderID, started, err)
		return err
	}
	endpoint := m.tokenEndpoint(doc)

	refreshToken := prior.RefreshToken
	identityToken := prior.IdentityToken
	identityExpiry := prior.IdentityTokenExpiry
	next := &token.Record{
		SchemaVersion: token.SchemaVersion,
		AccessTokens:  make(map[string]token.AccessToken, len(m.sets)),
	}
	rotated := false
	failedSet := ""

	var cycleErr error
	for _, set := range m.sets {
		if strings.TrimSpace(set.Scopes) == "" {
			continue
		}

		resp, err := m.tokenRequest(ctx, endpoint, url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {m.cfg.ClientID},
			"refresh_token": {refreshToken},
			"scope":         {set.Scopes},
		})
		m.metrics.RecordTokenRequest(ctx, "refresh_token", err)
		if err != nil {
			cycleErr = NewRefreshFailedError(set.Name, err)
			failedSet = set.Name
			break
		}
		if m.hooks.TransformTokenResponse != nil {
			m.hooks.TransformTokenResponse(resp)
		}

		if resp.RefreshToken != "" {
			if resp.RefreshToken != refreshToken {
				rotated = true
			}
			refreshToken = resp.RefreshToken
		}
		if resp.IDToken != "" {
			expiry, err := token.ExtractExpiry(resp.IDToken)
			if err != nil {
				cycleErr = NewRefreshFailedError(set.Name, err)
				failedSet = set.Name
				break
			}
			identityToken = resp.IDToken
			identityExpiry = expiry
		}
		if resp.AccessToken != "" {
			next.AccessTokens[set.Name] = token.AccessToken{
				Token:     resp.AccessToken,
				ExpiresAt: m.expiryFromSeconds(resp.ExpiresIn),
			}
		}
	}

	if cycleErr == nil {
		next.RefreshToken = refreshToken
		next.IdentityToken = identityToken
		next.IdentityTokenExpiry = identityExpiry

		var claims *token.UserClaims
		if identityToken != "" {
			claims, err = token.ExtractUserInfo(identityToken)
			if err != nil {
				cycleErr = fmt.Errorf("refreshed identity token is unreadable: %w", err)
			}
		}
		if cycleErr == nil {
			cycleErr = m.commit(next, claims)
		}
	}

	m.metrics.RecordRefreshCycle(ctx, m.cfg.ProviderID, started, cycleErr)
	if cycleErr != nil {
		instrumentation.RecordSpanError(span, cycleErr)
		m.auditor.LogRefreshFailure(m.subject(), m.cfg.ProviderID, failedSet, cycleErr.Error())
		m.logger.Warn("refresh cycle failed, keeping prior session record", "error", cycleErr)
		return cycleErr
	}

	instrumentation.SetSpanAttributes(span,
		attribute.Bool(instrumentation.AttrTokenRotated, rotated),
	)
	m.auditor.LogRefresh(m.subject(), m.cfg.ProviderID, rotated)
	m.logger.Debug("refresh cycle complete",
		"scope_sets", len(next.AccessTokens),
		"rotated", rotated,
	)
	m.emitter.emit(EventTokensChanged)
	return nil
}

// tokenRequest POSTs a form to the token endpoint and decodes the
// response. The refresh grant is issued by hand because it must carry a
// per-request scope parameter, which oauth2.TokenSource cannot express.
func (m *Manager) tokenRequest(ctx context.Context, endpoint string, form url.Values) (*TokenResponse, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("token request rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	httpResp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxTokenResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, tokenEndpointError(httpResp.StatusCode, body)
	}

	var resp TokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	return &resp, nil
}

// tokenEndpointError surfaces the OAuth error code and description from a
// non-2xx token response when the body carries them.
func tokenEndpointError(status int, body []byte) error {
	var oauthErr struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &oauthErr); err == nil && oauthErr.Error != "" {
		if oauthErr.Description != "" {
			return fmt.Errorf("token endpoint returned %d: %s (%s)", status, oauthErr.Error, oauthErr.Description)
		}
		return fmt.Errorf("token endpoint returned %d: %s", status, oauthErr.Error)
	}
	return fmt.Errorf("token endpoint returned %d", status)
}
