// Package credentials keeps third-party API keys in the integration_tokens
// table so they can be rotated without redeploying.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"studio/internal/infra"
	"studio/internal/sqlinline"
)

const (
	ProviderGeneration = "generation"
)

// ErrEmptyToken is returned when storing a blank key.
var ErrEmptyToken = errors.New("credentials: token is required")

type Store struct {
	sql infra.SQLExecutor
	now func() time.Time
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql, now: time.Now}
}

// GenerationAPIKey returns the stored generation service key, or "" if none.
func (s *Store) GenerationAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderGeneration)
}

// SetGenerationAPIKey stores key, recording where it came from.
func (s *Store) SetGenerationAPIKey(ctx context.Context, key, source string) error {
	props := map[string]any{"rotated_at": s.now().UTC().Format(time.RFC3339)}
	if source = strings.TrimSpace(source); source != "" {
		props["source"] = source
	}
	return s.Put(ctx, ProviderGeneration, key, props)
}

func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	var token string
	if err := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider).Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("credentials: load %s token: %w", provider, err)
	}
	return strings.TrimSpace(token), nil
}

// ResolveGenerationAPIKey prefers the configured key and falls back to the store.
func (s *Store) ResolveGenerationAPIKey(ctx context.Context, configured string) (string, error) {
	if key := strings.TrimSpace(configured); key != "" {
		return key, nil
	}
	return s.GenerationAPIKey(ctx)
}

func (s *Store) Put(ctx context.Context, provider, token string, props map[string]any) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	if props == nil {
		props = map[string]any{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return err
	}
	if _, err := s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw); err != nil {
		return fmt.Errorf("credentials: store %s token: %w", provider, err)
	}
	return nil
}
