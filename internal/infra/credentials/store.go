package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
	"github.com/CanSsever/qoder-deneme-sub000/internal/sqlinline"
)

const (
	ProviderRunPod    = "runpod"
	ProviderReplicate = "replicate"
	ProviderWebhook   = "webhook"
)

// Store reads provider secrets kept in the integration_tokens table.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Resolve prefers the configured value and falls back to the stored token.
func (s *Store) Resolve(ctx context.Context, provider, configured string) (string, error) {
	if v := strings.TrimSpace(configured); v != "" {
		return v, nil
	}
	if s == nil || s.sql == nil {
		return "", nil
	}
	return s.Token(ctx, provider)
}

func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

func (s *Store) SetToken(ctx context.Context, provider, token string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	token = strings.TrimSpace(token)
	if provider == "" {
		return errors.New("provider is required")
	}
	if token == "" {
		return errors.New(provider + " token is required")
	}
	raw, err := json.Marshal(map[string]any{"rotated_at": time.Now().UTC().Format(time.RFC3339)})
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}
