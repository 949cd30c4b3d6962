// Package setup builds the provider registry once at process start.
package setup

import (
	"context"
	"net/http"

	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra/credentials"
	"github.com/CanSsever/qoder-deneme-sub000/internal/providers"
	"github.com/CanSsever/qoder-deneme-sub000/internal/providers/comfyui"
	"github.com/CanSsever/qoder-deneme-sub000/internal/providers/mock"
	"github.com/CanSsever/qoder-deneme-sub000/internal/providers/replicate"
	"github.com/CanSsever/qoder-deneme-sub000/internal/providers/runpod"
)

// SecretResolver looks up a provider secret, preferring the configured value.
type SecretResolver interface {
	Resolve(ctx context.Context, provider, configured string) (string, error)
}

// Registry registers every variant and selects cfg.Provider as the default.
// An unknown PROVIDER is not fatal here: jobs resolving it fail with a
// configuration error. secrets may be nil.
func Registry(ctx context.Context, cfg *infra.Config, secrets SecretResolver, logger *infra.Logger) *providers.Registry {
	logger = infra.LoggerOrNop(logger)
	if secrets == nil {
		secrets = (*credentials.Store)(nil)
	}
	httpClient := &http.Client{Timeout: cfg.ProviderRequestTimeout}

	runpodKey, err := secrets.Resolve(ctx, credentials.ProviderRunPod, cfg.RunPodAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("providers: runpod key lookup failed")
	}
	replicateToken, err := secrets.Resolve(ctx, credentials.ProviderReplicate, cfg.ReplicateAPIToken)
	if err != nil {
		logger.Warn().Err(err).Msg("providers: replicate token lookup failed")
	}

	reg := providers.NewRegistry(cfg.Provider)
	reg.Register(mock.New(mock.Options{Logger: logger}))
	reg.Register(comfyui.NewClient(comfyui.Options{
		BaseURL:    cfg.ComfyUIBaseURL,
		HTTPClient: httpClient,
		Logger:     logger,
	}))
	reg.Register(runpod.NewClient(runpod.Options{
		APIKey:     runpodKey,
		EndpointID: cfg.RunPodEndpointID,
		BaseURL:    cfg.RunPodBaseURL,
		HTTPClient: httpClient,
		Logger:     logger,
	}))
	reg.Register(replicate.NewClient(replicate.Options{
		APIToken:     replicateToken,
		ModelVersion: cfg.ReplicateModelVersion,
		BaseURL:      cfg.ReplicateBaseURL,
		HTTPClient:   httpClient,
		Logger:       logger,
	}))

	if _, err := reg.Resolve(""); err != nil {
		logger.Error().Str("provider", cfg.Provider).Strs("available", reg.Names()).Msg("providers: configured provider is not registered")
	} else {
		logger.Info().Str("provider", reg.Default()).Msg("providers: registry ready")
	}
	return reg
}
