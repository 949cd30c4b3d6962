package setup

import (
	"context"
	"testing"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
	"github.com/CanSsever/qoder-deneme-sub000/internal/providers/runpod"
)

type staticSecrets map[string]string

func (s staticSecrets) Resolve(_ context.Context, provider, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	return s[provider], nil
}

func TestRegistryDefaultsAndFallbackSecrets(t *testing.T) {
	cfg := &infra.Config{Provider: "runpod", RunPodEndpointID: "ep1"}
	reg := Registry(context.Background(), cfg, staticSecrets{"runpod": "stored-key"}, nil)

	want := []string{"comfyui", "mock", "replicate", "runpod"}
	got := reg.Names()
	if len(got) != len(want) {
		t.Fatalf("Names mismatch: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	p, err := reg.Resolve("")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	rp, ok := p.(*runpod.Client)
	if !ok || !rp.HasCredentials() {
		t.Fatalf("expected runpod client with stored credentials, got %T", p)
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	reg := Registry(context.Background(), &infra.Config{Provider: "dalle"}, nil, nil)
	if _, err := reg.Resolve(""); domain.KindOf(err) != domain.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
