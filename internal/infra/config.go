package infra

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	StoragePath      string
	StorageBaseURL   string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	AllowedOrigins   []string
	CancelRateLimit  int

	Provider               string
	ProviderRequestTimeout time.Duration
	ComfyUIBaseURL         string
	RunPodAPIKey           string
	RunPodEndpointID       string
	RunPodBaseURL          string
	ReplicateAPIToken      string
	ReplicateModelVersion  string
	ReplicateBaseURL       string
	PipelineConfigPath     string

	PollMaxIterations int
	PollInterval      time.Duration
	JobRetryDelays    []time.Duration

	WebhookURL         string
	WebhookSecret      string
	WebhookTimeout     time.Duration
	WebhookRetryDelays []time.Duration

	ImageMaxBytes        int64
	ImageMinDimension    int
	ImageMaxDimension    int
	ImageMaxAspectRatio  float64
	ImageSourceAllowlist []string
	ImageFetchTimeout    time.Duration

	DispatchSource    string
	KafkaBrokers      []string
	KafkaTopic        string
	KafkaGroupID      string
	WorkerConcurrency int
	ClaimInterval     time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             port,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		StoragePath:      getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:   getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		AllowedOrigins:   getEnvList("HTTP_ALLOWED_ORIGINS", nil),
		CancelRateLimit:  getEnvInt("HTTP_CANCEL_RATE_LIMIT", 30),

		Provider:               strings.ToLower(getEnv("PROVIDER", "mock")),
		ProviderRequestTimeout: time.Second * time.Duration(getEnvInt("PROVIDER_REQUEST_TIMEOUT_SECONDS", 30)),
		ComfyUIBaseURL:         getEnv("COMFYUI_BASE_URL", "http://127.0.0.1:8188"),
		RunPodAPIKey:           os.Getenv("RUNPOD_API_KEY"),
		RunPodEndpointID:       os.Getenv("RUNPOD_ENDPOINT_ID"),
		RunPodBaseURL:          getEnv("RUNPOD_BASE_URL", "https://api.runpod.ai/v2"),
		ReplicateAPIToken:      os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateModelVersion:  os.Getenv("REPLICATE_MODEL_VERSION"),
		ReplicateBaseURL:       getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		PipelineConfigPath:     os.Getenv("PIPELINE_CONFIG_PATH"),

		PollMaxIterations: getEnvInt("POLL_MAX_ITERATIONS", 300),
		PollInterval:      getEnvDuration("POLL_INTERVAL", time.Second),
		JobRetryDelays:    getEnvDurations("JOB_RETRY_DELAYS", []time.Duration{15 * time.Second, 60 * time.Second}),

		WebhookURL:     strings.TrimSpace(os.Getenv("WEBHOOK_URL")),
		WebhookSecret:  os.Getenv("WEBHOOK_SECRET"),
		WebhookTimeout: getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		WebhookRetryDelays: getEnvDurations("WEBHOOK_RETRY_DELAYS", []time.Duration{
			time.Minute, 5 * time.Minute, 30 * time.Minute, 2 * time.Hour,
		}),

		ImageMaxBytes:       int64(getEnvInt("IMAGE_MAX_BYTES", 20*1024*1024)),
		ImageMinDimension:   getEnvInt("IMAGE_MIN_DIMENSION", 64),
		ImageMaxDimension:   getEnvInt("IMAGE_MAX_DIMENSION", 8192),
		ImageMaxAspectRatio: getEnvFloat("IMAGE_MAX_ASPECT_RATIO", 5),
		ImageFetchTimeout:   getEnvDuration("IMAGE_FETCH_TIMEOUT", 20*time.Second),

		DispatchSource:    strings.ToLower(getEnv("DISPATCH_SOURCE", "postgres")),
		KafkaBrokers:      getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "image_jobs"),
		KafkaGroupID:      getEnv("KAFKA_GROUP_ID", "image-job-workers"),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		ClaimInterval:     getEnvDuration("CLAIM_INTERVAL", 2*time.Second),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.PollMaxIterations <= 0 {
		return nil, fmt.Errorf("POLL_MAX_ITERATIONS must be positive")
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 1
	}

	cfg.ImageSourceAllowlist = buildAllowlist(cfg.StorageBaseURL, getEnvList("IMAGE_SOURCE_HOST_ALLOWLIST", nil))

	return cfg, nil
}

// buildAllowlist always trusts the host serving our own outputs so cached
// artifacts can be re-validated.
func buildAllowlist(storageBaseURL string, explicit []string) []string {
	if len(explicit) == 0 {
		return nil
	}
	seen := map[string]struct{}{}
	if u, err := url.Parse(storageBaseURL); err == nil && u.Hostname() != "" {
		seen[strings.ToLower(u.Hostname())] = struct{}{}
	}
	for _, host := range explicit {
		host = strings.ToLower(strings.TrimSpace(host))
		if host != "" {
			seen[host] = struct{}{}
		}
	}
	hosts := make([]string, 0, len(seen))
	for host := range seen {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvDurations(key string, fallback []time.Duration) []time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []time.Duration
	for _, part := range strings.Split(v, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return fallback
		}
		out = append(out, d)
	}
	return out
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
