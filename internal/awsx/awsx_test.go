package awsx

import (
	"net/http"
	"path/filepath"
	"testing"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func isolateAWSEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("AWS_REGION", "")
	t.Setenv("AWS_DEFAULT_REGION", "")
	t.Setenv("AWS_PROFILE", "")
}

func TestLoadConfig_Region(t *testing.T) {
	isolateAWSEnv(t)

	cfg, err := LoadConfig(t.Context(), Options{Region: "us-east-2"})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Region != "us-east-2" {
		t.Fatalf("Region = %q, want us-east-2", cfg.Region)
	}
	hc, ok := cfg.HTTPClient.(*http.Client)
	if !ok {
		t.Fatalf("HTTPClient = %T, want *http.Client", cfg.HTTPClient)
	}
	if _, ok := hc.Transport.(*otelhttp.Transport); !ok {
		t.Fatalf("Transport = %T, want otelhttp transport", hc.Transport)
	}
}

func TestLoadConfig_EnvRegion(t *testing.T) {
	isolateAWSEnv(t)
	t.Setenv("AWS_REGION", "eu-west-1")

	cfg, err := LoadConfig(t.Context(), Options{})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Region != "eu-west-1" {
		t.Fatalf("Region = %q, want eu-west-1", cfg.Region)
	}
}

func TestLoadConfig_MaxAttempts(t *testing.T) {
	isolateAWSEnv(t)

	cfg, err := LoadConfig(t.Context(), Options{Region: "us-east-2", MaxAttempts: 7})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RetryMaxAttempts != 7 {
		t.Fatalf("RetryMaxAttempts = %d, want 7", cfg.RetryMaxAttempts)
	}
}
