package objectstore

import "testing"

func TestConfigFromEnvRequiresBucket(t *testing.T) {
	t.Setenv("S3_BUCKET", "")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error without bucket")
	}
}

func TestConfigFromEnvDefaultsEndpointFromRegion(t *testing.T) {
	t.Setenv("S3_BUCKET", "user-data")
	t.Setenv("S3_REGION", "eu-central-1")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Endpoint != "s3.eu-central-1.amazonaws.com" {
		t.Fatalf("Endpoint=%q", cfg.Endpoint)
	}
}

func TestValidateRejectsSchemeInEndpoint(t *testing.T) {
	cfg := Config{Endpoint: "https://s3.amazonaws.com", Region: "r", Bucket: "b"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateRejectsLoneAccessKey(t *testing.T) {
	cfg := Config{Endpoint: "localhost:9000", Region: "r", Bucket: "b", AccessKey: "ak"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error")
	}
}
