package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/scicloud-labs/jobgate/internal/platform/env"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

func ConfigFromEnv() (Config, error) {
	return ConfigForBucket(env.String("S3_BUCKET", ""))
}

// ConfigForBucket reads the connection settings from the environment but
// targets an explicit bucket, for locations outside the user-data bucket.
func ConfigForBucket(bucket string) (Config, error) {
	region := env.String("S3_REGION", "eu-central-1")
	useSSL, err := env.Bool("S3_USE_SSL", true)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("S3_ENDPOINT", fmt.Sprintf("s3.%s.amazonaws.com", region)),
		AccessKey: env.String("S3_ACCESS_KEY", ""),
		SecretKey: env.String("S3_SECRET_KEY", ""),
		Region:    region,
		UseSSL:    useSSL,
		Bucket:    bucket,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	// access and secret key travel together; both empty means instance credentials
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return errors.New("access key and secret key must be set together")
	}
	return nil
}
