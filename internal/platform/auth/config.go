package auth

import (
	"fmt"
	"strings"

	"github.com/scicloud-labs/jobgate/internal/platform/env"
	"github.com/scicloud-labs/jobgate/internal/platform/secrets"
)

const (
	ModeCognito = "cognito"
	ModeDev     = "dev"
)

type Config struct {
	Mode string

	Region     string
	UserPoolID string
	ClientID   string

	// RequiredGroup must appear in the token's cognito:groups claim.
	RequiredGroup string

	// InternalAPIKey authorizes worker-facing callbacks via X-Api-Key.
	InternalAPIKey string

	// DevSigningKey signs locally issued tokens when Mode is dev.
	DevSigningKey string
}

func ConfigFromEnv() Config {
	return Config{
		Mode:           env.String("AUTH_MODE", ModeCognito),
		Region:         env.String("COGNITO_REGION", ""),
		UserPoolID:     env.String("COGNITO_USER_POOL_ID", ""),
		ClientID:       env.String("COGNITO_CLIENT_ID", ""),
		RequiredGroup:  env.String("AUTH_REQUIRED_GROUP", "users"),
		InternalAPIKey: secrets.FromEnv("INTERNAL_API_KEY"),
		DevSigningKey:  secrets.FromEnv("DEV_SIGNING_KEY"),
	}
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeCognito:
		if strings.TrimSpace(c.Region) == "" {
			return fmt.Errorf("COGNITO_REGION is required")
		}
		if strings.TrimSpace(c.UserPoolID) == "" {
			return fmt.Errorf("COGNITO_USER_POOL_ID is required")
		}
		if strings.TrimSpace(c.ClientID) == "" {
			return fmt.Errorf("COGNITO_CLIENT_ID is required")
		}
	case ModeDev:
		if strings.TrimSpace(c.DevSigningKey) == "" {
			return fmt.Errorf("DEV_SIGNING_KEY is required in dev mode")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.Mode)
	}
	return nil
}

// IssuerURL is the Cognito user pool's OIDC issuer.
func (c Config) IssuerURL() string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", c.Region, c.UserPoolID)
}
