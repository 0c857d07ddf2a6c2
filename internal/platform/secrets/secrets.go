// Package secrets unwraps values that may come from AWS Secrets Manager.
//
// Secrets Manager injects JSON documents of the form {"password": "..."}
// into environment variables; plain values pass through untouched.
package secrets

import (
	"encoding/json"
	"os"
)

// FromEnv reads key and, when the value is a Secrets Manager JSON document,
// returns its password field.
func FromEnv(key string) string {
	return Unwrap(os.Getenv(key))
}

func Unwrap(value string) string {
	if value == "" {
		return value
	}
	var doc struct {
		Password string `json:"password"`
	}
	if err := json.Unmarshal([]byte(value), &doc); err != nil {
		return value
	}
	if doc.Password == "" {
		return value
	}
	return doc.Password
}
