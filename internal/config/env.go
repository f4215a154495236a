package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnv returns the environment variable value or a default.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetIntEnv returns an integer environment variable or a default.
func GetIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// GetBoolEnv returns a boolean environment variable or a default.
// Accepts the forms understood by strconv.ParseBool.
func GetBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// GetDurationEnv returns a duration environment variable or a default.
func GetDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetSecretFile reads a secret from a file path.
// Works with Docker secrets (/run/secrets/) and K8s secrets (mounted volumes).
func GetSecretFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// required collects missing or malformed required variables so they can be
// reported together.
type required struct {
	missing []string
	invalid []string
}

func (r *required) str(key string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		r.missing = append(r.missing, key)
	}
	return value
}

func (r *required) float(key string) float64 {
	value := r.str(key)
	if value == "" {
		return 0
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f <= 0 {
		r.invalid = append(r.invalid, key)
		return 0
	}
	return f
}

func (r *required) err() error {
	var parts []string
	if len(r.missing) > 0 {
		parts = append(parts, "missing required environment variables: "+strings.Join(r.missing, ", "))
	}
	if len(r.invalid) > 0 {
		parts = append(parts, "invalid values for: "+strings.Join(r.invalid, ", "))
	}
	if len(parts) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}
