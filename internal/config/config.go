// Package config provides configuration loading from environment variables.
package config

import (
	"strings"
	"time"
)

// ServiceConfig holds configuration for the proxy service.
// It is built once in main and handed to the components that need it.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	RoutePrefix       string        // Prefix for the public routes (e.g. "/api")
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)

	Sandbox     SandboxConfig
	Maintenance MaintenanceConfig
	Lock        LockConfig
}

// SandboxConfig describes the sandbox every submission starts.
type SandboxConfig struct {
	Image     string   // CONTAINER_IMAGE, without tag
	Tag       string   // DOCKER_TAG
	CPU       float64  // cores
	MemoryGB  float64  // gigabytes
	ShareRoot string   // host directory of the file share
	MountPath string   // where the share appears inside the sandbox
	Command   []string // launch command; the input file name is appended
	Platform  string   // optional Docker platform, e.g. linux/amd64
	Group     string   // RESOURCE_GROUP label scoping managed sandboxes
}

// ImageRef returns the image reference with its tag.
func (c SandboxConfig) ImageRef() string {
	return c.Image + ":" + c.Tag
}

// MaintenanceConfig controls the background sweep of leaked sandboxes.
type MaintenanceConfig struct {
	AutoDelete bool   // AUTO_DELETE_COMPLETED_CONTAINERS
	Schedule   string // cron expression
}

// LockConfig selects the collection lock backend. An empty RedisAddr selects the
// in-process lock.
type LockConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// LoadServiceConfig loads service configuration from environment variables.
// Returns an error naming every required variable that is absent or malformed.
func LoadServiceConfig() (*ServiceConfig, error) {
	req := &required{}

	sandbox := SandboxConfig{
		Image:     req.str("CONTAINER_IMAGE"),
		Tag:       GetEnv("DOCKER_TAG", "latest"),
		CPU:       req.float("CONTAINER_CPU"),
		MemoryGB:  req.float("CONTAINER_MEMORY"),
		ShareRoot: req.str("SHARE_ROOT"),
		MountPath: GetEnv("SHARE_MOUNT_PATH", "/data"),
		Command:   strings.Fields(GetEnv("SANDBOX_COMMAND", "python3 docker_run.py")),
		Platform:  GetEnv("SANDBOX_PLATFORM", ""),
		Group:     req.str("RESOURCE_GROUP"),
	}
	if len(sandbox.Command) == 0 {
		req.invalid = append(req.invalid, "SANDBOX_COMMAND")
	}

	if err := req.err(); err != nil {
		return nil, err
	}

	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		RoutePrefix:       strings.TrimSuffix(GetEnv("ROUTE_PREFIX", ""), "/"),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		Sandbox:           sandbox,
		Maintenance: MaintenanceConfig{
			AutoDelete: GetBoolEnv("AUTO_DELETE_COMPLETED_CONTAINERS", false),
			Schedule:   GetEnv("DELETE_SCHEDULE", "*/30 * * * *"),
		},
		Lock: LockConfig{
			RedisAddr:     GetEnv("REDIS_ADDR", ""),
			RedisPassword: GetSecretFile(GetEnv("REDIS_PASSWORD_FILE", "")),
			RedisDB:       GetIntEnv("REDIS_DB", 0),
			TTL:           GetDurationEnv("LOCK_TTL", 2*time.Minute),
		},
	}, nil
}
