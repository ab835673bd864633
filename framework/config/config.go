package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the central typed configuration struct.
// Embed or extend it in your app's own AppConfig.
type Config struct {
	App     AppConfig
	IoC     IoCConfig
	Log     LogConfig
	Metrics MetricsConfig
}

type AppConfig struct {
	Name string
	Env  string // local | production | testing
	Port string
}

// IoCConfig holds the container's behaviour switches.
type IoCConfig struct {
	// RegistrationBehavior is the conflict policy: skip | throw | replace | preserve.
	RegistrationBehavior string
	// LifetimeValidation rejects scoped services captured by longer-lived
	// ones and scoped services resolved from the root scope.
	LifetimeValidation bool
	// UniversalName is a registration name that matches every requested name.
	UniversalName string
	// NameAsDependency lets unnamed registrations answer named dependencies.
	NameAsDependency bool
	// UnknownTypeResolution builds unregistered concrete structs on demand.
	UnknownTypeResolution bool
	// CircularDependencyTracking turns on the constructor cycle barrier.
	CircularDependencyTracking bool
	// DefaultLifetime is used by registrations that declare none:
	// transient | scoped | singleton.
	DefaultLifetime string
}

type LogConfig struct {
	Level       string // debug | info | warn | error
	Development bool
}

type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// Default returns the configuration Load produces with an empty environment.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name: "GoIoC",
			Env:  "local",
			Port: "8000",
		},
		IoC: IoCConfig{
			RegistrationBehavior:       "skip",
			CircularDependencyTracking: true,
			DefaultLifetime:            "transient",
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Namespace: "ioc",
		},
	}
}

// Load reads .env (if present) and populates a Config from environment variables.
// Call once at bootstrap: cfg := config.Load()
func Load(envFiles ...string) *Config {
	files := envFiles
	if len(files) == 0 {
		files = []string{".env"}
	}
	// Non-fatal: .env may not exist in production
	_ = godotenv.Load(files...)

	d := Default()
	return &Config{
		App: AppConfig{
			Name: env("APP_NAME", d.App.Name),
			Env:  env("APP_ENV", d.App.Env),
			Port: env("APP_PORT", d.App.Port),
		},
		IoC: IoCConfig{
			RegistrationBehavior:       env("IOC_REGISTRATION_BEHAVIOR", d.IoC.RegistrationBehavior),
			LifetimeValidation:         envBool("IOC_LIFETIME_VALIDATION", d.IoC.LifetimeValidation),
			UniversalName:              env("IOC_UNIVERSAL_NAME", d.IoC.UniversalName),
			NameAsDependency:           envBool("IOC_NAME_AS_DEPENDENCY", d.IoC.NameAsDependency),
			UnknownTypeResolution:      envBool("IOC_UNKNOWN_TYPE_RESOLUTION", d.IoC.UnknownTypeResolution),
			CircularDependencyTracking: envBool("IOC_CIRCULAR_DEPENDENCY_TRACKING", d.IoC.CircularDependencyTracking),
			DefaultLifetime:            env("IOC_DEFAULT_LIFETIME", d.IoC.DefaultLifetime),
		},
		Log: LogConfig{
			Level:       env("LOG_LEVEL", d.Log.Level),
			Development: envBool("LOG_DEVELOPMENT", d.Log.Development),
		},
		Metrics: MetricsConfig{
			Enabled:   envBool("METRICS_ENABLED", d.Metrics.Enabled),
			Namespace: env("METRICS_NAMESPACE", d.Metrics.Namespace),
		},
	}
}

// Get returns a raw env value, falling back to defaultVal.
func Get(key, defaultVal string) string {
	return env(key, defaultVal)
}

// GetInt returns an int env value.
func GetInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// GetBool returns a bool env value.
func GetBool(key string, defaultVal bool) bool {
	return envBool(key, defaultVal)
}

// ── helpers ─────────────────────────────────────────────────────────────────

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
