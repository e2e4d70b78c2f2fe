// Package config loads the flat settings record that drives every
// process role, following the constructor/Validate/ApplyDefaults shape
// used elsewhere in this codebase for layered configuration: build
// defaults, overlay environment, validate once before use.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the complete environment-driven configuration surface.
// Every field except HTTPClientTimeout (set only by ApplyDefaults) is
// read from a documented env var by Load.
type Settings struct {
	AppComponent string
	APIPort      int

	DatabaseURL  string
	AMQPURL      string
	RedisURL     string
	BeatmapsPath string

	ProcessorWorkers int

	// Deploy-mode args, resolved env-first with an interactive stdin
	// fallback handled by the deploy package.
	DeployModes         []int
	DeployRelaxBits     []int
	DeployTotalPPOnly   bool
	DeployTotalPP       bool
	DeployModsFilter    *int32
	DeployNeqModsFilter *int32

	MassRecalcReworkID int32

	HTTPClientTimeout time.Duration
}

// ApplyDefaults fills in zero-value fields with the platform's defaults.
// Called once after Load, before Validate.
func (s *Settings) ApplyDefaults() {
	if s.APIPort == 0 {
		s.APIPort = 8080
	}
	if s.ProcessorWorkers == 0 {
		s.ProcessorWorkers = 1
	}
	if s.BeatmapsPath == "" {
		s.BeatmapsPath = "./beatmaps"
	}
	if s.HTTPClientTimeout == 0 {
		s.HTTPClientTimeout = 10 * time.Second
	}
}

// Validate rejects a Settings that is missing fields required by its
// selected AppComponent.
func (s *Settings) Validate() error {
	if s.AppComponent == "" {
		return fmt.Errorf("APP_COMPONENT is required")
	}
	if s.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch s.AppComponent {
	case "api":
		if s.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for app_component=api")
		}
		if s.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required for app_component=api")
		}
	case "processor":
		if s.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required for app_component=processor")
		}
		if s.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for app_component=processor")
		}
	case "mass_recalc", "individual_recalc":
		if s.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required for app_component=%s", s.AppComponent)
		}
		if s.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for app_component=%s", s.AppComponent)
		}
		if s.MassRecalcReworkID == 0 {
			return fmt.Errorf("MASS_RECALC_REWORK_ID is required for app_component=%s", s.AppComponent)
		}
	case "deploy":
		if s.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for app_component=deploy")
		}
	default:
		return fmt.Errorf("unknown APP_COMPONENT %q", s.AppComponent)
	}
	return nil
}

// fileSettings mirrors the subset of Settings an operator may check into
// a CONFIG_FILE yaml document: the component and the connection settings
// only. Environment variables always take precedence over it.
type fileSettings struct {
	AppComponent string `yaml:"app_component"`
	DatabaseURL  string `yaml:"database_url"`
	AMQPURL      string `yaml:"amqp_url"`
	RedisURL     string `yaml:"redis_url"`
	BeatmapsPath string `yaml:"beatmaps_path"`
}

// loadFile reads CONFIG_FILE, if set, into a fileSettings overlay. A
// missing or unset path is not an error; a malformed file is.
func loadFile() (fileSettings, error) {
	var fs fileSettings
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		return fs, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fs, fmt.Errorf("read CONFIG_FILE %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return fs, fmt.Errorf("parse CONFIG_FILE %q: %w", path, err)
	}
	return fs, nil
}

// Load reads Settings from CONFIG_FILE (if set) overlaid by the process
// environment. It does not apply defaults or validate; callers compose
// Load -> ApplyDefaults -> Validate so tests can exercise each stage
// independently.
func Load() *Settings {
	fs, err := loadFile()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	s := &Settings{
		AppComponent: firstNonEmpty(os.Getenv("APP_COMPONENT"), fs.AppComponent),
		DatabaseURL:  firstNonEmpty(os.Getenv("DATABASE_URL"), fs.DatabaseURL),
		AMQPURL:      firstNonEmpty(os.Getenv("AMQP_URL"), fs.AMQPURL),
		RedisURL:     firstNonEmpty(os.Getenv("REDIS_URL"), fs.RedisURL),
		BeatmapsPath: firstNonEmpty(os.Getenv("BEATMAPS_PATH"), fs.BeatmapsPath),
	}
	s.APIPort = atoiOrZero(os.Getenv("API_PORT"))
	s.ProcessorWorkers = atoiOrZero(os.Getenv("PROCESSOR_WORKERS"))
	s.DeployModes = intList(os.Getenv("DEPLOY_MODES"))
	s.DeployRelaxBits = intList(os.Getenv("DEPLOY_RELAX_BITS"))
	s.DeployTotalPPOnly = os.Getenv("DEPLOY_TOTAL_PP_ONLY") == "1"
	s.DeployTotalPP = os.Getenv("DEPLOY_TOTAL_PP") == "1"
	s.DeployModsFilter = int32Ptr(os.Getenv("DEPLOY_MODS_FILTER"))
	s.DeployNeqModsFilter = int32Ptr(os.Getenv("DEPLOY_NEQ_MODS_FILTER"))
	s.MassRecalcReworkID = int32(atoiOrZero(os.Getenv("MASS_RECALC_REWORK_ID")))
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func atoiOrZero(s string) int {
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}

func int32Ptr(s string) *int32 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return nil
	}
	v32 := int32(v)
	return &v32
}

func intList(s string) []int {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}
