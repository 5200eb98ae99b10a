package server

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crystal-mush/mushscript/pkg/plugins"
)

// GameConf holds game-level configuration parameters, read from YAML.
type GameConf struct {
	// --- Identity ---
	MudName string `yaml:"mud_name"`

	// --- Listeners ---
	Port        int      `yaml:"port"`     // line-protocol TCP port, 0 disables
	GMCP        bool     `yaml:"gmcp"`     // offer GMCP to line-protocol clients
	WebHost     string   `yaml:"web_host"` // bind address (empty = all interfaces)
	WebPort     int      `yaml:"web_port"` // HTTP/WebSocket port, 0 disables
	CORSOrigins []string `yaml:"web_cors_origins"`
	RateLimit   int      `yaml:"web_rate_limit"` // requests per minute per player, or per IP before login

	// --- Storage ---
	BoltPath   string `yaml:"bolt_path"`
	ScriptDir  string `yaml:"script_dir"`  // watched for <entity>.<verb>.ms files
	HelpFile   string `yaml:"help_file"`   // extra "& topic" entries
	ArchiveDir string `yaml:"archive_dir"` // @archive output
	ConfPath   string `yaml:"-"`           // file this config was loaded from

	// --- World ---
	StartRoom      string `yaml:"start_room"`      // entity id new players start in
	WizardName     string `yaml:"wizard_name"`     // created on an empty world
	WizardPassword string `yaml:"wizard_password"` // random when empty

	// --- Scripts ---
	TickIntervalMS      int `yaml:"tick_interval_ms"`      // 0 disables the world tick
	InvocationTimeoutMS int `yaml:"invocation_timeout_ms"` // per invocation
	SlowInvocationMS    int `yaml:"slow_invocation_ms"`    // watchdog log threshold
	MaxDepth            int `yaml:"max_depth"`
	MaxSteps            int `yaml:"max_steps"`

	// --- Auth ---
	JWTSecret string `yaml:"jwt_secret"` // random per process when empty
	JWTExpiry int    `yaml:"jwt_expiry"` // seconds

	// --- Capabilities ---
	Plugins []string            `yaml:"plugins"` // empty loads every builtin plugin
	Grants  []plugins.GrantConf `yaml:"grants"`
}

// DefaultGameConf returns a GameConf with working defaults.
func DefaultGameConf() *GameConf {
	return &GameConf{
		MudName:             "mushscript",
		Port:                6250,
		WebPort:             8080,
		RateLimit:           120,
		BoltPath:            "data/world.bolt",
		ArchiveDir:          "data/archives",
		WizardName:          "Wizard",
		TickIntervalMS:      1000,
		InvocationTimeoutMS: 2000,
		SlowInvocationMS:    500,
		MaxDepth:            128,
		MaxSteps:            100000,
		JWTExpiry:           86400,
	}
}

// LoadGameConf loads a YAML config file over the defaults. Relative
// paths are resolved against the file's directory.
func LoadGameConf(path string) (*GameConf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	gc := DefaultGameConf()
	if err := yaml.Unmarshal(data, gc); err != nil {
		return nil, fmt.Errorf("parsing YAML %s: %w", path, err)
	}
	base := filepath.Dir(path)
	gc.ConfPath = path
	for _, p := range []*string{&gc.BoltPath, &gc.ScriptDir, &gc.HelpFile, &gc.ArchiveDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	if err := gc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return gc, nil
}

// Validate rejects settings the game cannot run with.
func (gc *GameConf) Validate() error {
	switch {
	case gc.InvocationTimeoutMS <= 0:
		return fmt.Errorf("invocation_timeout_ms must be positive")
	case gc.MaxDepth <= 0 || gc.MaxSteps <= 0:
		return fmt.Errorf("max_depth and max_steps must be positive")
	case gc.TickIntervalMS < 0:
		return fmt.Errorf("tick_interval_ms must not be negative")
	}
	for i, g := range gc.Grants {
		if g.Entity == "" || g.Type == "" {
			return fmt.Errorf("grants[%d]: entity and type are required", i)
		}
	}
	return nil
}

// InvocationTimeout is the per-invocation limit.
func (gc *GameConf) InvocationTimeout() time.Duration {
	return time.Duration(gc.InvocationTimeoutMS) * time.Millisecond
}

// SlowInvocation is the watchdog threshold; zero disables it.
func (gc *GameConf) SlowInvocation() time.Duration {
	return time.Duration(gc.SlowInvocationMS) * time.Millisecond
}

// TickInterval is the world tick period; zero disables ticking.
func (gc *GameConf) TickInterval() time.Duration {
	return time.Duration(gc.TickIntervalMS) * time.Millisecond
}

func (gc *GameConf) logSummary() {
	log.Printf("Game config: mud_name=%q port=%d web=%s:%d bolt=%q scripts=%q",
		gc.MudName, gc.Port, gc.WebHost, gc.WebPort, gc.BoltPath, gc.ScriptDir)
	log.Printf("  scripts: tick=%dms timeout=%dms depth=%d steps=%d plugins=%v grants=%d",
		gc.TickIntervalMS, gc.InvocationTimeoutMS, gc.MaxDepth, gc.MaxSteps, gc.Plugins, len(gc.Grants))
}
