package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	env "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/marib00/flashcard-app/internal/domain"
)

// envPrefix names the environment variables the loader reads. A double
// underscore nests keys, so FLASHCARDS_LOG_LEVEL sets log_level while
// FLASHCARDS_PRIORITIES__AGAIN sets priorities.again.
const envPrefix = "FLASHCARDS_"

// Priorities is the on-disk shape of the priority policy.
type Priorities struct {
	Preset string `koanf:"preset" validate:"oneof=auto custom"`
	New    string `koanf:"new" validate:"priority_level"`
	Again  string `koanf:"again" validate:"priority_level"`
	Hard   string `koanf:"hard" validate:"priority_level"`
	Good   string `koanf:"good" validate:"priority_level"`
	Easy   string `koanf:"easy" validate:"priority_level"`
}

// Config holds all runtime settings. Precedence, lowest to highest:
// defaults, config file, environment, flags.
type Config struct {
	Listen        string     `koanf:"listen" validate:"required,hostname_port"`
	DBPath        string     `koanf:"db" validate:"required"`
	Timezone      string     `koanf:"timezone" validate:"required"`
	LogLevel      string     `koanf:"log_level" validate:"oneof=debug info warn error"`
	RevealDelayMs int        `koanf:"reveal_delay_ms" validate:"gte=0"`
	Priorities    Priorities `koanf:"priorities"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	def := domain.DefaultPriorities()
	return Config{
		Listen:        "localhost:8080",
		DBPath:        "flashcards.db",
		Timezone:      "Local",
		LogLevel:      "info",
		RevealDelayMs: 600,
		Priorities: Priorities{
			Preset: string(def.Preset),
			New:    def.Level(domain.ClassNew).String(),
			Again:  def.Level(domain.ClassAgain).String(),
			Hard:   def.Level(domain.ClassHard).String(),
			Good:   def.Level(domain.ClassGood).String(),
			Easy:   def.Level(domain.ClassEasy).String(),
		},
	}
}

// Flags returns the command-line flag set, registered with the default
// values so an untouched flag never overrides file or environment
// settings with an empty string.
func Flags(name string) *pflag.FlagSet {
	def := Default()
	flags := pflag.NewFlagSet(name, pflag.ExitOnError)
	flags.String("config", "", "Path to a YAML config file")
	flags.String("listen", def.Listen, "Address to listen on")
	flags.String("db", def.DBPath, "Path to the SQLite database file")
	flags.String("log_level", def.LogLevel, "Log level (debug, info, warn, error)")
	return flags
}

// Load assembles the configuration from defaults, the optional config
// file named by the --config flag, FLASHCARDS_* environment variables
// and the command-line flags, then validates the result.
func Load(flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	// Unmarshal merges into a pre-filled struct, so defaults are the
	// starting value rather than another koanf layer.
	cfg := Default()

	if path, _ := flags.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ReplaceAll(
				strings.ToLower(strings.TrimPrefix(key, envPrefix)), "__", ".")
			return key, value
		},
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load flags: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	err := v.RegisterValidation("priority_level", func(fl validator.FieldLevel) bool {
		_, err := domain.ParsePriorityLevel(fl.Field().String())
		return err == nil
	})
	if err != nil {
		return fmt.Errorf("failed to register validator: %w", err)
	}
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ToDomain converts the stringly-typed priority settings into the
// domain configuration. Load has already validated the values.
func (p Priorities) ToDomain() (domain.PriorityConfig, error) {
	cfg := domain.PriorityConfig{Preset: domain.Preset(p.Preset)}
	if cfg.Preset != domain.PresetAuto && cfg.Preset != domain.PresetCustom {
		return domain.PriorityConfig{}, fmt.Errorf("unknown priority preset %q", p.Preset)
	}
	for class, raw := range map[domain.CardClass]string{
		domain.ClassNew:   p.New,
		domain.ClassAgain: p.Again,
		domain.ClassHard:  p.Hard,
		domain.ClassGood:  p.Good,
		domain.ClassEasy:  p.Easy,
	} {
		level, err := domain.ParsePriorityLevel(raw)
		if err != nil {
			return domain.PriorityConfig{}, fmt.Errorf("priority for %s: %w", class.String(), err)
		}
		cfg.Levels[class] = level
	}
	return cfg, nil
}
