// Package config resolves runtime settings.
//
// Sources, lowest precedence first:
//
//	defaults
//	a CUE (or JSON) file, checked against the embedded #Config schema
//	a .env file
//	process environment (STREAMPAY_*)
//	command-line flags, applied by the caller after Load
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/roach88/streampay/internal/ir"
)

//go:embed schema.cue
var schemaSource string

// Environment variable names.
const (
	EnvDB            = "STREAMPAY_DB"
	EnvMirror        = "STREAMPAY_MIRROR"
	EnvFeeBPS        = "STREAMPAY_FEE_BPS"
	EnvOperators     = "STREAMPAY_OPERATORS"
	EnvMaxMessageLen = "STREAMPAY_MAX_MESSAGE_LEN"
	EnvLogLevel      = "STREAMPAY_LOG_LEVEL"
)

// Config is the resolved runtime configuration.
type Config struct {
	DBPath        string   `json:"db_path" validate:"required"`
	MirrorPath    string   `json:"mirror_path"`
	FeeBPS        uint32   `json:"fee_bps" validate:"lte=10000"`
	Operators     []string `json:"operators" validate:"dive,startswith=0x,len=66,hexadecimal"`
	MaxMessageLen int      `json:"max_message_len" validate:"gte=0"`
	LogLevel      string   `json:"log_level" validate:"oneof=debug info warn error"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DBPath:        "streampay.db",
		FeeBPS:        25,
		MaxMessageLen: 280,
		LogLevel:      "info",
	}
}

// fileConfig mirrors Config with optional fields so a file only overrides
// what it sets.
type fileConfig struct {
	DBPath        *string  `json:"db_path"`
	MirrorPath    *string  `json:"mirror_path"`
	FeeBPS        *uint32  `json:"fee_bps"`
	Operators     []string `json:"operators"`
	MaxMessageLen *int     `json:"max_message_len"`
	LogLevel      *string  `json:"log_level"`
}

// LoadOptions says where Load looks.
type LoadOptions struct {
	// File is an optional CUE or JSON config file.
	File string

	// EnvFile is a dotenv file. A missing file is not an error.
	EnvFile string

	// LookupEnv reads the environment. Default: os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load layers every source over the defaults. The result is not yet
// validated; apply flag overrides and then call Validate.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := applyFile(&cfg, opts.File, data); err != nil {
			return Config{}, err
		}
	}

	env := map[string]string{}
	if opts.EnvFile != "" {
		vars, err := godotenv.Read(opts.EnvFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read %s: %w", opts.EnvFile, err)
		}
		for k, v := range vars {
			env[k] = v
		}
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, k := range []string{EnvDB, EnvMirror, EnvFeeBPS, EnvOperators, EnvMaxMessageLen, EnvLogLevel} {
		if v, ok := lookup(k); ok {
			env[k] = v
		}
	}
	if err := applyEnv(&cfg, env); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyFile unifies the file with the schema and overlays what it sets.
func applyFile(cfg *Config, name string, data []byte) error {
	cctx := cuecontext.New()
	schema := cctx.CompileString(schemaSource).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	file := cctx.CompileBytes(data, cue.Filename(name))
	if err := file.Err(); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	v := schema.Unify(file)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("config %s: %w", name, err)
	}

	var fc fileConfig
	if err := v.Decode(&fc); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	if fc.DBPath != nil {
		cfg.DBPath = *fc.DBPath
	}
	if fc.MirrorPath != nil {
		cfg.MirrorPath = *fc.MirrorPath
	}
	if fc.FeeBPS != nil {
		cfg.FeeBPS = *fc.FeeBPS
	}
	if fc.Operators != nil {
		cfg.Operators = fc.Operators
	}
	if fc.MaxMessageLen != nil {
		cfg.MaxMessageLen = *fc.MaxMessageLen
	}
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}
	return nil
}

func applyEnv(cfg *Config, env map[string]string) error {
	if v, ok := env[EnvDB]; ok {
		cfg.DBPath = v
	}
	if v, ok := env[EnvMirror]; ok {
		cfg.MirrorPath = v
	}
	if v, ok := env[EnvFeeBPS]; ok {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvFeeBPS, err)
		}
		cfg.FeeBPS = uint32(n)
	}
	if v, ok := env[EnvOperators]; ok {
		cfg.Operators = nil
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				cfg.Operators = append(cfg.Operators, part)
			}
		}
	}
	if v, ok := env[EnvMaxMessageLen]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxMessageLen, err)
		}
		cfg.MaxMessageLen = n
	}
	if v, ok := env[EnvLogLevel]; ok {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(v))
	}
	return nil
}

var validate = validator.New()

// Validate checks the final configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// OperatorAddresses parses the operator list.
func (c Config) OperatorAddresses() ([]ir.Address, error) {
	out := make([]ir.Address, 0, len(c.Operators))
	for _, s := range c.Operators {
		a, err := ir.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("operator: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

// Level maps LogLevel to a slog level; unknown values mean info.
func (c Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
