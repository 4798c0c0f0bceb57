// Package config builds one immutable Config from three layers, highest
// precedence last:
//
//  1. an optional <root>/conf/.env file,
//  2. an optional <root>/conf/crm.yaml file,
//  3. environment variables prefixed CRM_, where "__" separates levels
//     (CRM_JOBS__WORKERS sets jobs.workers).
//
// Keys absent from every layer keep the values from Default. The result is
// validated and cached for lock-free reads through Get.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

const (
	EnvPrefix = "CRM_"
	// RootEnv overrides root discovery.
	RootEnv  = "CRM_ROOT"
	FileName = "crm.yaml"
)

var current atomic.Pointer[Config]

// rootDir resolves CRM_ROOT or climbs from the working directory until
// conf/crm.yaml is found. Falls back to the working directory.
func rootDir() string {
	if r := os.Getenv(RootEnv); r != "" {
		return r
	}

	wd, _ := os.Getwd()
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "conf", FileName)); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return wd
}

// Load discovers the root and loads from it.
func Load() (*Config, error) {
	root := rootDir()
	zap.S().Debugw("config root resolved", "root", root)
	return LoadFrom(root)
}

// LoadFrom reads the layers found below root, validates and caches the result.
func LoadFrom(root string) (*Config, error) {
	// values already in the environment win over .env
	_ = godotenv.Load(filepath.Join(root, "conf", ".env"))

	k := koanf.New(".")

	yamlPath := filepath.Join(root, "conf", FileName)
	if _, err := os.Stat(yamlPath); err == nil {
		if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
			zap.S().Errorw("config yaml load failed", "file", yamlPath, "err", err)
			return nil, err
		}
		zap.S().Debugw("config yaml loaded", "file", yamlPath)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		zap.S().Errorw("config env overlay failed", "err", err)
		return nil, err
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		zap.S().Errorw("config unmarshal failed", "err", err)
		return nil, err
	}

	cfg.Paths.Root = root
	cfg.Storage.Root = resolve(root, cfg.Storage.Root)
	cfg.Log.Dir = resolve(root, cfg.Log.Dir)

	if err := cfg.Validate(); err != nil {
		zap.S().Errorw("config validation failed", "err", err)
		return nil, err
	}

	current.Store(&cfg)
	zap.S().Infow("config loaded",
		"root", cfg.Paths.Root,
		"database", cfg.Database.Driver,
		"cache", cfg.Cache.Driver,
		"storage", cfg.Storage.Driver,
		"workers", cfg.Jobs.Workers,
	)
	return &cfg, nil
}

// envKey maps CRM_JOBS__MAX_ATTEMPTS to jobs.max_attempts. CRM_ROOT is
// not part of the tree.
func envKey(s string) string {
	if s == RootEnv {
		return ""
	}
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ToLower(strings.ReplaceAll(s, "__", "."))
}

func resolve(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

func Get() *Config  { return current.Load() }
func Reload() error { _, err := LoadFrom(rootDir()); return err }
