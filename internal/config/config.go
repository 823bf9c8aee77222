// Package config собирает настройки сервисов Actionrun.
//
// Источники в порядке приоритета (каждый следующий перекрывает предыдущий):
//
//  1. Значения по умолчанию (Default)
//  2. TOML-файл, путь к которому задан в ACTIONRUN_CONFIG
//  3. Переменные окружения
//
// Пример файла:
//
//	api_addr = ":8080"
//	log_dir = "/var/lib/actionrun/step_logs"
//	max_parallel = 8
//	status_retention = "24h"
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvConfigPath — переменная окружения с путём к TOML-файлу.
const EnvConfigPath = "ACTIONRUN_CONFIG"

// Config — настройки api, worker и cli.
type Config struct {
	// APIAddr — адрес HTTP API (default: :8080).
	APIAddr string

	// WorkerAddr — адрес health/metrics сервера воркера (default: :8082).
	WorkerAddr string

	// LogDir — каталог лог-артефактов шагов (default: step_logs).
	LogDir string

	// Shell — shell для команд шагов (default: /bin/sh).
	Shell string

	// MaxParallel — лимит одновременно выполняемых команд (0 — без лимита).
	MaxParallel int

	// DBURL — DSN PostgreSQL. Пусто — статусы хранятся в памяти.
	DBURL string

	// RabbitMQURL — адрес RabbitMQ. Пусто — планы выполняются в процессе API.
	RabbitMQURL string

	// StatusRetention — сколько хранить завершённые run (0 — до явного reap).
	StatusRetention time.Duration
}

// Default возвращает конфигурацию по умолчанию.
func Default() Config {
	return Config{
		APIAddr:    ":8080",
		WorkerAddr: ":8082",
		LogDir:     "step_logs",
		Shell:      "/bin/sh",
	}
}

// Dispatch возвращает true, если планы отправляются воркерам через RabbitMQ.
func (c Config) Dispatch() bool {
	return c.RabbitMQURL != ""
}

// fileConfig — ключи TOML-файла.
type fileConfig struct {
	APIAddr         string `toml:"api_addr"`
	WorkerAddr      string `toml:"worker_addr"`
	LogDir          string `toml:"log_dir"`
	Shell           string `toml:"shell"`
	MaxParallel     int    `toml:"max_parallel"`
	DBURL           string `toml:"db_url"`
	RabbitMQURL     string `toml:"rabbitmq_url"`
	StatusRetention string `toml:"status_retention"`
}

// LookupFunc — источник переменных окружения (os.LookupEnv в проде).
type LookupFunc func(key string) (string, bool)

// Load собирает конфигурацию из файла и окружения процесса.
func Load() (Config, error) {
	return LoadWith(os.LookupEnv)
}

// LoadWith собирает конфигурацию, читая переменные через lookup.
func LoadWith(lookup LookupFunc) (Config, error) {
	cfg := Default()

	if path, ok := lookup(EnvConfigPath); ok && strings.TrimSpace(path) != "" {
		if err := applyFile(&cfg, strings.TrimSpace(path)); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет значения после слияния источников.
func (c Config) Validate() error {
	if c.MaxParallel < 0 {
		return fmt.Errorf("config: max_parallel must be >= 0, got %d", c.MaxParallel)
	}
	if c.StatusRetention < 0 {
		return fmt.Errorf("config: status_retention must be >= 0, got %s", c.StatusRetention)
	}
	if strings.TrimSpace(c.LogDir) == "" {
		return fmt.Errorf("config: log_dir is required")
	}
	if strings.TrimSpace(c.Shell) == "" {
		return fmt.Errorf("config: shell is required")
	}
	// Воркер находит run по ID в общей БД, in-memory статусы ему не видны.
	if c.Dispatch() && c.DBURL == "" {
		return fmt.Errorf("config: db_url is required when rabbitmq_url is set")
	}
	return nil
}

func applyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %q: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %q: unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("api_addr") {
		cfg.APIAddr = strings.TrimSpace(raw.APIAddr)
	}
	if meta.IsDefined("worker_addr") {
		cfg.WorkerAddr = strings.TrimSpace(raw.WorkerAddr)
	}
	if meta.IsDefined("log_dir") {
		cfg.LogDir = strings.TrimSpace(raw.LogDir)
	}
	if meta.IsDefined("shell") {
		cfg.Shell = strings.TrimSpace(raw.Shell)
	}
	if meta.IsDefined("max_parallel") {
		cfg.MaxParallel = raw.MaxParallel
	}
	if meta.IsDefined("db_url") {
		cfg.DBURL = strings.TrimSpace(raw.DBURL)
	}
	if meta.IsDefined("rabbitmq_url") {
		cfg.RabbitMQURL = strings.TrimSpace(raw.RabbitMQURL)
	}
	if meta.IsDefined("status_retention") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.StatusRetention))
		if err != nil {
			return fmt.Errorf("load config %q: status_retention: %w", path, err)
		}
		cfg.StatusRetention = d
	}

	return nil
}

func applyEnv(cfg *Config, lookup LookupFunc) error {
	if v, ok := lookup("API_PORT"); ok && v != "" {
		cfg.APIAddr = ":" + v
	}
	if v, ok := lookup("WORKER_PORT"); ok && v != "" {
		cfg.WorkerAddr = ":" + v
	}
	if v, ok := lookup("LOG_DIR"); ok && v != "" {
		cfg.LogDir = v
	}
	if v, ok := lookup("ACTIONRUN_SHELL"); ok && v != "" {
		cfg.Shell = v
	}
	if v, ok := lookup("MAX_PARALLEL"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MAX_PARALLEL: %w", err)
		}
		cfg.MaxParallel = n
	}
	if v, ok := lookup("DB_URL"); ok {
		cfg.DBURL = v
	}
	if v, ok := lookup("RABBITMQ_URL"); ok {
		cfg.RabbitMQURL = v
	}
	if v, ok := lookup("STATUS_RETENTION"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: STATUS_RETENTION: %w", err)
		}
		cfg.StatusRetention = d
	}
	return nil
}
