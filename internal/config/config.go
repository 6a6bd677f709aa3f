package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"crashdata/internal/dataset"
)

// Config holds all service settings. Values come from the environment,
// layered over an optional YAML file, layered over defaults.
type Config struct {
	DropDir       string
	WorkDir       string
	DBPath        string
	HTTPPort      string
	WorkerCount   int
	QueueSize     int
	EnableWatcher bool
	Timezone      string
	DateLayout    string
	TimeLayout    string
	ReportURL     string
	Environment   string
	StrictConfig  bool
}

type fileConfig struct {
	DropDir    string `yaml:"drop_dir"`
	WorkDir    string `yaml:"work_dir"`
	DBPath     string `yaml:"db_path"`
	HTTPPort   string `yaml:"http_port"`
	Timezone   string `yaml:"timezone"`
	DateLayout string `yaml:"date_layout"`
	TimeLayout string `yaml:"time_layout"`
	ReportURL  string `yaml:"report_url"`
}

const (
	defaultDropDir   = "runtime/drop"
	defaultWorkDir   = "runtime/work"
	defaultDBFile    = "crashdata.db"
	defaultPort      = "8080"
	minQueueSize     = 8
	defaultQueueSize = 128
	maxQueueSize     = 1024
)

// Load reads configuration from the environment and an optional YAML file.
// A missing or malformed file falls back to defaults unless STRICT_CONFIG
// is set.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:  getenv("ENVIRONMENT", "local"),
		StrictConfig: getenvBool("STRICT_CONFIG", false),
	}

	configPath := getenv("CONFIG_PATH", filepath.Join("config", "config.yaml"))
	fileCfg, fileErr := loadFileConfig(configPath)
	if fileErr != nil && !os.IsNotExist(fileErr) {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("config load failed (%s): %w", configPath, fileErr)
		}
		log.Printf("config load failed (%s): %v (using defaults)", configPath, fileErr)
	}

	cfg.DropDir = firstNonEmpty(os.Getenv("DROP_DIR"), fileCfg.DropDir, defaultDropDir)
	cfg.WorkDir = firstNonEmpty(os.Getenv("WORK_DIR"), fileCfg.WorkDir, defaultWorkDir)
	cfg.DBPath = firstNonEmpty(os.Getenv("DB_PATH"), fileCfg.DBPath, filepath.Join(cfg.WorkDir, defaultDBFile))
	cfg.HTTPPort = firstNonEmpty(os.Getenv("HTTP_PORT"), fileCfg.HTTPPort, defaultPort)
	cfg.Timezone = firstNonEmpty(os.Getenv("TIMEZONE"), fileCfg.Timezone, dataset.DefaultTimezone)
	cfg.DateLayout = firstNonEmpty(os.Getenv("DATE_LAYOUT"), fileCfg.DateLayout, dataset.DefaultDateLayout)
	cfg.TimeLayout = firstNonEmpty(os.Getenv("TIME_LAYOUT"), fileCfg.TimeLayout, dataset.DefaultTimeLayout)
	cfg.ReportURL = firstNonEmpty(os.Getenv("REPORT_URL"), fileCfg.ReportURL, "")
	cfg.WorkerCount = clampInt(getenvInt("WORKER_COUNT", 4), 1, 64)
	cfg.QueueSize = clampInt(getenvInt("QUEUE_SIZE", defaultQueueSize), minQueueSize, maxQueueSize)
	cfg.EnableWatcher = getenvBool("ENABLE_WATCHER", true)

	log.Printf("config: drop_dir=%s work_dir=%s db=%s tz=%s env=%s", cfg.DropDir, cfg.WorkDir, cfg.DBPath, cfg.Timezone, cfg.Environment)
	return cfg, nil
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("parse yaml: %w", err)
	}
	return fc, nil
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Now returns a second-truncated UTC timestamp for persistence.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
