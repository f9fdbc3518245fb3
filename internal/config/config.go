package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"rtp-header-probe/internal/logging"
)

const FileName = "config.json"

type Config struct {
	APIListenAddr       string `json:"api_listen_addr"`
	ServicePassword     string `json:"service_password"`
	BindIP              string `json:"bind_ip"`
	ProbePortMin        int    `json:"probe_port_min"`
	ProbePortMax        int    `json:"probe_port_max"`
	IdleTimeoutSec      int    `json:"idle_timeout_sec"`
	StatsLogIntervalSec int    `json:"stats_log_interval_sec"`
	PacketLog           bool   `json:"packet_log"`
	PacketLogSampleN    int    `json:"packet_log_sample_n"`
	PacketLogOnError    bool   `json:"packet_log_on_error"`
}

func Load() (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("resolve current working directory: %w", err)
	}

	path := filepath.Join(cwd, FileName)
	if _, err := os.Stat(path); err == nil {
		cfg, err := loadFromFile(path)
		if err != nil {
			return Config{}, err
		}
		logging.L().Info("loaded config", "source", "file", "path", path)
		return cfg, nil
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("stat config file %s: %w", path, err)
	}

	logging.L().Info("loaded config", "source", "env")
	return loadFromEnv(), nil
}

func loadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func loadFromEnv() Config {
	packetLog := getEnvBool("PACKET_LOG", false)
	return Config{
		APIListenAddr:       getEnv("API_LISTEN_ADDR", "0.0.0.0:8080"),
		ServicePassword:     os.Getenv("SERVICE_PASSWORD"),
		BindIP:              getEnv("BIND_IP", "0.0.0.0"),
		ProbePortMin:        getEnvInt("PROBE_PORT_MIN", 30000),
		ProbePortMax:        getEnvInt("PROBE_PORT_MAX", 40000),
		IdleTimeoutSec:      getEnvInt("IDLE_TIMEOUT_SEC", 60),
		StatsLogIntervalSec: getEnvInt("STATS_LOG_INTERVAL_SEC", 5),
		PacketLog:           packetLog,
		PacketLogSampleN:    getEnvInt("PACKET_LOG_SAMPLE_N", 0),
		PacketLogOnError:    getEnvBool("PACKET_LOG_ON_ERROR", packetLog),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
