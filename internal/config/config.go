// Package config loads the process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/PrunesLand/pingwheel-server/internal/ping"
)

// Environment variables
const (
	EnvAddr     = "PINGWHEEL_ADDR"
	EnvSerial   = "PINGWHEEL_SERIAL"
	EnvBaud     = "PINGWHEEL_BAUD"
	EnvObserver = "PINGWHEEL_OBSERVER"
	EnvUsername = "PINGWHEEL_USERNAME"
	EnvLogFile  = "PINGWHEEL_LOG_FILE"
)

// Config is the process configuration.
type Config struct {
	Addr       string
	SerialPort string // empty means auto-detect
	BaudRate   int
	Observer   ping.Vec3
	Username   string
	LogFile    string // empty means console
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		Addr:     ":8080",
		BaudRate: 115200,
		Username: "server",
	}
}

// Load reads the configuration from the environment.
// Variables from the given .env files are added first. Missing files are ignored.
func Load(envFiles ...string) (Config, error) {
	for _, fn := range envFiles {
		if err := godotenv.Load(fn); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", fn, err)
		}
	}
	cfg := Default()
	if v := os.Getenv(EnvAddr); v != "" {
		cfg.Addr = v
	}
	cfg.SerialPort = os.Getenv(EnvSerial)
	if v := os.Getenv(EnvBaud); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("%s: invalid baud rate %q", EnvBaud, v)
		}
		cfg.BaudRate = n
	}
	if v := os.Getenv(EnvObserver); v != "" {
		pos, err := ping.ParseVec3(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvObserver, err)
		}
		cfg.Observer = pos
	}
	if v := os.Getenv(EnvUsername); v != "" {
		cfg.Username = v
	}
	cfg.LogFile = os.Getenv(EnvLogFile)
	return cfg, nil
}
