package lib

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/units"
)

/* This file implements the user controlled configuration of the node, persisted as json in the data directory */

const (
	// FILE NAMES in the 'data directory'
	ConfigFilePath = "config.json" // the file path for the node configuration

	DefaultMaxBufferBytes = "64MiB" // memory budget of the channel hierarchy when none is configured
)

// Config is the structure of the user configuration options
type Config struct {
	MainConfig     // main options spanning over all modules
	ProtocolConfig // oral message run options
	MetricsConfig  // telemetry options
}

// DefaultConfig() returns a Config with developer set options
func DefaultConfig() Config {
	return Config{
		MainConfig:     DefaultMainConfig(),
		ProtocolConfig: DefaultProtocolConfig(),
		MetricsConfig:  DefaultMetricsConfig(),
	}
}

// MAIN CONFIG BELOW

type MainConfig struct {
	LogLevel       string `json:"logLevel"`       // any level includes the levels above it: debug < info < warning < error
	DataDirPath    string `json:"dataDirPath"`    // path of the designated folder where logs and config live
	LogFileMaxSize string `json:"logFileMaxSize"` // rotation threshold of the log file, e.g. '1MiB'
	LogMaxBackups  int    `json:"logMaxBackups"`  // number of rotated log files to keep
	LogMaxAgeDays  int    `json:"logMaxAgeDays"`  // days to keep rotated log files
}

// DefaultMainConfig() sets log level to 'info'
func DefaultMainConfig() MainConfig {
	return MainConfig{
		LogLevel:       "info",               // everything but debug is the default
		DataDirPath:    DefaultDataDirPath(), // $HOME/.generals
		LogFileMaxSize: "1MiB",               // rotate every megabyte
		LogMaxBackups:  100,
		LogMaxAgeDays:  14,
	}
}

// GetLogLevel() parses the log string in the config file into a LogLevel Enum
func (m *MainConfig) GetLogLevel() int32 {
	switch {
	case strings.Contains(strings.ToLower(m.LogLevel), "deb"):
		return DebugLevel
	case strings.Contains(strings.ToLower(m.LogLevel), "inf"):
		return InfoLevel
	case strings.Contains(strings.ToLower(m.LogLevel), "war"):
		return WarnLevel
	case strings.Contains(strings.ToLower(m.LogLevel), "err"):
		return ErrorLevel
	default:
		return DebugLevel
	}
}

// LoggerConfig() converts the main options into the configuration of a file backed logger
func (m *MainConfig) LoggerConfig() (LoggerConfig, ErrorI) {
	size, err := ParseSize(m.LogFileMaxSize)
	if err != nil {
		return LoggerConfig{}, err
	}
	return LoggerConfig{
		Level:      m.GetLogLevel(),
		MaxSizeMB:  int(size / int64(units.MiB)),
		MaxBackups: m.LogMaxBackups,
		MaxAgeDays: m.LogMaxAgeDays,
	}, nil
}

// DefaultDataDirPath() is $USERHOME/.generals
func DefaultDataDirPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(home, ".generals")
}

// PROTOCOL CONFIG BELOW

// ProtocolConfig describes one oral message run: who is loyal, who reports and what is commanded
type ProtocolConfig struct {
	NumGenerals    int    `json:"numGenerals"`    // number of generals taking part
	Loyalty        []bool `json:"loyalty"`        // loyalty[i] is false if general i is a traitor
	ReporterId     int    `json:"reporterId"`     // the general whose tier-0 receipts make up the trace
	CommanderId    int    `json:"commanderId"`    // the general issuing the command (used by the cli)
	Command        string `json:"command"`        // 'attack' or 'retreat' (used by the cli)
	MaxBufferBytes string `json:"maxBufferBytes"` // upper bound on memory held by the channel hierarchy, e.g. '64MiB'
}

// DefaultProtocolConfig() is the classic four generals with one traitor
func DefaultProtocolConfig() ProtocolConfig {
	return ProtocolConfig{
		NumGenerals:    4,
		Loyalty:        []bool{true, true, true, false},
		ReporterId:     1,
		CommanderId:    0,
		Command:        "attack",
		MaxBufferBytes: DefaultMaxBufferBytes,
	}
}

// NumTraitors() counts the disloyal generals
func (p *ProtocolConfig) NumTraitors() (n int) {
	for _, loyal := range p.Loyalty {
		if !loyal {
			n++
		}
	}
	return
}

// BufferBudget() parses MaxBufferBytes, an empty value means DefaultMaxBufferBytes
func (p *ProtocolConfig) BufferBudget() (int64, ErrorI) {
	if p.MaxBufferBytes == "" {
		return ParseSize(DefaultMaxBufferBytes)
	}
	return ParseSize(p.MaxBufferBytes)
}

// METRICS CONFIG BELOW

// MetricsConfig represents the configuration for the metrics server
type MetricsConfig struct {
	Enabled           bool   `json:"enabled"`           // if the metrics server is enabled
	PrometheusAddress string `json:"prometheusAddress"` // the address of the server
}

// DefaultMetricsConfig() returns the default metrics configuration
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:           false,          // a single run rarely lives long enough to be scraped
		PrometheusAddress: "0.0.0.0:9090", // the default prometheus address
	}
}

// ParseSize() converts a human size like '64MiB' or '512KB' to bytes
func ParseSize(s string) (int64, ErrorI) {
	b, err := units.ParseBase2Bytes(s)
	if err != nil {
		return 0, ErrParseSize(s, err)
	}
	return int64(b), nil
}

// WriteToFile() saves the Config object to a JSON file
func (c Config) WriteToFile(filepath string) ErrorI {
	jsonBytes, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return ErrJSONMarshal(err)
	}
	if err = os.WriteFile(filepath, jsonBytes, os.ModePerm); err != nil {
		return ErrWriteFile(err)
	}
	return nil
}

// NewConfigFromFile() populates a Config object from a JSON file
func NewConfigFromFile(filepath string) (Config, ErrorI) {
	fileBytes, err := os.ReadFile(filepath)
	if err != nil {
		return Config{}, ErrReadFile(err)
	}
	// define the default config to fill in any blanks in the file
	c := DefaultConfig()
	if err = json.Unmarshal(fileBytes, &c); err != nil {
		return Config{}, ErrJSONUnmarshal(err)
	}
	return c, nil
}
