package utils

import (
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"gopkg.in/yaml.v2"

	"github.com/alpacahq/oplogreplay/oplog"
	"github.com/alpacahq/oplogreplay/utils/log"
)

const (
	defaultPollInterval      = time.Second
	defaultRetryBackoffCoeff = 2
	defaultMaxRetryInterval  = 30 * time.Second
)

var ErrInvalidConfig = errors.New("invalid configuration")

type ReplayConfig struct {
	// Source and Destination are "host:port" or mongodb:// URIs.
	Source      string
	Destination string
	// ReplicaSet overrides the name discovered on the source.
	ReplicaSet string
	LogLevel   log.Level
	// StartPosition overrides the stored checkpoint.
	StartPosition     *primitive.Timestamp
	PollInterval      time.Duration
	ReplayIndexes     bool
	Databases         []string
	Database          string
	Collection        string
	RetryBackoffCoeff int
	MaxRetryInterval  time.Duration
	// MetricsListen is the address of the prometheus endpoint. Empty disables it.
	MetricsListen   string
	ReportEvery     uint64
	InfoReportEvery uint64
}

func NewDefaultConfig() *ReplayConfig {
	return &ReplayConfig{
		LogLevel:          log.INFO,
		PollInterval:      defaultPollInterval,
		ReplayIndexes:     true,
		RetryBackoffCoeff: defaultRetryBackoffCoeff,
		MaxRetryInterval:  defaultMaxRetryInterval,
	}
}

// ParseConfig reads a YAML configuration on top of the defaults.
func ParseConfig(data []byte) (*ReplayConfig, error) {
	c := NewDefaultConfig()
	if err := c.Parse(data); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ReplayConfig) Parse(data []byte) error {
	var aux struct {
		Source            string   `yaml:"source"`
		Destination       string   `yaml:"destination"`
		ReplicaSet        string   `yaml:"replica_set"`
		LogLevel          string   `yaml:"log_level"`
		StartPosition     string   `yaml:"start_position"`
		PollInterval      string   `yaml:"poll_interval"`
		ReplayIndexes     string   `yaml:"replay_indexes"`
		Databases         []string `yaml:"databases"`
		Database          string   `yaml:"database"`
		Collection        string   `yaml:"collection"`
		RetryBackoffCoeff int      `yaml:"retry_backoff_coeff"`
		MaxRetryInterval  string   `yaml:"max_retry_interval"`
		MetricsListen     string   `yaml:"metrics_listen"`
		ReportEvery       uint64   `yaml:"report_every"`
		InfoReportEvery   uint64   `yaml:"info_report_every"`
	}

	if err := yaml.UnmarshalStrict(data, &aux); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}

	c.Source = aux.Source
	c.Destination = aux.Destination
	c.ReplicaSet = aux.ReplicaSet
	c.Databases = aux.Databases
	c.Database = aux.Database
	c.Collection = aux.Collection
	c.MetricsListen = aux.MetricsListen
	c.ReportEvery = aux.ReportEvery
	c.InfoReportEvery = aux.InfoReportEvery

	if aux.LogLevel != "" {
		c.LogLevel = log.ParseLevel(aux.LogLevel)
	}

	if err := c.SetStartPosition(aux.StartPosition); err != nil {
		return err
	}

	if aux.PollInterval != "" {
		d, err := parsePositiveDuration("poll_interval", aux.PollInterval)
		if err != nil {
			return err
		}
		c.PollInterval = d
	}

	if aux.MaxRetryInterval != "" {
		d, err := parsePositiveDuration("max_retry_interval", aux.MaxRetryInterval)
		if err != nil {
			return err
		}
		c.MaxRetryInterval = d
	}

	if aux.RetryBackoffCoeff > 0 {
		c.RetryBackoffCoeff = aux.RetryBackoffCoeff
	}

	if aux.ReplayIndexes != "" {
		replayIndexes, err := strconv.ParseBool(aux.ReplayIndexes)
		if err != nil {
			log.Error("Invalid value: %v for replay_indexes. Replaying indexes...", aux.ReplayIndexes)
		} else {
			c.ReplayIndexes = replayIndexes
		}
	}

	return nil
}

// replayEnv holds raw env values overriding the configuration file.
type replayEnv struct {
	Source        string        `env:"OPLOGREPLAY_SOURCE"`
	Destination   string        `env:"OPLOGREPLAY_DEST"`
	ReplicaSet    string        `env:"OPLOGREPLAY_REPLSET"`
	LogLevel      string        `env:"OPLOGREPLAY_LOG_LEVEL"`
	StartPosition string        `env:"OPLOGREPLAY_START"`
	PollInterval  time.Duration `env:"OPLOGREPLAY_POLL_INTERVAL"`
	ReplayIndexes string        `env:"OPLOGREPLAY_REPLAY_INDEXES"`
	Databases     []string      `env:"OPLOGREPLAY_DATABASES" envSeparator:","`
	MetricsListen string        `env:"OPLOGREPLAY_METRICS_LISTEN"`
}

// ApplyEnv overrides the configuration with the OPLOGREPLAY_* variables of environ.
// A nil environ reads the process environment.
func (c *ReplayConfig) ApplyEnv(environ map[string]string) error {
	var raw replayEnv
	if err := env.ParseWithOptions(&raw, env.Options{Environment: environ}); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}

	if raw.Source != "" {
		c.Source = raw.Source
	}
	if raw.Destination != "" {
		c.Destination = raw.Destination
	}
	if raw.ReplicaSet != "" {
		c.ReplicaSet = raw.ReplicaSet
	}
	if raw.LogLevel != "" {
		c.LogLevel = log.ParseLevel(raw.LogLevel)
	}
	if err := c.SetStartPosition(raw.StartPosition); err != nil {
		return err
	}
	if raw.PollInterval > 0 {
		c.PollInterval = raw.PollInterval
	}
	if raw.ReplayIndexes != "" {
		v, err := strconv.ParseBool(raw.ReplayIndexes)
		if err != nil {
			return errors.Wrapf(ErrInvalidConfig, "OPLOGREPLAY_REPLAY_INDEXES=%q", raw.ReplayIndexes)
		}
		c.ReplayIndexes = v
	}
	if len(raw.Databases) > 0 {
		c.Databases = raw.Databases
	}
	if raw.MetricsListen != "" {
		c.MetricsListen = raw.MetricsListen
	}
	return nil
}

// SetStartPosition parses "<seconds>:<increment>". An empty string leaves the position unchanged.
func (c *ReplayConfig) SetStartPosition(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	ts, err := oplog.ParseTimestamp(s)
	if err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	c.StartPosition = &ts
	return nil
}

// Validate checks the configuration is complete enough to start replaying.
func (c *ReplayConfig) Validate() error {
	switch {
	case c.Source == "":
		return errors.Wrap(ErrInvalidConfig, "no source")
	case c.Destination == "":
		return errors.Wrap(ErrInvalidConfig, "no destination")
	case c.Collection != "" && c.Database == "":
		return errors.Wrap(ErrInvalidConfig, "must specify a database if you specify a collection")
	case c.PollInterval <= 0:
		return errors.Wrap(ErrInvalidConfig, "poll interval must be positive")
	}
	return nil
}

func parsePositiveDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidConfig, "%s: %v", key, err)
	}
	if d <= 0 {
		return 0, errors.Wrapf(ErrInvalidConfig, "%s must be positive: %s", key, value)
	}
	return d, nil
}
