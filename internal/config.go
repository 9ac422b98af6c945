package internal

import "time"

// Config is populated from the environment by Netflix/go-env.
type Config struct {
	BadgerFilepath  string        `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath   string        `env:"BLUGE_FILEPATH"`
	LogLevel        string        `env:"LOG_LEVEL,required=true"`
	LimitMessages   *int          `env:"LIMIT_MESSAGES"`
	DefaultPageSize int           `env:"DEFAULT_PAGE_SIZE"`
	MetricInterval  time.Duration `env:"METRIC_INTERVAL"`
}
