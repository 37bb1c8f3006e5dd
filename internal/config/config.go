// Package config loads and validates the pipeline's typed
// configuration from a single YAML file, parsed once at startup.
// Unrecognised keys are a startup error — no reflection or annotation
// scanning, per the spec's re-architecture notes.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full enumerated configuration surface (spec §6).
type Config struct {
	Capture    CaptureConfig    `yaml:"capture"`
	Queue      QueueConfig      `yaml:"queue"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
	Processing ProcessingConfig `yaml:"processing"`
	Cache      CacheConfig      `yaml:"cache"`
	Storage    StorageConfig    `yaml:"storage"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
	Protocol   ProtocolConfig   `yaml:"protocol"`
}

// CaptureConfig controls interface selection and the live handle.
type CaptureConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Port          int    `yaml:"port"`
	Interface     string `yaml:"interface"`
	SnapLen       int32  `yaml:"snapLen"`
	TimeoutMs     int    `yaml:"timeoutMs"`
	Promiscuous   bool   `yaml:"promiscuous"`
	BPFExpression string `yaml:"bpfExpression"`
}

// QueueConfig controls the bounded packet queue.
type QueueConfig struct {
	Capacity       int `yaml:"capacity"`
	OfferTimeoutMs int `yaml:"offerTimeoutMs"`
}

// ConsumerConfig controls consumption cadence and the breaker policy.
type ConsumerConfig struct {
	BatchSize     int `yaml:"batchSize"`
	PollTimeoutMs int `yaml:"pollTimeoutMs"`
	Breaker       BreakerConfig `yaml:"breaker"`
}

// BreakerConfig controls the circuit breaker guarding the store.
type BreakerConfig struct {
	Threshold  int `yaml:"threshold"`
	CooldownMs int `yaml:"cooldownMs"`
}

// ProcessingConfig controls the scheduled processing loop.
type ProcessingConfig struct {
	Enabled            bool `yaml:"enabled"`
	IntervalMs         int  `yaml:"intervalMs"`
	BatchMode          bool `yaml:"batchMode"`
	QueueWarnThreshold int  `yaml:"queueWarnThreshold"`
	// DrainWorkers sizes the on-demand drain pool the /drain admin route
	// uses; a request that finds the pool full still runs inline, so
	// concurrent drains are not capped.
	DrainWorkers int `yaml:"drainWorkers"`
}

// CacheConfig is the per-cache TTL/size surface plus the optional
// distributed tier.
type CacheConfig struct {
	Items           CacheEntryConfig `yaml:"items"`
	ItemsWithPrices CacheEntryConfig `yaml:"itemsWithPrices"`
	LatestPrices    CacheEntryConfig `yaml:"latestPrices"`
	Redis           RedisConfig      `yaml:"redis"`
}

// CacheEntryConfig is one named cache's TTL/size/stats configuration.
type CacheEntryConfig struct {
	TTLSeconds  int  `yaml:"ttl"`
	MaxSize     int  `yaml:"maxSize"`
	RecordStats bool `yaml:"recordStats"`
}

// RedisConfig controls the optional distributed cache tier.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
}

// StorageConfig is the Postgres connection surface.
type StorageConfig struct {
	DSN            string `yaml:"dsn"`
	MaxOpenConns   int    `yaml:"maxOpenConns"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// MetricsConfig controls the health/metrics HTTP endpoint.
type MetricsConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// LogConfig controls zerolog's global configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ProtocolConfig carries the open-question parser inputs: dispatch IDs
// and the decompression-ratio cap, left as config rather than literals.
type ProtocolConfig struct {
	PriceListMessageID           int32 `yaml:"priceListMessageId"`
	CategoryDescriptionMessageID int32 `yaml:"categoryDescriptionMessageId"`
	CompressedContainerMessageID int32 `yaml:"compressedContainerMessageId"`
	MaxDecompressionRatio        int   `yaml:"maxDecompressionRatio"`
	DedupWindowMinutes           int   `yaml:"dedupWindowMinutes"`
}

// Default returns a fully populated Config matching every default
// named in spec §6 and §4.
func Default() Config {
	return Config{
		Capture: CaptureConfig{
			Enabled:     true,
			Port:        5555,
			SnapLen:     65536,
			TimeoutMs:   1000,
			Promiscuous: false,
		},
		Queue: QueueConfig{
			Capacity:       5000,
			OfferTimeoutMs: 100,
		},
		Consumer: ConsumerConfig{
			BatchSize:     50,
			PollTimeoutMs: 1000,
			Breaker: BreakerConfig{
				Threshold:  5,
				CooldownMs: 60000,
			},
		},
		Processing: ProcessingConfig{
			Enabled:            true,
			IntervalMs:         1000,
			BatchMode:          true,
			QueueWarnThreshold: 500,
			DrainWorkers:       2,
		},
		Cache: CacheConfig{
			Items:           CacheEntryConfig{TTLSeconds: 2 * 60 * 60, MaxSize: 50000, RecordStats: true},
			ItemsWithPrices: CacheEntryConfig{TTLSeconds: 60 * 60, MaxSize: 20000, RecordStats: true},
			LatestPrices:    CacheEntryConfig{TTLSeconds: 5 * 60, MaxSize: 50000, RecordStats: true},
			Redis:           RedisConfig{Enabled: false, Addr: "localhost:6379"},
		},
		Storage: StorageConfig{
			MaxOpenConns:   10,
			TimeoutSeconds: 5,
		},
		Metrics: MetricsConfig{ListenAddr: ":9090"},
		Log:     LogConfig{Level: "info", Format: "console"},
		Protocol: ProtocolConfig{
			PriceListMessageID:           2010,
			CategoryDescriptionMessageID: 2011,
			CompressedContainerMessageID: 999,
			MaxDecompressionRatio:        64,
			DedupWindowMinutes:           10,
		},
	}
}

// Load reads and parses path, applying defaults for zero-valued
// fields absent from the file, then validates the result. Unknown
// keys in the YAML file are a load error (yaml.v3 KnownFields).
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

// Validate checks every bound in the enumerated configuration surface
// (spec §6); a violation is a fatal startup error, not a runtime
// surprise.
func (c Config) Validate() error {
	if c.Capture.Port < 1 || c.Capture.Port > 65535 {
		return fmt.Errorf("capture.port %d out of range [1,65535]", c.Capture.Port)
	}
	if c.Capture.SnapLen < 1500 {
		return fmt.Errorf("capture.snapLen %d below minimum 1500", c.Capture.SnapLen)
	}
	if c.Capture.TimeoutMs < 100 || c.Capture.TimeoutMs > 10000 {
		return fmt.Errorf("capture.timeoutMs %d out of range [100,10000]", c.Capture.TimeoutMs)
	}
	if c.Queue.Capacity < 10 || c.Queue.Capacity > 100000 {
		return fmt.Errorf("queue.capacity %d out of range [10,100000]", c.Queue.Capacity)
	}
	if c.Queue.OfferTimeoutMs < 10 || c.Queue.OfferTimeoutMs > 5000 {
		return fmt.Errorf("queue.offerTimeoutMs %d out of range [10,5000]", c.Queue.OfferTimeoutMs)
	}
	if c.Consumer.BatchSize < 1 {
		return fmt.Errorf("consumer.batchSize %d must be >= 1", c.Consumer.BatchSize)
	}
	if c.Consumer.PollTimeoutMs < 1 {
		return fmt.Errorf("consumer.pollTimeoutMs %d must be >= 1", c.Consumer.PollTimeoutMs)
	}
	if c.Consumer.Breaker.Threshold < 1 {
		return fmt.Errorf("consumer.breaker.threshold %d must be >= 1", c.Consumer.Breaker.Threshold)
	}
	if c.Processing.IntervalMs < 1 {
		return fmt.Errorf("processing.intervalMs %d must be >= 1", c.Processing.IntervalMs)
	}
	if c.Processing.QueueWarnThreshold < 0 {
		return fmt.Errorf("processing.queueWarnThreshold %d must be >= 0", c.Processing.QueueWarnThreshold)
	}
	return nil
}

// PollTimeout, OfferTimeout, Cooldown etc. expose the millisecond
// fields as time.Duration for component construction.
func (c ConsumerConfig) PollTimeout() time.Duration { return time.Duration(c.PollTimeoutMs) * time.Millisecond }
func (c BreakerConfig) Cooldown() time.Duration     { return time.Duration(c.CooldownMs) * time.Millisecond }
func (c QueueConfig) OfferTimeout() time.Duration   { return time.Duration(c.OfferTimeoutMs) * time.Millisecond }
func (c CaptureConfig) Timeout() time.Duration       { return time.Duration(c.TimeoutMs) * time.Millisecond }
func (c ProcessingConfig) Interval() time.Duration   { return time.Duration(c.IntervalMs) * time.Millisecond }
func (c CacheEntryConfig) TTL() time.Duration        { return time.Duration(c.TTLSeconds) * time.Second }
