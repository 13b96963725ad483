// Package config owns the engine-level settings of the storage
// engine: chunking parameters, the default compression algorithm, the
// delta-chain walk limit, and the location of the global store
// directory. It deliberately does not parse the `.digstore`
// project-link file — that format belongs to an external consumer,
// per the engine's scope.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// CompressionAlg mirrors the layer header's compression_alg byte.
type CompressionAlg uint8

const (
	CompressionNone CompressionAlg = 0
	CompressionZstd CompressionAlg = 1
	CompressionLZ4  CompressionAlg = 2
)

// Config is the engine's tunable surface. Every field has a
// conservative default applied by Load even if no config source is
// present.
type Config struct {
	Chunk struct {
		MinSize uint32 `mapstructure:"min_size"`
		AvgSize uint32 `mapstructure:"avg_size"`
		MaxSize uint32 `mapstructure:"max_size"`
	} `mapstructure:"chunk"`

	Compression struct {
		Algorithm CompressionAlg `mapstructure:"algorithm"`
		MinRatio  float64        `mapstructure:"min_ratio"`
	} `mapstructure:"compression"`

	DeltaChainLimit int `mapstructure:"delta_chain_limit"`

	// FullLayerThreshold forces a Full layer instead of a Delta layer
	// once a commit introduces at least this many new chunks.
	FullLayerThreshold int `mapstructure:"full_layer_threshold"`
}

const (
	defaultMinSize  = 512 * 1024
	defaultAvgSize  = 1024 * 1024
	defaultMaxSize  = 4 * 1024 * 1024
	defaultMinRatio = 0.9
	defaultDeltaLim = 10
	// homeEnvVar lets a host relocate ~/.dig.
	homeEnvVar = "DIG_HOME"
)

var (
	cached    atomic.Value // *Config
	loadOnce  sync.Once
	loadErr   error
	writeMu   sync.Mutex
	debounce  *time.Timer
	debounceM sync.Mutex
)

func defaults() *Config {
	c := &Config{}
	c.Chunk.MinSize = defaultMinSize
	c.Chunk.AvgSize = defaultAvgSize
	c.Chunk.MaxSize = defaultMaxSize
	c.Compression.Algorithm = CompressionZstd
	c.Compression.MinRatio = defaultMinRatio
	c.DeltaChainLimit = defaultDeltaLim
	c.FullLayerThreshold = 0
	return c
}

// Init loads engine configuration from (in priority order)
// environment variables prefixed DIGSTORE_ (with "_" standing in for
// "." in nested keys), an optional config.yaml in the working
// directory, and finally hardcoded defaults. It is safe to call
// multiple times; only the first call does the work.
func Init() error {
	loadOnce.Do(func() {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		viper.SetEnvPrefix("DIGSTORE")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.AutomaticEnv()

		setViperDefaults()

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				loadErr = fmt.Errorf("config: reading config file: %w", err)
				return
			}
			// No config file is perfectly fine; defaults + env apply.
		}

		if err := reload(); err != nil {
			loadErr = err
			return
		}

		viper.WatchConfig()
		viper.OnConfigChange(func(fsnotify.Event) {
			debounceM.Lock()
			defer debounceM.Unlock()
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(300*time.Millisecond, func() {
				writeMu.Lock()
				defer writeMu.Unlock()
				_ = reload()
			})
		})
	})
	return loadErr
}

func setViperDefaults() {
	d := defaults()
	viper.SetDefault("chunk.min_size", d.Chunk.MinSize)
	viper.SetDefault("chunk.avg_size", d.Chunk.AvgSize)
	viper.SetDefault("chunk.max_size", d.Chunk.MaxSize)
	viper.SetDefault("compression.algorithm", d.Compression.Algorithm)
	viper.SetDefault("compression.min_ratio", d.Compression.MinRatio)
	viper.SetDefault("delta_chain_limit", d.DeltaChainLimit)
	viper.SetDefault("full_layer_threshold", d.FullLayerThreshold)
}

func reload() error {
	c := defaults()
	if err := viper.Unmarshal(c); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}
	cached.Store(c)
	return nil
}

// Get returns the process-wide configuration, initializing it with
// defaults on first use if Init was never called.
func Get() *Config {
	if c := cached.Load(); c != nil {
		return c.(*Config)
	}
	if err := Init(); err != nil {
		// Fall back to pure defaults rather than fail every caller;
		// Init's error remains available to anyone who checked it.
		return defaults()
	}
	return cached.Load().(*Config)
}

// HomeDir resolves the global store directory's parent: $DIG_HOME if
// set, otherwise the platform home directory joined with ".dig".
func HomeDir() (string, error) {
	if custom := os.Getenv(homeEnvVar); custom != "" {
		return custom, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolving home directory: %w", err)
	}
	return filepath.Join(home, ".dig"), nil
}

// StoreDir returns ~/.dig/{storeIDHex}, creating it if absent.
func StoreDir(storeIDHex string) (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, storeIDHex)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("config: creating store directory: %w", err)
	}
	return dir, nil
}
