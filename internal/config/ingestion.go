package config

import (
	"errors"
	"io/fs"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// IngestionConfig bounds what an upload may contain.
type IngestionConfig struct {
	OutputMin      float64 `mapstructure:"outputMin"`
	OutputMax      float64 `mapstructure:"outputMax"`
	MaxRows        int     `mapstructure:"maxRows"`
	MaxUploadBytes int64   `mapstructure:"maxUploadBytes"`
}

func DefaultIngestionConfig() IngestionConfig {
	return IngestionConfig{
		OutputMin:      -10,
		OutputMax:      2000,
		MaxRows:        1_000_000,
		MaxUploadBytes: 10 << 20,
	}
}

type IngestionConfigHolder struct {
	current atomic.Value // holds IngestionConfig
}

// NewIngestionConfigHolder looks for ingestion.yml in the usual config
// locations and keeps it hot-reloaded. A missing file yields the defaults.
func NewIngestionConfigHolder(log *zap.Logger) (*IngestionConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("ingestion")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/energyledger")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	return newIngestionConfigHolder(v, log)
}

// NewIngestionConfigHolderFromFile is like NewIngestionConfigHolder but reads
// an explicit file path.
func NewIngestionConfigHolderFromFile(path string, log *zap.Logger) (*IngestionConfigHolder, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yml")

	return newIngestionConfigHolder(v, log)
}

func newIngestionConfigHolder(v *viper.Viper, log *zap.Logger) (*IngestionConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}

	v.SetEnvPrefix("ENERGYLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultIngestionConfig()
	v.SetDefault("ingestion.outputMin", defaults.OutputMin)
	v.SetDefault("ingestion.outputMax", defaults.OutputMax)
	v.SetDefault("ingestion.maxRows", defaults.MaxRows)
	v.SetDefault("ingestion.maxUploadBytes", defaults.MaxUploadBytes)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		watch = false
	}

	cfg, err := decodeIngestionConfig(v)
	if err != nil {
		return nil, err
	}

	holder := &IngestionConfigHolder{}
	holder.current.Store(cfg)

	if !watch {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeIngestionConfig(v)
		if err != nil {
			log.Warn("ingestion config reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("ingestion config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticIngestionConfigHolder returns a holder that never reloads.
func NewStaticIngestionConfigHolder(cfg IngestionConfig) *IngestionConfigHolder {
	holder := &IngestionConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *IngestionConfigHolder) Get() IngestionConfig {
	return h.current.Load().(IngestionConfig)
}

func decodeIngestionConfig(v *viper.Viper) (IngestionConfig, error) {
	var cfg IngestionConfig
	if err := v.UnmarshalKey("ingestion", &cfg); err != nil {
		return IngestionConfig{}, err
	}
	if err := validateIngestionConfig(cfg); err != nil {
		return IngestionConfig{}, err
	}
	return cfg, nil
}

func validateIngestionConfig(cfg IngestionConfig) error {
	if cfg.OutputMin >= cfg.OutputMax {
		return errors.New("ingestion.outputMin must be lower than ingestion.outputMax")
	}
	if cfg.MaxRows <= 0 {
		return errors.New("ingestion.maxRows must be positive")
	}
	if cfg.MaxUploadBytes <= 0 {
		return errors.New("ingestion.maxUploadBytes must be positive")
	}
	return nil
}
