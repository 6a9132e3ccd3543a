// Package config 加载服务与训练配置
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"scorecard/logging"
	"scorecard/ml"
)

// 模型来源
const (
	SourceFile    = "file"
	SourceBuiltin = "builtin"
)

// Config 全部配置
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Log      logging.Config `yaml:"log"`
	Model    ModelConfig    `yaml:"model"`
	Cache    CacheConfig    `yaml:"cache"`
	Database DatabaseConfig `yaml:"database"`
	Training TrainingConfig `yaml:"training"`
}

// HTTPConfig HTTP服务配置
type HTTPConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

// ModelConfig 模型加载配置
type ModelConfig struct {
	Source     string `yaml:"source"`
	Path       string `yaml:"path"`
	RiskScheme string `yaml:"risk_scheme"`
	Watch      bool   `yaml:"watch"`
}

// CacheConfig 预测结果缓存，Size 为 0 时关闭
type CacheConfig struct {
	Size int `yaml:"size"`
}

// DatabaseConfig 数据库配置，Path 为空时不记录训练历史
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TrainingConfig 训练配置
type TrainingConfig struct {
	ml.FitConfig `yaml:",inline"`
	Encoding     string `yaml:"encoding"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:           8000,
			Timeout:        30 * time.Second,
			AllowedOrigins: []string{"*"},
			MaxBodyBytes:   1 << 20,
		},
		Log: logging.DefaultConfig(),
		Model: ModelConfig{
			Source: SourceFile,
			Path:   "models/scorecard.json",
			Watch:  true,
		},
		Cache:    CacheConfig{Size: 1024},
		Database: DatabaseConfig{Path: "data/scorecard.db"},
		Training: TrainingConfig{FitConfig: ml.DefaultFitConfig(), Encoding: "utf-8"},
	}
}

// Load 读取 .env、YAML 文件和环境变量；path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 环境变量覆盖
func (c *Config) applyEnv() error {
	if v := os.Getenv("SCORECARD_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SCORECARD_PORT: %w", err)
		}
		c.HTTP.Port = port
	}
	c.Model.Path = getEnv("SCORECARD_MODEL_PATH", c.Model.Path)
	c.Model.Source = getEnv("SCORECARD_MODEL_SOURCE", c.Model.Source)
	c.Model.RiskScheme = getEnv("SCORECARD_RISK_SCHEME", c.Model.RiskScheme)
	c.Log.Level = getEnv("SCORECARD_LOG_LEVEL", c.Log.Level)
	c.Database.Path = getEnv("SCORECARD_DB_PATH", c.Database.Path)
	return nil
}

// Validate 校验配置，一次返回全部问题
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port must be in 1..65535, got %d", c.HTTP.Port))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be positive"))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be positive"))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Model.Source {
	case SourceFile:
		if c.Model.Path == "" {
			errs = append(errs, errors.New("model.path is required when model.source is file"))
		}
	case SourceBuiltin:
	default:
		errs = append(errs, fmt.Errorf("model.source must be %s or %s, got %q", SourceFile, SourceBuiltin, c.Model.Source))
	}
	if c.Model.RiskScheme != "" {
		if _, err := ml.SchemeByName(c.Model.RiskScheme); err != nil {
			errs = append(errs, fmt.Errorf("model.risk_scheme: %w", err))
		}
	}
	if c.Cache.Size < 0 {
		errs = append(errs, errors.New("cache.size cannot be negative"))
	}

	t := c.Training
	if t.MaxBins < 2 {
		errs = append(errs, fmt.Errorf("training.max_bins must be at least 2, got %d", t.MaxBins))
	}
	if t.IVThreshold < 0 {
		errs = append(errs, errors.New("training.iv_threshold cannot be negative"))
	}
	if t.TestRatio <= 0 || t.TestRatio >= 1 {
		errs = append(errs, fmt.Errorf("training.test_ratio must be in (0, 1), got %v", t.TestRatio))
	}
	if len(t.Continuous)+len(t.Categorical) == 0 {
		errs = append(errs, errors.New("training needs at least one feature"))
	}
	if err := t.Scoring.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("training.scoring: %w", err))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
