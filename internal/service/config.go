package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"App"`
	Signal     SignalConfig     `mapstructure:"Signal"`
	MarketData MarketDataConfig `mapstructure:"MarketData"`
	Execution  ExecutionConfig  `mapstructure:"Execution"`
}

// AppConfig 定义了进程级别的参数
type AppConfig struct {
	Name       string
	LogLevel   string
	ListenAddr string
}

// SignalConfig 定义了信号生成的默认参数
type SignalConfig struct {
	DefaultSymbol    string
	DefaultTimeframe string
	Model            ModelConfig
}

// ModelConfig 定义了分类器的训练参数
type ModelConfig struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Dropout      float64
	Seed         int64 // 0 表示每次按时钟取种子
	TrainTimeout time.Duration
}

// MarketDataConfig 定义了行情数据源
type MarketDataConfig struct {
	Provider           string
	AlphaVantageAPIKey string
	BaseURL            string
	OutputSize         string // compact 或 full
	Timeout            time.Duration
}

// ExecutionConfig 定义了执行链路，未配置的后端不会被构建
type ExecutionConfig struct {
	Primary        PrimaryConfig
	Webhook        WebhookConfig
	DefaultLotSize float64
	AutoTrade      bool
}

// PrimaryConfig 定义了 MetaTrader 桥接服务的连接信息
type PrimaryConfig struct {
	Token     string
	AccountID string
	URL       string
	Comment   string
	Timeout   time.Duration
}

// Enabled 仅当凭证齐全时主通道才参与执行
func (p PrimaryConfig) Enabled() bool {
	return p.Token != "" && p.AccountID != ""
}

type WebhookConfig struct {
	URL     string
	Timeout time.Duration
}

func (w WebhookConfig) Enabled() bool {
	return w.URL != ""
}

// 环境变量到配置键的映射
var envBindings = map[string]string{
	"App.LogLevel":                  "LOG_LEVEL",
	"App.ListenAddr":                "LISTEN_ADDR",
	"MarketData.AlphaVantageAPIKey": "ALPHA_VANTAGE_API_KEY",
	"Execution.Primary.Token":       "METAAPI_TOKEN",
	"Execution.Primary.AccountID":   "METAAPI_ACCOUNT_ID",
	"Execution.Primary.URL":         "METAAPI_URL",
	"Execution.Webhook.URL":         "TRADE_WEBHOOK_URL",
	"Execution.DefaultLotSize":      "DEFAULT_LOT_SIZE",
	"Execution.AutoTrade":           "AUTO_TRADE_ENABLED",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("App.Name", "fx-signal-trader")
	v.SetDefault("App.LogLevel", "info")
	v.SetDefault("App.ListenAddr", ":8080")

	v.SetDefault("Signal.DefaultSymbol", "EURUSD")
	v.SetDefault("Signal.DefaultTimeframe", "5min")
	v.SetDefault("Signal.Model.Epochs", 20)
	v.SetDefault("Signal.Model.BatchSize", 16)
	v.SetDefault("Signal.Model.LearningRate", 0.01)
	v.SetDefault("Signal.Model.Dropout", 0.2)
	v.SetDefault("Signal.Model.Seed", 0)
	v.SetDefault("Signal.Model.TrainTimeout", "10s")

	v.SetDefault("MarketData.Provider", "alphavantage")
	v.SetDefault("MarketData.BaseURL", "https://www.alphavantage.co/query")
	v.SetDefault("MarketData.OutputSize", "compact")
	v.SetDefault("MarketData.Timeout", "10s")

	v.SetDefault("Execution.Primary.URL", "wss://mt-client-api-v1.agiliumtrade.ai/ws")
	v.SetDefault("Execution.Primary.Comment", "agentic-bot")
	v.SetDefault("Execution.Primary.Timeout", "30s")
	v.SetDefault("Execution.Webhook.Timeout", "10s")
	v.SetDefault("Execution.DefaultLotSize", 0.1)
	v.SetDefault("Execution.AutoTrade", false)
}

// LoadConfig 读取并解析配置文件, 配置文件缺失时只使用默认值和环境变量
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件的名称、类型和路径
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	return &cfg, nil
}
