// =============================================================================
// 📦 RAGFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("RAGFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 RAGFlow 引擎的完整配置结构
type Config struct {
	// Engine 每轮管线配置
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`

	// Retrieval 检索配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Memory 会话记忆配置
	Memory MemoryConfig `yaml:"memory" env:"MEMORY"`

	// Tools 工具执行配置
	Tools ToolsConfig `yaml:"tools" env:"TOOLS"`

	// Ingest 文档入库队列配置
	Ingest IngestConfig `yaml:"ingest" env:"INGEST"`

	// LLM 模型提供方配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Redis 缓存 / 消息日志配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// EngineConfig 每轮管线配置
type EngineConfig struct {
	// 默认检索模式: auto, vector_only, graph_only, no_retrieval
	DefaultRetrievalMode string `yaml:"default_retrieval_mode" env:"DEFAULT_RETRIEVAL_MODE"`
	// 单轮超时
	TurnTimeout time.Duration `yaml:"turn_timeout" env:"TURN_TIMEOUT"`
	// 事件通道缓冲大小
	EventBuffer int `yaml:"event_buffer" env:"EVENT_BUFFER"`
}

// RetrievalConfig 检索配置
type RetrievalConfig struct {
	// 每个查询返回的最大文档数
	MaxDocsPerQuery int `yaml:"max_docs_per_query" env:"MAX_DOCS_PER_QUERY"`
	// 子问题扩展上限
	MaxSubquestions int `yaml:"max_subquestions" env:"MAX_SUBQUESTIONS"`
	// 图谱检索模式
	GraphMode string `yaml:"graph_mode" env:"GRAPH_MODE"`
}

// MemoryConfig 会话记忆配置
type MemoryConfig struct {
	// 触发压缩的对话条数阈值
	CompactThreshold int `yaml:"compact_threshold" env:"COMPACT_THRESHOLD"`
	// 压缩时保留的最近对话条数
	CompactKeep int `yaml:"compact_keep" env:"COMPACT_KEEP"`
	// 短期记忆窗口 (最近对话条数)
	ShortTermWindow int `yaml:"short_term_window" env:"SHORT_TERM_WINDOW"`
	// Token 预算, 超出时从最旧的短期对话开始丢弃
	TokenBudget int `yaml:"token_budget" env:"TOKEN_BUDGET"`
	// tiktoken 编码名
	Encoding string `yaml:"encoding" env:"ENCODING"`
}

// ToolsConfig 工具执行配置
type ToolsConfig struct {
	// 并发执行槽位数
	MaxConcurrent int `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	// 单次调用默认超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// IngestConfig 文档入库队列配置
type IngestConfig struct {
	// 并发处理上限
	MaxConcurrent int `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
}

// LLMConfig 模型提供方配置, 兼容 OpenAI 接口的端点均可用
type LLMConfig struct {
	// BaseURL 形如 https://api.deepseek.com
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// APIKey 鉴权密钥, 建议用环境变量 RAGFLOW_LLM_API_KEY 注入
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// Model 模型名
	Model string `yaml:"model" env:"MODEL"`
	// Timeout 单次调用超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// Temperature 采样温度
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, sqlite, memory
	Driver string `yaml:"driver" env:"DRIVER"`
	// DSN 连接串
	DSN string `yaml:"dsn" env:"DSN"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
}

// DefaultConfig 返回带默认值的完整配置
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			DefaultRetrievalMode: "auto",
			TurnTimeout:          120 * time.Second,
			EventBuffer:          64,
		},
		Retrieval: RetrievalConfig{
			MaxDocsPerQuery: 3,
			MaxSubquestions: 3,
			GraphMode:       "hybrid",
		},
		Memory: MemoryConfig{
			CompactThreshold: 12,
			CompactKeep:      8,
			ShortTermWindow:  10,
			TokenBudget:      4000,
			Encoding:         "cl100k_base",
		},
		Tools: ToolsConfig{
			MaxConcurrent: 5,
			Timeout:       30 * time.Second,
		},
		Ingest: IngestConfig{
			MaxConcurrent: 3,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.deepseek.com",
			Model:       "deepseek-chat",
			Timeout:     60 * time.Second,
			Temperature: 0.7,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
		},
		Database: DatabaseConfig{
			Driver:       "memory",
			MaxOpenConns: 10,
			MaxIdleConns: 2,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "RAGFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置合法性
func (c *Config) Validate() error {
	var errs []string
	if c.Retrieval.MaxDocsPerQuery <= 0 {
		errs = append(errs, "retrieval.max_docs_per_query must be positive")
	}
	if c.Memory.CompactKeep >= c.Memory.CompactThreshold {
		errs = append(errs, "memory.compact_keep must be less than memory.compact_threshold")
	}
	if c.Tools.MaxConcurrent <= 0 {
		errs = append(errs, "tools.max_concurrent must be positive")
	}
	if c.Ingest.MaxConcurrent <= 0 {
		errs = append(errs, "ingest.max_concurrent must be positive")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite", "redis", "memory":
	default:
		errs = append(errs, fmt.Sprintf("unknown database driver: %s", c.Database.Driver))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
