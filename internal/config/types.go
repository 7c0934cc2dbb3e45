// Package config 统一配置管理
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell/systemd 注入）
//  2. YAML 配置文件（{env}.yaml，如 dev.yaml、test.yaml、prod.yaml）
//  3. 代码硬编码默认值
//
// 凭据单一数据源：
//
//	密码/密钥只存在 .env 文件中（YAML 中不存储任何密码）。
//
// 配置路径确定策略：
//  1. --config 命令行参数（显式路径）
//  2. CONFIG_DIR 环境变量
//  3. 按 APP_ENV 选择默认路径：
//     - prod → /etc/chat-router/
//     - dev/test → ./configs/
//
// 路由策略、fallback 开关和熔断器开关可以通过 etcd 热更新，见 storage/etcd。
package config

import "time"

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test" // 测试环境（集成测试 + E2E 共用）
	EnvDevelopment Environment = "dev"
)

// YAMLConfig YAML 配置文件结构
type YAMLConfig struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	Etcd           EtcdConfig           `yaml:"etcd"`
	MinIO          MinIOConfig          `yaml:"minio"`
	Context        ContextConfig        `yaml:"context"`
	Routing        RoutingConfig        `yaml:"routing"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Providers      []ProviderConfig     `yaml:"providers"`
	CustomRules    []RuleConfig         `yaml:"custom_rules"`
	Analytics      AnalyticsConfig      `yaml:"analytics"`
	Log            LogConfig            `yaml:"log"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "postgres", "sqlite", or "mongodb"
	Path     string `yaml:"path"`   // SQLite 文件路径
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // 只从环境变量读取（DB_PASSWORD / MONGO_ROOT_PASSWORD）
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	URI      string `yaml:"uri"` // MongoDB 连接 URI（优先于 host/port）
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"`   // 只从 REDIS_PASSWORD 环境变量读取
	URL      string `yaml:"url"` // 直接指定 URL（优先于 host/port/db）
}

// EtcdConfig 路由配置热更新，Endpoints 为空时不启用
type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	Prefix      string        `yaml:"prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// MinIOConfig 过期上下文归档，Endpoint 为空时不启用
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"` // 例如 localhost:9000
	AccessKey string `yaml:"-"`        // 只从 MINIO_ROOT_USER 环境变量读取
	SecretKey string `yaml:"-"`        // 只从 MINIO_ROOT_PASSWORD 环境变量读取
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

// ContextConfig 会话上下文存储配置
type ContextConfig struct {
	CacheTTL           time.Duration `yaml:"cache_ttl"`           // 缓存层 TTL
	CheckpointInterval int           `yaml:"checkpoint_interval"` // 每 N 次更新写一次持久层
	SessionTimeout     time.Duration `yaml:"session_timeout"`     // 空闲超过该时长开始新会话
	ContextTTL         time.Duration `yaml:"context_ttl"`         // expires_at = last_activity + ContextTTL，0 表示不过期
	SweepInterval      time.Duration `yaml:"sweep_interval"`      // 持久层过期清理周期
}

// RoutingConfig 路由配置（可热更新）
type RoutingConfig struct {
	Strategy        string `yaml:"strategy"`
	FallbackEnabled bool   `yaml:"fallback_enabled"`
}

// CircuitBreakerConfig 熔断器配置
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`  // provider 调用默认超时
	Recovery         time.Duration `yaml:"recovery"` // OPEN → HALF_OPEN 等待时长
}

// ProviderConfig 后端 provider 配置
type ProviderConfig struct {
	Type           string        `yaml:"type"` // RULE_BASED / DIALOGUE
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"-"` // 只从 PROVIDER_{TYPE}_API_KEY 环境变量读取
	Timeout        time.Duration `yaml:"timeout"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

// RuleConfig 租户自定义规则
type RuleConfig struct {
	Name         string   `yaml:"name"`
	TenantID     string   `yaml:"tenant_id"` // 空表示所有租户
	Intents      []string `yaml:"intents"`
	Keywords     []string `yaml:"keywords"`
	Response     string   `yaml:"response"` // text/template，数据为会话上下文
	QuickReplies []string `yaml:"quick_replies"`
	Escalate     bool     `yaml:"escalate"`
	Priority     int      `yaml:"priority"`
}

// AnalyticsConfig 分析事件（Redis Streams）
type AnalyticsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Stream  string `yaml:"stream"`
	MaxLen  int64  `yaml:"max_len"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	DatabaseDriver string // "postgres", "sqlite", or "mongodb"
	DatabaseURL    string
	DatabaseDBName string // MongoDB 数据库名称
	RedisURL       string
	EtcdEndpoints  []string
	EtcdPrefix     string
	EtcdTimeout    time.Duration
	Server         ServerConfig
	MinIO          MinIOConfig
	Context        ContextConfig
	Routing        RoutingConfig
	CircuitBreaker CircuitBreakerConfig
	Providers      []ProviderConfig
	CustomRules    []RuleConfig
	Analytics      AnalyticsConfig
	Log            LogConfig
	ConfigFilePath string // 实际加载的配置文件路径
}

// yamlConfigInternal 内部包装，记录配置文件来源（不参与 YAML 序列化）
type yamlConfigInternal struct {
	YAMLConfig `yaml:",inline"`
	loadedFrom string
}
