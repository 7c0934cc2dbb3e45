package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load 加载配置
//  1. 加载 .env.{env}（敏感信息）
//  2. 根据 APP_ENV 加载 {env}.yaml
//  3. 环境变量覆盖
//  4. 填充默认值
func Load() *Config {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFiles(env)

	yamlCfg := loadYAMLConfig(env)
	return build(env, yamlCfg)
}

// build 由 YAML 配置和环境变量构建最终配置
func build(env Environment, yamlCfg *yamlConfigInternal) *Config {
	y := yamlCfg.YAMLConfig

	// 敏感信息只从环境变量读取
	y.Database.Password = firstEnv("DB_PASSWORD", "MONGO_ROOT_PASSWORD")
	y.Redis.Password = os.Getenv("REDIS_PASSWORD")
	y.MinIO.AccessKey = os.Getenv("MINIO_ROOT_USER")
	y.MinIO.SecretKey = os.Getenv("MINIO_ROOT_PASSWORD")
	for i := range y.Providers {
		key := "PROVIDER_" + strings.ToUpper(y.Providers[i].Type) + "_API_KEY"
		y.Providers[i].APIKey = os.Getenv(key)
	}

	databaseURL := getEnv("DATABASE_URL", "")
	driver := detectDatabaseDriver(y.Database.Driver, databaseURL)
	if databaseURL == "" {
		y.Database.Driver = driver
		databaseURL = buildDatabaseURL(y.Database, y.Database.Password)
	}

	cfg := &Config{
		Env:            env,
		DatabaseDriver: driver,
		DatabaseURL:    databaseURL,
		DatabaseDBName: getEnv("MONGO_DB_NAME", y.Database.Name),
		RedisURL:       getEnv("REDIS_URL", buildRedisURL(y.Redis)),
		EtcdEndpoints:  y.Etcd.Endpoints,
		EtcdPrefix:     y.Etcd.Prefix,
		EtcdTimeout:    y.Etcd.DialTimeout,
		Server:         y.Server,
		MinIO:          y.MinIO,
		Context:        y.Context,
		Routing:        y.Routing,
		CircuitBreaker: y.CircuitBreaker,
		Providers:      y.Providers,
		CustomRules:    y.CustomRules,
		Analytics:      y.Analytics,
		Log:            y.Log,
		ConfigFilePath: yamlCfg.loadedFrom,
	}

	cfg.applyEnvOverrides()
	cfg.validate()
	return cfg
}

// defaultYAMLConfig 代码内置默认值
func defaultYAMLConfig() YAMLConfig {
	return YAMLConfig{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "router",
			Name:    "chat_router",
			SSLMode: "disable",
		},
		Redis: RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		Etcd:  EtcdConfig{Prefix: "/chat-router", DialTimeout: 5 * time.Second},
		MinIO: MinIOConfig{Bucket: "conversation-archive"},
		Context: ContextConfig{
			CacheTTL:           24 * time.Hour,
			CheckpointInterval: 10,
			SessionTimeout:     30 * time.Minute,
			ContextTTL:         7 * 24 * time.Hour,
			SweepInterval:      time.Hour,
		},
		Routing: RoutingConfig{Strategy: "hybrid", FallbackEnabled: true},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			Timeout:          30 * time.Second,
			Recovery:         60 * time.Second,
		},
		Analytics: AnalyticsConfig{Enabled: true, Stream: "router:analytics", MaxLen: 100000},
		Log:       LogConfig{Level: "info", Format: "text", Output: "stdout"},
	}
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *yamlConfigInternal {
	cfg := &yamlConfigInternal{YAMLConfig: defaultYAMLConfig()}

	paths := effectiveConfigPaths()
	for _, name := range []string{"common.yaml", fmt.Sprintf("%s.yaml", env)} {
		for _, base := range paths {
			path := filepath.Join(base, name)
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			if err := yaml.Unmarshal(data, &cfg.YAMLConfig); err != nil {
				log.Printf("[Config] Failed to parse %s: %v", path, err)
				break
			}
			cfg.loadedFrom = path
			break
		}
	}
	return cfg
}

// applyEnvOverrides 环境变量覆盖 YAML 中的非敏感配置
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("ETCD_ENDPOINTS"); v != "" {
		c.EtcdEndpoints = splitList(v)
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		c.MinIO.Endpoint = v
	}
	if v := os.Getenv("ROUTING_STRATEGY"); v != "" {
		c.Routing.Strategy = v
	}
	if v, err := strconv.ParseBool(os.Getenv("FALLBACK_ENABLED")); err == nil {
		c.Routing.FallbackEnabled = v
	}
	if v, err := strconv.ParseBool(os.Getenv("CIRCUIT_BREAKER_ENABLED")); err == nil {
		c.CircuitBreaker.Enabled = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// validate 验证并填充默认值
func (c *Config) validate() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.EtcdPrefix == "" {
		c.EtcdPrefix = "/chat-router"
	}
	if c.EtcdTimeout <= 0 {
		c.EtcdTimeout = 5 * time.Second
	}
	if c.DatabaseDBName == "" {
		c.DatabaseDBName = "chat_router"
	}

	ctx := &c.Context
	if ctx.CacheTTL <= 0 {
		ctx.CacheTTL = 24 * time.Hour
	}
	if ctx.CheckpointInterval <= 0 {
		ctx.CheckpointInterval = 10
	}
	if ctx.SessionTimeout <= 0 {
		ctx.SessionTimeout = 30 * time.Minute
	}
	if ctx.SweepInterval <= 0 {
		ctx.SweepInterval = time.Hour
	}

	if c.Routing.Strategy == "" {
		c.Routing.Strategy = "hybrid"
	}

	cb := &c.CircuitBreaker
	if cb.FailureThreshold <= 0 {
		cb.FailureThreshold = 5
	}
	if cb.Timeout <= 0 {
		cb.Timeout = 30 * time.Second
	}
	if cb.Recovery <= 0 {
		cb.Recovery = 60 * time.Second
	}

	if len(c.Providers) == 0 {
		c.Providers = []ProviderConfig{
			{Type: "RULE_BASED", BaseURL: "http://localhost:5005"},
			{Type: "DIALOGUE", BaseURL: "http://localhost:5006"},
		}
	}
	for i := range c.Providers {
		p := &c.Providers[i]
		p.Type = strings.ToUpper(p.Type)
		if p.Timeout <= 0 {
			p.Timeout = 25 * time.Second
		}
		if p.HealthInterval <= 0 {
			p.HealthInterval = 30 * time.Second
		}
	}

	if c.Analytics.Stream == "" {
		c.Analytics.Stream = "router:analytics"
	}
	if c.Analytics.MaxLen <= 0 {
		c.Analytics.MaxLen = 100000
	}
}

// EtcdEnabled 是否启用 etcd 热更新
func (c *Config) EtcdEnabled() bool {
	return len(c.EtcdEndpoints) > 0
}

// ArchiveEnabled 是否启用 MinIO 归档
func (c *Config) ArchiveEnabled() bool {
	return c.MinIO.Endpoint != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
