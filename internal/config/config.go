package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Backend  BackendConfig
	Pipeline PipelineConfig
	Cache    CacheConfig
	Store    StoreConfig
	AI       AIConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	backend, err := loadBackendConfig()
	if err != nil {
		return nil, err
	}

	pipeline, err := loadPipelineConfig()
	if err != nil {
		return nil, err
	}

	cache, err := loadCacheConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Backend:  backend,
		Pipeline: pipeline,
		Cache:    cache,
		Store:    store,
		AI:       ai,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

// loadServerConfig 解析服务器监听地址与 CORS 白名单。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	origins := splitList(getEnvOrDefault("CORS_ORIGINS", "*"))

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, CORSOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, CORSOrigins: origins}, nil
}

// BackendConfig 描述远端聊天服务与用户服务。
type BackendConfig struct {
	ChatServiceURL string
	MoodServiceURL string
	UserID         string
	AccessToken    string
	ChatTimeout    time.Duration
	PhotoTimeout   time.Duration
	MoodTimeout    time.Duration
	ProfileTimeout time.Duration
}

func loadBackendConfig() (BackendConfig, error) {
	chatTimeout, err := parseMillisEnv("CHAT_TIMEOUT_MS", 15*time.Second)
	if err != nil {
		return BackendConfig{}, err
	}
	photoTimeout, err := parseMillisEnv("PHOTO_TIMEOUT_MS", 30*time.Second)
	if err != nil {
		return BackendConfig{}, err
	}
	moodTimeout, err := parseMillisEnv("MOOD_TIMEOUT_MS", 5*time.Second)
	if err != nil {
		return BackendConfig{}, err
	}
	profileTimeout, err := parseMillisEnv("PROFILE_TIMEOUT_MS", 5*time.Second)
	if err != nil {
		return BackendConfig{}, err
	}

	return BackendConfig{
		ChatServiceURL: strings.TrimRight(getEnvOrDefault("CHAT_SERVICE_URL", "http://localhost:8001/api/v1"), "/"),
		MoodServiceURL: strings.TrimRight(getEnvOrDefault("MOOD_SERVICE_URL", "http://localhost:8004/users"), "/"),
		UserID:         strings.TrimSpace(os.Getenv("USER_ID")),
		AccessToken:    strings.TrimSpace(os.Getenv("ACCESS_TOKEN")),
		ChatTimeout:    chatTimeout,
		PhotoTimeout:   photoTimeout,
		MoodTimeout:    moodTimeout,
		ProfileTimeout: profileTimeout,
	}, nil
}

// PipelineConfig 控制照片轮询与消息日志写入节奏。
type PipelineConfig struct {
	PollInitialDelay time.Duration
	PollInterval     time.Duration
	PollWindow       time.Duration
	LogFlushDelay    time.Duration
}

func loadPipelineConfig() (PipelineConfig, error) {
	initial, err := parseMillisEnv("POLL_INITIAL_DELAY_MS", time.Second)
	if err != nil {
		return PipelineConfig{}, err
	}
	interval, err := parseMillisEnv("POLL_INTERVAL_MS", 1500*time.Millisecond)
	if err != nil {
		return PipelineConfig{}, err
	}
	window, err := parseMillisEnv("POLL_WINDOW_MS", 25*time.Second)
	if err != nil {
		return PipelineConfig{}, err
	}
	flush, err := parseMillisEnv("LOG_FLUSH_DELAY_MS", 500*time.Millisecond)
	if err != nil {
		return PipelineConfig{}, err
	}

	if interval <= 0 || window <= 0 {
		return PipelineConfig{}, fmt.Errorf("POLL_INTERVAL_MS and POLL_WINDOW_MS must be positive")
	}

	return PipelineConfig{
		PollInitialDelay: initial,
		PollInterval:     interval,
		PollWindow:       window,
		LogFlushDelay:    flush,
	}, nil
}

// CacheConfig 描述各缓存项的 TTL 与日界时区。
type CacheConfig struct {
	ProfileTTL time.Duration
	MoodTTL    time.Duration
	Location   *time.Location
}

func loadCacheConfig() (CacheConfig, error) {
	profileTTL, err := parseMillisEnv("PROFILE_CACHE_TTL_MS", 10*time.Minute)
	if err != nil {
		return CacheConfig{}, err
	}
	moodTTL, err := parseMillisEnv("MOOD_CACHE_TTL_MS", 5*time.Minute)
	if err != nil {
		return CacheConfig{}, err
	}

	tz := getEnvOrDefault("TIMEZONE", "Asia/Colombo")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return CacheConfig{}, fmt.Errorf("invalid TIMEZONE value %q: %w", tz, err)
	}

	return CacheConfig{ProfileTTL: profileTTL, MoodTTL: moodTTL, Location: loc}, nil
}

// StoreConfig 描述本地持久化位置。
type StoreConfig struct {
	Path string
}

func loadStoreConfig() (StoreConfig, error) {
	return StoreConfig{Path: getEnvOrDefault("STORE_PATH", "./data/companion.db")}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey              string
	AccessKey           string
	SecretKey           string
	Model               string
	BaseURL             string
	Region              string
	Temperature         *float64
	TopP                *float64
	MaxTokens           *int
	EmotionLLMEnabled   bool
	EmotionHistoryLimit int
	EmotionTimeout      time.Duration
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	emotionEnabled, err := parseBoolEnv("AI_EMOTION_LLM_ENABLED", false)
	if err != nil {
		return AIConfig{}, err
	}

	emotionTimeout, err := parseMillisEnv("AI_EMOTION_TIMEOUT_MS", 3*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	emotionHistory := 6
	if historyOverride, err := parseOptionalIntEnv("AI_EMOTION_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if historyOverride != nil {
		if *historyOverride < 1 {
			emotionHistory = 1
		} else {
			emotionHistory = *historyOverride
		}
	}

	return AIConfig{
		APIKey:              strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:           strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:           strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:               strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:             getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:              getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:         temperature,
		TopP:                topP,
		MaxTokens:           maxTokens,
		EmotionLLMEnabled:   emotionEnabled,
		EmotionHistoryLimit: emotionHistory,
		EmotionTimeout:      emotionTimeout,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseMillisEnv 读取以毫秒为单位的时长，缺省时返回 defaultValue。
func parseMillisEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	ms, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if ms == nil {
		return defaultValue, nil
	}
	if *ms < 0 {
		return 0, fmt.Errorf("invalid %s value %d: must not be negative", key, *ms)
	}
	return time.Duration(*ms) * time.Millisecond, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
