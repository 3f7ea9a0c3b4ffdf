package config

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ConsensusConfig is the main consensus-gateway/worker configuration,
// grounded on the teacher's ShannonConfig: one struct per subsystem, loaded
// from YAML/JSON via ConfigManager and hot-reloaded through
// ConsensusConfigManager's per-section update methods.
type ConsensusConfig struct {
	Service ServiceConfig `json:"service" yaml:"service"`
	Auth    AuthConfig    `json:"auth" yaml:"auth"`
	Gateway GatewayAPIConfig `json:"gateway" yaml:"gateway"`

	CircuitBreakers CircuitBreakersConfig `json:"circuit_breakers" yaml:"circuit_breakers"`
	Health          HealthConfig          `json:"health" yaml:"health"`

	Temporal TemporalConfig `json:"temporal" yaml:"temporal"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Policy   PolicyConfig   `json:"policy" yaml:"policy"`
	Tracing  TracingConfig  `json:"tracing" yaml:"tracing"`
	Streaming StreamingConfig `json:"streaming" yaml:"streaming"`

	Budget BudgetLimitsConfig `json:"budget" yaml:"budget"`
	Usage  UsageLimitsConfig  `json:"usage" yaml:"usage"`
}

// AuthConfig contains bearer-token authentication configuration.
type AuthConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	JWTSecret      string        `json:"jwt_secret" yaml:"jwt_secret"`
	TokenTTL       time.Duration `json:"token_ttl" yaml:"token_ttl"`
	SkipAuthRoutes []string      `json:"skip_auth_routes" yaml:"skip_auth_routes"`
}

// ServiceConfig contains basic service identity/network settings.
type ServiceConfig struct {
	Name string `json:"name" yaml:"name"`
	Port int    `json:"port" yaml:"port"`
}

// GatewayAPIConfig holds the OpenRouter-compatible upstream gateway's
// connection settings (spec.md §4.A).
type GatewayAPIConfig struct {
	BaseURL        string        `json:"base_url" yaml:"base_url"`
	APIKeyEnv      string        `json:"api_key_env" yaml:"api_key_env"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
	MaxRetries     int           `json:"max_retries" yaml:"max_retries"`
}

// CircuitBreakersConfig holds named circuit breaker profiles, one per
// external dependency class (upstream models, database, redis).
type CircuitBreakersConfig struct {
	Upstream CircuitBreakerConfig `json:"upstream" yaml:"upstream"`
	Database CircuitBreakerConfig `json:"database" yaml:"database"`
	Redis    CircuitBreakerConfig `json:"redis" yaml:"redis"`
}

// CircuitBreakerConfig contains circuit breaker thresholds for one
// dependency.
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold" yaml:"success_threshold"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`
	MaxRequests      uint32        `json:"max_requests" yaml:"max_requests"`
}

// HealthConfig contains health check endpoint configuration.
type HealthConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`
	Checks        HealthCheckConfig `json:"checks" yaml:"checks"`
}

// HealthCheckConfig toggles individual health checks.
type HealthCheckConfig struct {
	Database bool `json:"database" yaml:"database"`
	Redis    bool `json:"redis" yaml:"redis"`
	Temporal bool `json:"temporal" yaml:"temporal"`
	Upstream bool `json:"upstream" yaml:"upstream"`
}

// TemporalConfig contains Temporal workflow engine connection settings.
type TemporalConfig struct {
	HostPort     string            `json:"host_port" yaml:"host_port"`
	Namespace    string            `json:"namespace" yaml:"namespace"`
	TaskQueue    string            `json:"task_queue" yaml:"task_queue"`
	RetryPolicy  RetryPolicyConfig `json:"retry_policy" yaml:"retry_policy"`
}

// RetryPolicyConfig mirrors temporal.RetryPolicy's tunables.
type RetryPolicyConfig struct {
	InitialInterval    time.Duration `json:"initial_interval" yaml:"initial_interval"`
	BackoffCoefficient float64       `json:"backoff_coefficient" yaml:"backoff_coefficient"`
	MaximumInterval    time.Duration `json:"maximum_interval" yaml:"maximum_interval"`
	MaximumAttempts    int32         `json:"maximum_attempts" yaml:"maximum_attempts"`
}

// LoggingConfig contains structured logging configuration.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"`
	OutputPath string `json:"output_path" yaml:"output_path"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	ServiceName string  `json:"service_name" yaml:"service_name"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
}

// StreamingConfig configures the consensus event bus (spec.md §4.G).
type StreamingConfig struct {
	RedisAddr        string        `json:"redis_addr" yaml:"redis_addr"`
	SubscriberBuffer int           `json:"subscriber_buffer" yaml:"subscriber_buffer"`
	ChunkThrottle    time.Duration `json:"chunk_throttle" yaml:"chunk_throttle"`
	StreamMaxLen     int64         `json:"stream_max_len" yaml:"stream_max_len"`
	StreamTTL        time.Duration `json:"stream_ttl" yaml:"stream_ttl"`
}

// BudgetLimitsConfig configures the cost tracker (spec.md §4.B).
type BudgetLimitsConfig struct {
	PriceTablePath string  `json:"price_table_path" yaml:"price_table_path"`
	DailyLimitUSD  float64 `json:"daily_limit_usd" yaml:"daily_limit_usd"`
	MonthlyLimitUSD float64 `json:"monthly_limit_usd" yaml:"monthly_limit_usd"`
}

// UsageLimitsConfig configures the usage tracker (spec.md §4.D).
type UsageLimitsConfig struct {
	TrialDurationDays int `json:"trial_duration_days" yaml:"trial_duration_days"`
}

// PolicyConfig contains OPA policy engine configuration (rescoped to
// admission: usage/budget gating before a conversation starts).
type PolicyConfig struct {
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	PolicyDir   string            `json:"policy_dir" yaml:"policy_dir"`
	DefaultDeny bool              `json:"default_deny" yaml:"default_deny"`
	Audit       PolicyAuditConfig `json:"audit" yaml:"audit"`
}

// PolicyAuditConfig toggles policy-decision audit logging.
type PolicyAuditConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// DefaultConsensusConfig returns the zero-config defaults used when no
// config file is present, mirroring the teacher's DefaultShannonConfig.
func DefaultConsensusConfig() *ConsensusConfig {
	return &ConsensusConfig{
		Service: ServiceConfig{Name: "consensus-gateway", Port: 8080},
		Auth: AuthConfig{
			Enabled:  true,
			TokenTTL: 24 * time.Hour,
		},
		Gateway: GatewayAPIConfig{
			BaseURL:        "https://openrouter.ai/api/v1",
			APIKeyEnv:      "OPENROUTER_API_KEY",
			RequestTimeout: 120 * time.Second,
			MaxRetries:     3,
		},
		CircuitBreakers: CircuitBreakersConfig{
			Upstream: CircuitBreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 60 * time.Second, MaxRequests: 1},
			Database: CircuitBreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 30 * time.Second, MaxRequests: 1},
			Redis:    CircuitBreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 30 * time.Second, MaxRequests: 1},
		},
		Health: HealthConfig{
			Enabled:       true,
			CheckInterval: 30 * time.Second,
			Checks:        HealthCheckConfig{Database: true, Redis: true, Temporal: true, Upstream: true},
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "consensus-pipeline",
			RetryPolicy: RetryPolicyConfig{
				InitialInterval:    time.Second,
				BackoffCoefficient: 2.0,
				MaximumInterval:    100 * time.Second,
				MaximumAttempts:    3,
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", OutputPath: "stdout"},
		Policy: PolicyConfig{
			Enabled:     true,
			PolicyDir:   "config/policies",
			DefaultDeny: false,
			Audit:       PolicyAuditConfig{Enabled: true},
		},
		Tracing: TracingConfig{Enabled: false, ServiceName: "consensus-gateway", SampleRate: 0.1},
		Streaming: StreamingConfig{
			SubscriberBuffer: 100,
			ChunkThrottle:    100 * time.Millisecond,
			StreamMaxLen:     1000,
			StreamTTL:        time.Hour,
		},
		Budget: BudgetLimitsConfig{PriceTablePath: "config/model_pricing.yaml"},
		Usage:  UsageLimitsConfig{TrialDurationDays: 7},
	}
}

// ValidateConsensusConfig performs sanity checks on a loaded config map
// before it is unmarshalled into ConsensusConfig, mirroring the teacher's
// ValidateShannonConfig map-walking style.
func ValidateConsensusConfig(config map[string]interface{}) error {
	if gateway, ok := config["gateway"].(map[string]interface{}); ok {
		if baseURL, ok := gateway["base_url"].(string); ok && baseURL == "" {
			return fmt.Errorf("gateway.base_url cannot be empty")
		}
	}
	if temporal, ok := config["temporal"].(map[string]interface{}); ok {
		if hostPort, ok := temporal["host_port"].(string); ok && hostPort == "" {
			return fmt.Errorf("temporal.host_port cannot be empty")
		}
	}
	return nil
}

// ConfigurationCallback is invoked after a hot-reloaded config section
// changes value.
type ConfigurationCallback func(oldConfig, newConfig *ConsensusConfig) error

// ConsensusConfigManager wraps ConfigManager with typed access to
// ConsensusConfig and per-section hot-reload handling.
type ConsensusConfigManager struct {
	manager   *ConfigManager
	config    *ConsensusConfig
	logger    *zap.Logger
	callbacks []ConfigurationCallback
}

// NewConsensusConfigManager builds a manager around an existing generic
// ConfigManager.
func NewConsensusConfigManager(configManager *ConfigManager, logger *zap.Logger) (*ConsensusConfigManager, error) {
	if configManager == nil {
		return nil, fmt.Errorf("config manager cannot be nil")
	}
	return &ConsensusConfigManager{
		manager: configManager,
		config:  DefaultConsensusConfig(),
		logger:  logger,
	}, nil
}

// GetConfig returns the current resolved configuration.
func (ccm *ConsensusConfigManager) GetConfig() *ConsensusConfig {
	return ccm.config
}

// Initialize registers the change handler with the underlying
// ConfigManager so future file edits are hot-reloaded.
func (ccm *ConsensusConfigManager) Initialize() error {
	ccm.manager.RegisterHandler("consensus", ccm.handleConfigChange)
	return nil
}

// RegisterCallback registers a function invoked after every hot reload.
func (ccm *ConsensusConfigManager) RegisterCallback(callback ConfigurationCallback) {
	ccm.callbacks = append(ccm.callbacks, callback)
}

func (ccm *ConsensusConfigManager) handleConfigChange(event ChangeEvent) error {
	old := ccm.config
	updated := *old

	if cb, ok := event.Config["circuit_breakers"].(map[string]interface{}); ok {
		ccm.updateCircuitBreakerConfig(cb, &updated.CircuitBreakers)
	}
	if auth, ok := event.Config["auth"].(map[string]interface{}); ok {
		ccm.updateAuthConfig(auth, &updated.Auth)
	}
	if logging, ok := event.Config["logging"].(map[string]interface{}); ok {
		ccm.updateLoggingConfig(logging, &updated.Logging)
	}
	if policy, ok := event.Config["policy"].(map[string]interface{}); ok {
		ccm.updatePolicyConfig(policy, &updated.Policy)
	}

	ccm.config = &updated
	ccm.triggerCallbacks(old, ccm.config)
	return nil
}

func (ccm *ConsensusConfigManager) updateCircuitBreakerConfig(cbMap map[string]interface{}, config *CircuitBreakersConfig) {
	if upstream, ok := cbMap["upstream"].(map[string]interface{}); ok {
		ccm.updateSingleCircuitBreakerConfig(upstream, &config.Upstream)
	}
	if database, ok := cbMap["database"].(map[string]interface{}); ok {
		ccm.updateSingleCircuitBreakerConfig(database, &config.Database)
	}
	if redis, ok := cbMap["redis"].(map[string]interface{}); ok {
		ccm.updateSingleCircuitBreakerConfig(redis, &config.Redis)
	}
}

func (ccm *ConsensusConfigManager) updateSingleCircuitBreakerConfig(m map[string]interface{}, config *CircuitBreakerConfig) {
	if v, ok := m["failure_threshold"].(int); ok {
		config.FailureThreshold = v
	}
	if v, ok := m["success_threshold"].(int); ok {
		config.SuccessThreshold = v
	}
	if v, ok := m["timeout_seconds"].(int); ok {
		config.Timeout = time.Duration(v) * time.Second
	}
}

func (ccm *ConsensusConfigManager) updateAuthConfig(authMap map[string]interface{}, config *AuthConfig) {
	if v, ok := authMap["enabled"].(bool); ok {
		config.Enabled = v
	}
	if v, ok := authMap["jwt_secret"].(string); ok && v != "" {
		config.JWTSecret = v
	}
}

func (ccm *ConsensusConfigManager) updateLoggingConfig(loggingMap map[string]interface{}, config *LoggingConfig) {
	if v, ok := loggingMap["level"].(string); ok && v != "" {
		config.Level = v
	}
	if v, ok := loggingMap["format"].(string); ok && v != "" {
		config.Format = v
	}
}

func (ccm *ConsensusConfigManager) updatePolicyConfig(policyMap map[string]interface{}, config *PolicyConfig) {
	if v, ok := policyMap["enabled"].(bool); ok {
		config.Enabled = v
	}
	if v, ok := policyMap["default_deny"].(bool); ok {
		config.DefaultDeny = v
	}
}

func (ccm *ConsensusConfigManager) triggerCallbacks(oldConfig, newConfig *ConsensusConfig) {
	for _, cb := range ccm.callbacks {
		if err := cb(oldConfig, newConfig); err != nil && ccm.logger != nil {
			ccm.logger.Error("config reload callback failed", zap.Error(err))
		}
	}
}
