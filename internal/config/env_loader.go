package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load 从环境变量构建配置。
// Load builds the configuration from environment variables.
func Load() *Config {
	cfg := defaults()
	applyEnv(cfg)
	return cfg
}

// LoadWithFile 先读可选 YAML 文件，再让环境变量覆盖。
// LoadWithFile reads an optional YAML file first, then lets env override it.
func LoadWithFile(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getenv("GATEWAY_PORT", getenv("PORT", cfg.Port))
	cfg.BasePath = normalizeBasePath(getenv("GATEWAY_BASE_PATH", cfg.BasePath))
	cfg.Debug = getenvBool("DEBUG", cfg.Debug)
	cfg.LogFile = getenv("LOG_FILE", cfg.LogFile)

	cfg.RateLimitEnabled = getenvBool("RATE_LIMIT_ENABLED", cfg.RateLimitEnabled)
	setIntFromEnv(&cfg.RateLimitRPS, "RATE_LIMIT_RPS")
	setIntFromEnv(&cfg.RateLimitBurst, "RATE_LIMIT_BURST")

	cfg.PostgresDSN = getenv("POSTGRES_DSN", cfg.PostgresDSN)

	cfg.DifyBaseURL = getenv("DIFY_BASE_URL", cfg.DifyBaseURL)
	cfg.DifyAPIKey = firstNonEmpty(os.Getenv("DIFY_API_KEY"), os.Getenv("DIFY_WORKFLOW_API_KEY"), cfg.DifyAPIKey)
	cfg.DifyWorkflowRunURL = getenv("DIFY_WORKFLOW_RUN_URL", cfg.DifyWorkflowRunURL)
	cfg.DifyWorkflowID = getenv("DIFY_WORKFLOW_ID_ANCHOR", cfg.DifyWorkflowID)
	setSecondsFromEnv(&cfg.DifyTimeout, "DIFY_TIMEOUT_SECS")

	cfg.MCPProtocolVersion = getenv("MCP_PROTOCOL_VERSION", cfg.MCPProtocolVersion)
	setIntFromEnv(&cfg.CtxMax, "ANCHOR_SNIP_MAX")
	cfg.GatewayCtxDebug = getenvBool("GATEWAY_CTX_DEBUG", cfg.GatewayCtxDebug)
	setIntFromEnv(&cfg.RetrievalTopN, "RETRIEVAL_TOP_N")
	cfg.RetrievalProfileVersion = getenv("RETRIEVAL_PROFILE_VERSION", cfg.RetrievalProfileVersion)
	setSecondsFromEnv(&cfg.CacheTTL, "GATEWAY_CTX_CACHE_TTL")
	setIntFromEnv(&cfg.CacheMax, "GATEWAY_CTX_CACHE_MAX")
	cfg.GarbledKwRepairEnabled = getenvBool("GARBLED_KW_REPAIR_ENABLED", cfg.GarbledKwRepairEnabled)

	cfg.UpstreamBaseURL = getenv("UPSTREAM_BASE_URL", cfg.UpstreamBaseURL)
	cfg.UpstreamAPIKey = getenv("UPSTREAM_API_KEY", cfg.UpstreamAPIKey)
	cfg.OpenRouterReferer = getenv("OPENROUTER_HTTP_REFERER", cfg.OpenRouterReferer)
	cfg.OpenRouterTitle = getenv("OPENROUTER_X_TITLE", cfg.OpenRouterTitle)
	cfg.ForceGatewayEveryTurn = getenvBool("FORCE_GATEWAY_EVERY_TURN", cfg.ForceGatewayEveryTurn)
	cfg.AnchorInjectEnabled = getenvBool("ANCHOR_INJECT_ENABLED", cfg.AnchorInjectEnabled)
	cfg.GatewayCtxUser = getenv("GATEWAY_CTX_USER", cfg.GatewayCtxUser)
	cfg.WriterMode = strings.ToLower(getenv("WRITER_MODE", cfg.WriterMode))
	cfg.ToolEmptyContentCompat = getenvBool("TOOL_EMPTY_CONTENT_COMPAT", cfg.ToolEmptyContentCompat)
	cfg.ToolEmptyContentPlaceholder = getenv("TOOL_EMPTY_CONTENT_PLACEHOLDER", cfg.ToolEmptyContentPlaceholder)
	cfg.LocalMCPGatewayURL = getenv("LOCAL_MCP_GATEWAY_URL", cfg.LocalMCPGatewayURL)
	setSecondsFromEnv(&cfg.LocalMCPTimeout, "LOCAL_MCP_TIMEOUT")
	cfg.ProxyDebugEcho = getenvBool("OPENAI_PROXY_DEBUG_ECHO", cfg.ProxyDebugEcho)
	cfg.MemoryIDDefault = getenv("MEMORY_ID_DEFAULT", cfg.MemoryIDDefault)
	cfg.AgentIDDefault = getenv("AGENT_ID_DEFAULT", cfg.AgentIDDefault)

	cfg.SummarizerBaseURL = getenv("SUMMARIZER_BASE_URL", cfg.SummarizerBaseURL)
	cfg.SummarizerAPIKey = getenv("SUMMARIZER_API_KEY", cfg.SummarizerAPIKey)
	cfg.SummarizerModel = getenv("SUMMARIZER_MODEL", cfg.SummarizerModel)
	setIntFromEnv(&cfg.S4EveryUserTurns, "S4_EVERY_USER_TURNS")
	setIntFromEnv(&cfg.S60EveryUserTurns, "S60_EVERY_USER_TURNS")
	setIntFromEnv(&cfg.S4WindowUserTurns, "S4_WINDOW_USER_TURNS")
	setIntFromEnv(&cfg.S60WindowUserTurns, "S60_WINDOW_USER_TURNS")

	if cfg.LocalMCPGatewayURL == "" {
		cfg.LocalMCPGatewayURL = "http://127.0.0.1:" + cfg.Port + cfg.BasePath + "/gateway_ctx"
	}
	if cfg.RetrievalTopN < 1 {
		cfg.RetrievalTopN = 1
	}
}
