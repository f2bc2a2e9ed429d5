package config

import "time"

// Config 服务全部可调参数，启动时一次性解析，之后只读。
// Config holds every tunable, resolved once at startup and immutable afterwards.
type Config struct {
	// HTTP server
	Port     string `yaml:"port"`
	BasePath string `yaml:"base_path"`
	Debug    bool   `yaml:"debug"`
	LogFile  string `yaml:"log_file"`

	RateLimitEnabled bool `yaml:"rate_limit_enabled"`
	RateLimitRPS     int  `yaml:"rate_limit_rps"`
	RateLimitBurst   int  `yaml:"rate_limit_burst"`

	// Storage
	PostgresDSN string `yaml:"postgres_dsn"`

	// Anchor RAG (Dify workflow)
	DifyBaseURL        string        `yaml:"dify_base_url"`
	DifyAPIKey         string        `yaml:"dify_api_key"`
	DifyWorkflowRunURL string        `yaml:"dify_workflow_run_url"`
	DifyWorkflowID     string        `yaml:"dify_workflow_id_anchor"`
	DifyTimeout        time.Duration `yaml:"dify_timeout"`

	// gateway_ctx tool endpoint
	MCPProtocolVersion      string        `yaml:"mcp_protocol_version"`
	CtxMax                  int           `yaml:"anchor_snip_max"`
	GatewayCtxDebug         bool          `yaml:"gateway_ctx_debug"`
	RetrievalTopN           int           `yaml:"retrieval_top_n"`
	RetrievalProfileVersion string        `yaml:"retrieval_profile_version"`
	CacheTTL                time.Duration `yaml:"cache_ttl"`
	CacheMax                int           `yaml:"cache_max"`
	GarbledKwRepairEnabled  bool          `yaml:"garbled_kw_repair_enabled"`

	// OpenAI-compatible proxy
	UpstreamBaseURL             string        `yaml:"upstream_base_url"`
	UpstreamAPIKey              string        `yaml:"upstream_api_key"`
	OpenRouterReferer           string        `yaml:"openrouter_http_referer"`
	OpenRouterTitle             string        `yaml:"openrouter_x_title"`
	ForceGatewayEveryTurn       bool          `yaml:"force_gateway_every_turn"`
	AnchorInjectEnabled         bool          `yaml:"anchor_inject_enabled"`
	GatewayCtxUser              string        `yaml:"gateway_ctx_user"`
	WriterMode                  string        `yaml:"writer_mode"`
	ToolEmptyContentCompat      bool          `yaml:"tool_empty_content_compat"`
	ToolEmptyContentPlaceholder string        `yaml:"tool_empty_content_placeholder"`
	LocalMCPGatewayURL          string        `yaml:"local_mcp_gateway_url"`
	LocalMCPTimeout             time.Duration `yaml:"local_mcp_timeout"`
	ProxyDebugEcho              bool          `yaml:"openai_proxy_debug_echo"`
	MemoryIDDefault             string        `yaml:"memory_id_default"`
	AgentIDDefault              string        `yaml:"agent_id_default"`

	// Summarization engine
	SummarizerBaseURL  string `yaml:"summarizer_base_url"`
	SummarizerAPIKey   string `yaml:"summarizer_api_key"`
	SummarizerModel    string `yaml:"summarizer_model"`
	S4EveryUserTurns   int    `yaml:"s4_every_user_turns"`
	S60EveryUserTurns  int    `yaml:"s60_every_user_turns"`
	S4WindowUserTurns  int    `yaml:"s4_window_user_turns"`
	S60WindowUserTurns int    `yaml:"s60_window_user_turns"`
}

// defaults 与线上部署保持一致的缺省值。
func defaults() *Config {
	return &Config{
		Port: "8000",

		RateLimitRPS:   10,
		RateLimitBurst: 20,

		DifyBaseURL:        "https://api.dify.ai",
		DifyWorkflowRunURL: "https://api.dify.ai/v1/workflows/run",
		DifyTimeout:        30 * time.Second,

		MCPProtocolVersion:      "2025-06-18",
		CtxMax:                  400,
		RetrievalTopN:           3,
		RetrievalProfileVersion: "v1.0.0",
		CacheTTL:                20 * time.Second,
		CacheMax:                256,
		GarbledKwRepairEnabled:  true,

		UpstreamBaseURL:             "https://openrouter.ai/api/v1",
		ForceGatewayEveryTurn:       true,
		AnchorInjectEnabled:         true,
		GatewayCtxUser:              "rikkahub",
		WriterMode:                  "normal",
		ToolEmptyContentCompat:      true,
		ToolEmptyContentPlaceholder: "（正在调用工具…）",
		LocalMCPTimeout:             20 * time.Second,

		S4EveryUserTurns:   4,
		S60EveryUserTurns:  30,
		S4WindowUserTurns:  4,
		S60WindowUserTurns: 30,
	}
}
