package model

// ================ Config ================

type ConversationConfig struct {
	TTL string `envconfig:"CONVERSATION_TTL" default:"24h"`
	// HistoryWindow bounds how many prior messages enter the model context.
	HistoryWindow int `envconfig:"CONVERSATION_HISTORY_WINDOW" default:"20"`
	MaxMessageLen int `envconfig:"CONVERSATION_MAX_MESSAGE_LEN" default:"2048"`
}

type ResponseModelConfig struct {
	Model       string  `envconfig:"RESPONSE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"RESPONSE_MAX_TOKENS" default:"2048"`
	Temperature float32 `envconfig:"RESPONSE_TEMPERATURE" default:"0.7"`
}

// RoutingModelConfig configures the separate, cheaper decision model used
// for llm_routing transitions.
type RoutingModelConfig struct {
	Model       string  `envconfig:"ROUTING_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"ROUTING_MAX_TOKENS" default:"64"`
	Temperature float32 `envconfig:"ROUTING_TEMPERATURE" default:"0"`
}

type ExecutorConfig struct {
	ModelMaxRetries   int `envconfig:"EXECUTOR_MODEL_MAX_RETRIES" default:"2"`
	ModelRetryBaseMS  int `envconfig:"EXECUTOR_MODEL_RETRY_BASE_MS" default:"250"`
	ModelTimeoutSec   int `envconfig:"EXECUTOR_MODEL_TIMEOUT_SEC" default:"60"`
	ToolTimeoutSec    int `envconfig:"EXECUTOR_TOOL_TIMEOUT_SEC" default:"10"`
	RetrieveTimeoutMS int `envconfig:"EXECUTOR_RETRIEVE_TIMEOUT_MS" default:"2500"`
	RetrieveTopK      int `envconfig:"EXECUTOR_RETRIEVE_TOP_K" default:"3"`
}

type ServerConfig struct {
	Port            string `envconfig:"SERVER_PORT" default:"8080"`
	ShutdownTimeout int    `envconfig:"SERVER_SHUTDOWN_TIMEOUT_SEC" default:"10"`
}
