package nutritionagent

import "time"

type ModelConfig struct {
	ModelID     string  `env:"MODEL_ID,default=us.anthropic.claude-3-7-sonnet-20250219-v1:0"`
	MaxTokens   int32   `env:"MAX_TOKENS,default=1024"`
	Temperature float32 `env:"TEMPERATURE,default=0.2"`
	TopP        float32 `env:"TOP_P,default=0.9"`
}

type AgentConfig struct {
	LLMBackend         string `env:"LLM_BACKEND,default=rules"`
	BaseOllamaEndpoint string `env:"BASE_OLLAMA_ENDPOINT,default=http://localhost:11434"`
	OllamaModel        string `env:"OLLAMA_MODEL,default=llama3.1"`
	GeminiAPIKey       string `env:"GEMINI_API_KEY"`
	GeminiModel        string `env:"GEMINI_MODEL,default=gemini-2.5-flash"`

	MealsPath     string `env:"MEALS_PATH,default=artifacts/meals.json"`
	SessionDBPath string `env:"SESSION_DB_PATH"`
	FoodStoreURL  string `env:"FOOD_STORE_URL"`
	IncludeTotals bool   `env:"INCLUDE_TOTALS,default=false"`
	DebugDump     bool   `env:"DEBUG_DUMP,default=false"`
}

type ResolverConfig struct {
	MaxConcurrency int           `env:"RESOLVER_MAX_CONCURRENCY,default=8"`
	TaskTimeout    time.Duration `env:"RESOLVER_TASK_TIMEOUT,default=10s"`
}

type SourceConfig struct {
	USDAAPIKey   string `env:"USDA_API_KEY,default=DEMO_KEY"`
	USDAEndpoint string `env:"USDA_ENDPOINT,default=https://api.nal.usda.gov/fdc/v1"`
	OFFEndpoint  string `env:"OFF_ENDPOINT,default=https://world.openfoodfacts.org"`
	UserAgent    string `env:"SOURCE_USER_AGENT,default=nutrition-agent/0.1 (nutrition logging)"`
	CacheSize    int    `env:"SOURCE_CACHE_SIZE,default=512"`
	MaxRetries   uint   `env:"SOURCE_MAX_RETRIES,default=3"`
	EnableModel  bool   `env:"SOURCE_ENABLE_MODEL_ESTIMATE,default=true"`
}

// ArtifactsConfig points at the S3 objects used by the Lambda entrypoint.
type ArtifactsConfig struct {
	S3Bucket   string `env:"ARTIFACTS_S3_BUCKET,required"`
	MealsS3Key string `env:"ARTIFACTS_MEALS_S3_KEY,default=meals.json"`
}
