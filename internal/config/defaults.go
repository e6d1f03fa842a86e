package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "json"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/usr/local/var/kotae/data"
	}
	if cfg.Upload.MaxFileSizeMB == 0 {
		cfg.Upload.MaxFileSizeMB = 10
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "cohere"
	}
	if cfg.Embedding.BaseURL == "" {
		switch cfg.Embedding.Provider {
		case "cohere":
			cfg.Embedding.BaseURL = "https://api.cohere.ai"
		case "openai":
			cfg.Embedding.BaseURL = "https://api.openai.com/v1"
		}
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case "cohere":
			cfg.Embedding.Model = "multilingual-22-12"
		case "openai":
			cfg.Embedding.Model = "text-embedding-3-small"
		}
	}
	if cfg.Embedding.APIKeyEnv == "" {
		switch cfg.Embedding.Provider {
		case "openai":
			cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
		default:
			cfg.Embedding.APIKeyEnv = "COHERE_API_KEY"
		}
	}
	if cfg.Embedding.Dimensions == 0 {
		switch cfg.Embedding.Provider {
		case "openai":
			cfg.Embedding.Dimensions = 1536
		case "onnx":
			cfg.Embedding.Dimensions = 384
		default:
			cfg.Embedding.Dimensions = 768
		}
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 96
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 60
	}
	if cfg.Embedding.QueryTimeoutSeconds == 0 {
		cfg.Embedding.QueryTimeoutSeconds = 30
	}
	if cfg.Embedding.RequestsPerSecond == 0 {
		cfg.Embedding.RequestsPerSecond = 5
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Chunking.Strategy == "" {
		cfg.Chunking.Strategy = "fixed"
	}
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 1000
	}
	if cfg.Chunking.ChunkOverlap == 0 && !cfg.Chunking.overlapSet {
		cfg.Chunking.ChunkOverlap = 200
	}
	if cfg.Retrieval.DefaultK == 0 {
		cfg.Retrieval.DefaultK = 3
	}
	if cfg.Retrieval.IndexType == "" {
		cfg.Retrieval.IndexType = "memory"
	}
	if cfg.Inbox.DebounceMS == 0 {
		cfg.Inbox.DebounceMS = 400
	}
}
