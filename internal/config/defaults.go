package config

const (
	DefaultSearchThreshold = 0.5
	DefaultCollection      = "my_journal_on_disk"
	DefaultOpenAIModel     = "text-embedding-3-small"
	DefaultAggregateTopK   = 3
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "sqlite"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = ".diaryrag/data/diary_embeddings.db"
	}
	if cfg.Store.Blob.Table == "" {
		cfg.Store.Blob.Table = "points"
	}
	if cfg.Store.Postgres.Table == "" {
		cfg.Store.Postgres.Table = "diary_embeddings"
	}
	if cfg.Store.Qdrant.Collection == "" {
		cfg.Store.Qdrant.Collection = DefaultCollection
	}
	if cfg.Store.Qdrant.TimeoutSeconds == 0 {
		cfg.Store.Qdrant.TimeoutSeconds = 15
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = ".diaryrag/models/ko-sroberta-multitask.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.OpenAI.Model == "" {
		cfg.Embedding.OpenAI.Model = DefaultOpenAIModel
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 5
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.DefaultThreshold == nil {
		t := DefaultSearchThreshold
		cfg.Search.DefaultThreshold = &t
	}
	if cfg.Aggregate.TopK == 0 {
		cfg.Aggregate.TopK = DefaultAggregateTopK
	}
	if cfg.Aggregate.Parallelism == 0 {
		cfg.Aggregate.Parallelism = 1
	}
	if cfg.Aggregate.ResultsDir == "" {
		cfg.Aggregate.ResultsDir = ".diaryrag/results"
	}
}
