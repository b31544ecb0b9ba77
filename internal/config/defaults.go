package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kiji/data/db/metadata.db"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/kiji/data/indices/vectors.bin"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = "/usr/local/var/kiji/data/indices/keyword"
	}
	if cfg.Storage.SpoolPath == "" {
		cfg.Storage.SpoolPath = "/usr/local/var/kiji/data/spool"
	}
	if cfg.Embedding.ServiceURL == "" {
		cfg.Embedding.ServiceURL = "http://localhost:8081/v1"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "all-MiniLM-L6-v2"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 30
	}
	if cfg.Rerank.ServiceURL == "" {
		cfg.Rerank.ServiceURL = "http://localhost:8082/v1"
	}
	if cfg.Rerank.Model == "" {
		cfg.Rerank.Model = "ms-marco-MiniLM-L-6-v2"
	}
	if cfg.Rerank.TimeoutSeconds == 0 {
		cfg.Rerank.TimeoutSeconds = 30
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Retrieval.MinCosine == 0 {
		cfg.Retrieval.MinCosine = 0.45
	}
	if cfg.Retrieval.DaysFilter == 0 {
		cfg.Retrieval.DaysFilter = 30
	}
	if cfg.Retrieval.DecayRate == 0 {
		cfg.Retrieval.DecayRate = 0.1
	}
	if cfg.Retrieval.CandidateMultiplier == 0 {
		cfg.Retrieval.CandidateMultiplier = 8
	}
	if cfg.Refresh.IntervalMinutes == 0 {
		cfg.Refresh.IntervalMinutes = 60
	}
}
