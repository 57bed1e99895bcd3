package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	VectorIndex VectorIndexConfig `mapstructure:"vector_index"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Artifacts   ArtifactsConfig   `mapstructure:"artifacts"`
	Recommend   RecommendConfig   `mapstructure:"recommend"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Security    SecurityConfig    `mapstructure:"security"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	URL        string        `mapstructure:"url"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type VectorIndexConfig struct {
	URL        string        `mapstructure:"url"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topics  struct {
		UserEvents string `mapstructure:"user_events"`
	} `mapstructure:"topics"`
}

type ArtifactsConfig struct {
	Dir         string `mapstructure:"dir"`
	UserFactors string `mapstructure:"user_factors"`
	ItemFactors string `mapstructure:"item_factors"`
	UserRow     string `mapstructure:"user_row"`
	RowItem     string `mapstructure:"row_item"`
	Popularity  string `mapstructure:"popularity"`
	Ranker      string `mapstructure:"ranker"`
}

type RecommendConfig struct {
	Recall   RecallConfig  `mapstructure:"recall"`
	Features FeatureConfig `mapstructure:"features"`
	Ranker   RankerConfig  `mapstructure:"ranker"`
	Rerank   RerankConfig  `mapstructure:"rerank"`
	Context  ContextConfig `mapstructure:"context"`
	Timeouts TimeoutConfig `mapstructure:"timeouts"`
}

type RecallConfig struct {
	KLatent             int     `mapstructure:"k_latent"`
	KPopularity         int     `mapstructure:"k_popularity"`
	KContent            int     `mapstructure:"k_content"`
	PopularityKeepRatio float64 `mapstructure:"popularity_keep_ratio"`
}

type FeatureConfig struct {
	ContentBoostHome    float64 `mapstructure:"content_boost_home"`
	ContentBoostSimilar float64 `mapstructure:"content_boost_similar"`
}

type RankerConfig struct {
	Normalization string         `mapstructure:"normalization"`
	Weights       FeatureWeights `mapstructure:"weights"`
	TopNRank      int            `mapstructure:"top_n_rank"`
	DebugFeatures bool           `mapstructure:"debug_features"`
}

type FeatureWeights struct {
	MF         float64 `mapstructure:"mf"`
	Popularity float64 `mapstructure:"popularity"`
	Rating     float64 `mapstructure:"rating"`
	Content    float64 `mapstructure:"content"`
}

type RerankConfig struct {
	TopNFinal            int     `mapstructure:"top_n_final"`
	IntentBoostRate      float64 `mapstructure:"intent_boost_rate"`
	IntentBoostCap       float64 `mapstructure:"intent_boost_cap"`
	RecencyNearThreshold int     `mapstructure:"recency_near_threshold"`
	RecencyMidThreshold  int     `mapstructure:"recency_mid_threshold"`
	RecencyNearPenalty   float64 `mapstructure:"recency_near_penalty"`
	RecencyMidPenalty    float64 `mapstructure:"recency_mid_penalty"`
	RecencyFarPenalty    float64 `mapstructure:"recency_far_penalty"`
	DiversityThreshold   float64 `mapstructure:"diversity_threshold"`
	DiversityPenalty     float64 `mapstructure:"diversity_penalty"`
	MaxSameCategory      int     `mapstructure:"max_same_category"`
	CategoryLimitPenalty float64 `mapstructure:"category_limit_penalty"`
	LowReviewThreshold   int     `mapstructure:"low_review_threshold"`
	LowReviewPenalty     float64 `mapstructure:"low_review_penalty"`
}

type ContextConfig struct {
	TTL              time.Duration `mapstructure:"ttl"`
	RecentItemsLimit int           `mapstructure:"recent_items_limit"`
	ReferenceLimit   int           `mapstructure:"reference_limit"`
}

type TimeoutConfig struct {
	Request time.Duration `mapstructure:"request"`
	Event   time.Duration `mapstructure:"event"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	// Set defaults
	setDefaults()

	// Environment variable overrides
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "development")

	// Database defaults
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.max_idle_time", "15m")
	viper.SetDefault("database.max_lifetime", "1h")
	viper.SetDefault("database.connect_timeout", "10s")

	// Redis defaults
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.timeout", "5s")

	// Vector index defaults
	viper.SetDefault("vector_index.url", "http://localhost:6333")
	viper.SetDefault("vector_index.collection", "items")
	viper.SetDefault("vector_index.timeout", "2s")

	// Kafka defaults
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topics.user_events", "user-events")

	// Artifact defaults
	viper.SetDefault("artifacts.dir", "./artifacts")
	viper.SetDefault("artifacts.user_factors", "user_factors.bin")
	viper.SetDefault("artifacts.item_factors", "item_factors.bin")
	viper.SetDefault("artifacts.user_row", "user_row.json")
	viper.SetDefault("artifacts.row_item", "row_item.json")
	viper.SetDefault("artifacts.popularity", "popularity.parquet")
	viper.SetDefault("artifacts.ranker", "ranker.bin")

	// Recall defaults
	viper.SetDefault("recommend.recall.k_latent", 100)
	viper.SetDefault("recommend.recall.k_popularity", 50)
	viper.SetDefault("recommend.recall.k_content", 50)
	viper.SetDefault("recommend.recall.popularity_keep_ratio", 0.2)

	// Feature defaults
	viper.SetDefault("recommend.features.content_boost_home", 1.0)
	viper.SetDefault("recommend.features.content_boost_similar", 2.5)

	// Ranker defaults
	viper.SetDefault("recommend.ranker.normalization", "min_max")
	viper.SetDefault("recommend.ranker.weights.mf", 1.0)
	viper.SetDefault("recommend.ranker.weights.popularity", 0.8)
	viper.SetDefault("recommend.ranker.weights.rating", 1.0)
	viper.SetDefault("recommend.ranker.weights.content", 1.0)
	viper.SetDefault("recommend.ranker.top_n_rank", 50)
	viper.SetDefault("recommend.ranker.debug_features", false)

	// Re-rank defaults
	viper.SetDefault("recommend.rerank.top_n_final", 20)
	viper.SetDefault("recommend.rerank.intent_boost_rate", 0.08)
	viper.SetDefault("recommend.rerank.intent_boost_cap", 0.40)
	viper.SetDefault("recommend.rerank.recency_near_threshold", 5)
	viper.SetDefault("recommend.rerank.recency_mid_threshold", 10)
	viper.SetDefault("recommend.rerank.recency_near_penalty", 0.2)
	viper.SetDefault("recommend.rerank.recency_mid_penalty", 0.4)
	viper.SetDefault("recommend.rerank.recency_far_penalty", 0.6)
	viper.SetDefault("recommend.rerank.diversity_threshold", 0.25)
	viper.SetDefault("recommend.rerank.diversity_penalty", 0.7)
	viper.SetDefault("recommend.rerank.max_same_category", 4)
	viper.SetDefault("recommend.rerank.category_limit_penalty", 0.5)
	viper.SetDefault("recommend.rerank.low_review_threshold", 5)
	viper.SetDefault("recommend.rerank.low_review_penalty", 0.9)

	// Context store defaults
	viper.SetDefault("recommend.context.ttl", "900s")
	viper.SetDefault("recommend.context.recent_items_limit", 20)
	viper.SetDefault("recommend.context.reference_limit", 10)

	// Timeout defaults
	viper.SetDefault("recommend.timeouts.request", "3s")
	viper.SetDefault("recommend.timeouts.event", "500ms")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	// Security defaults
	viper.SetDefault("security.cors.allowed_origins", []string{"*"})
	viper.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	viper.SetDefault("security.cors.allowed_headers", []string{"*"})
}
