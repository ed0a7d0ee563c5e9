// Package config loads and validates rijksharvest's configuration from a
// YAML file, environment variables, and a local .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App       App       `mapstructure:"app"`
	Store     Store     `mapstructure:"store"`
	Dumps     Dumps     `mapstructure:"dumps"`
	OAI       OAI       `mapstructure:"oai"`
	LinkedArt LinkedArt `mapstructure:"linked_art"`
	Dispatch  Dispatch  `mapstructure:"dispatch"`
	Geocoder  Geocoder  `mapstructure:"geocoder"`
	Embed     Embed     `mapstructure:"embed"`
	Logging   Logging   `mapstructure:"logging"`
}

// App holds general application configuration.
type App struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`
}

// Store holds the embedded relational store's location and pragmas.
type Store struct {
	Path string `mapstructure:"path"`
	// VecPath is the shared-library path for the sqlite-vec extension
	// (vec0 virtual tables), loaded via a ConnectHook. Empty disables
	// vector search — fine for every phase except embed and normalize's
	// compaction step.
	VecPath        string `mapstructure:"vec_path"`
	JournalMode    string `mapstructure:"journal_mode"`
	Synchronous    string `mapstructure:"synchronous"`
	CacheSizeKB    int    `mapstructure:"cache_size_kb"` // negative, matches sqlite PRAGMA semantics
	BusyTimeout    time.Duration `mapstructure:"busy_timeout"`
}

// Dumps configures the bulk RDF N-Triples ingestion (P0).
type Dumps struct {
	Dir           string `mapstructure:"dir"`
	ExtractTmpDir string `mapstructure:"extract_tmp_dir"`
}

// OAI configures the OAI-PMH harvester (P1).
type OAI struct {
	BaseURL        string        `mapstructure:"base_url"`
	MetadataPrefix string        `mapstructure:"metadata_prefix"`
	UserAgent      string        `mapstructure:"user_agent"`
	CheckpointPath string        `mapstructure:"checkpoint_path"`
	PageTimeout    time.Duration `mapstructure:"page_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	CommitEveryN   int           `mapstructure:"commit_every_n"`
	ProgressEveryN int           `mapstructure:"progress_every_n"`
}

// LinkedArt configures the JSON-LD resolvers (P2/P2-bis/P4).
type LinkedArt struct {
	BaseURL       string        `mapstructure:"base_url"`
	UserAgent     string        `mapstructure:"user_agent"`
	AcceptHeader  string        `mapstructure:"accept_header"`
	ProfileHeader string        `mapstructure:"profile_header"`
	Timeout       time.Duration `mapstructure:"timeout"`
	VocabBatch    int           `mapstructure:"vocab_batch_size"`
	ArtworkBatch  int           `mapstructure:"artwork_batch_size"`
}

// Dispatch configures the bounded-concurrency worker pool shared by P2/P4.
type Dispatch struct {
	Threads           int           `mapstructure:"threads"`
	ProgressInterval  time.Duration `mapstructure:"progress_interval"`
	ProgressEveryN    int           `mapstructure:"progress_every_n"`
}

// Geocoder configures the multi-phase geocoder (G).
type Geocoder struct {
	GazetteerUsername    string        `mapstructure:"gazetteer_username"`
	GazetteerBaseURL      string        `mapstructure:"gazetteer_base_url"`
	GazetteerRatePerSec   float64       `mapstructure:"gazetteer_rate_per_sec"`
	WikidataSPARQLURL     string        `mapstructure:"wikidata_sparql_url"`
	GettySPARQLURL        string        `mapstructure:"getty_sparql_url"`
	WikidataAPIURL        string        `mapstructure:"wikidata_api_url"`
	UserAgent             string        `mapstructure:"user_agent"`
	SPARQLBatchSize       int           `mapstructure:"sparql_batch_size"`
	SPARQLBatchDelay      time.Duration `mapstructure:"sparql_batch_delay"`
	SPARQLMaxRetries      int           `mapstructure:"sparql_max_retries"`
	ReconcileConcurrency  int           `mapstructure:"reconcile_concurrency"`
	BackoffInitial        time.Duration `mapstructure:"backoff_initial"`
	BackoffMax            time.Duration `mapstructure:"backoff_max"`
	AcceptScore           float64       `mapstructure:"accept_score"`
	AcceptGap             float64       `mapstructure:"accept_gap"`
	ReviewScore           float64       `mapstructure:"review_score"`
	ReviewScoreWithCoords float64       `mapstructure:"review_score_with_coords"`
	OutputDir             string        `mapstructure:"output_dir"`
}

// Embed configures the text-to-vector pipeline (E).
type Embed struct {
	Model              string `mapstructure:"model"`
	APIKey             string `mapstructure:"api_key"`
	Dimensions         int    `mapstructure:"dimensions"`
	DocumentPrefix     string `mapstructure:"document_prefix"`
	QueryPrefix        string `mapstructure:"query_prefix"`
	BatchSize          int    `mapstructure:"batch_size"`
	FlushThreshold     int    `mapstructure:"flush_threshold"`
	ValidationQueries  []string `mapstructure:"validation_queries"`
}

// Logging holds logging configuration.
type Logging struct {
	Level string `mapstructure:"level"`
}

var globalConfig *Config

// Load loads the configuration from a config file, environment variables,
// and a local .env file (if present), and caches the result.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".rijksharvest")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it with defaults if necessary.
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// Reset clears the cached global configuration. Exposed for tests.
func Reset() {
	globalConfig = nil
	viper.Reset()
}

func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.data_dir", "data")

	viper.SetDefault("store.path", "data/vocabulary.db")
	viper.SetDefault("store.vec_path", "")
	viper.SetDefault("store.journal_mode", "WAL")
	viper.SetDefault("store.synchronous", "NORMAL")
	viper.SetDefault("store.cache_size_kb", -64000)
	viper.SetDefault("store.busy_timeout", "30s")

	viper.SetDefault("dumps.dir", "data/dumps")
	viper.SetDefault("dumps.extract_tmp_dir", filepath.Join(os.TempDir(), "rm-dump"))

	viper.SetDefault("oai.base_url", "https://data.rijksmuseum.nl/oai")
	viper.SetDefault("oai.metadata_prefix", "edm")
	viper.SetDefault("oai.user_agent", "rijksmuseum-mcp-harvest/1.0")
	viper.SetDefault("oai.checkpoint_path", ".harvest-checkpoint.json")
	viper.SetDefault("oai.page_timeout", "60s")
	viper.SetDefault("oai.max_retries", 3)
	viper.SetDefault("oai.retry_base_delay", "5s")
	viper.SetDefault("oai.commit_every_n", 10)
	viper.SetDefault("oai.progress_every_n", 10)

	viper.SetDefault("linked_art.base_url", "https://data.rijksmuseum.nl")
	viper.SetDefault("linked_art.user_agent", "rijksmuseum-mcp-harvest/1.0")
	viper.SetDefault("linked_art.accept_header", "application/ld+json")
	viper.SetDefault("linked_art.profile_header", "https://linked.art/ns/v1/linked-art.json")
	viper.SetDefault("linked_art.timeout", "15s")
	viper.SetDefault("linked_art.vocab_batch_size", 200)
	viper.SetDefault("linked_art.artwork_batch_size", 500)

	viper.SetDefault("dispatch.threads", 8)
	viper.SetDefault("dispatch.progress_interval", "30s")
	viper.SetDefault("dispatch.progress_every_n", 1000)

	viper.SetDefault("geocoder.gazetteer_username", "")
	viper.SetDefault("geocoder.gazetteer_base_url", "http://api.geonames.org/getJSON")
	viper.SetDefault("geocoder.gazetteer_rate_per_sec", 1.0)
	viper.SetDefault("geocoder.wikidata_sparql_url", "https://query.wikidata.org/sparql")
	viper.SetDefault("geocoder.getty_sparql_url", "https://query.wikidata.org/sparql")
	viper.SetDefault("geocoder.wikidata_api_url", "https://www.wikidata.org/w/api.php")
	viper.SetDefault("geocoder.user_agent", "rijksmuseum-mcp-geocoder/2.0")
	viper.SetDefault("geocoder.sparql_batch_size", 200)
	viper.SetDefault("geocoder.sparql_batch_delay", "2s")
	viper.SetDefault("geocoder.sparql_max_retries", 3)
	viper.SetDefault("geocoder.reconcile_concurrency", 5)
	viper.SetDefault("geocoder.backoff_initial", "5s")
	viper.SetDefault("geocoder.backoff_max", "60s")
	viper.SetDefault("geocoder.accept_score", 80.0)
	viper.SetDefault("geocoder.accept_gap", 20.0)
	viper.SetDefault("geocoder.review_score", 60.0)
	viper.SetDefault("geocoder.review_score_with_coords", 50.0)
	viper.SetDefault("geocoder.output_dir", "offline/geo")

	viper.SetDefault("embed.model", "text-embedding-004")
	viper.SetDefault("embed.dimensions", 384)
	viper.SetDefault("embed.document_prefix", "passage: ")
	viper.SetDefault("embed.query_prefix", "query: ")
	viper.SetDefault("embed.batch_size", 100)
	viper.SetDefault("embed.flush_threshold", 5000)
	viper.SetDefault("embed.validation_queries", []string{
		"a vase with blue and white floral decoration",
		"portrait of a woman in a dark dress",
		"a seascape with sailing ships",
		"a still life with fruit and flowers",
		"a biblical scene with angels",
	})

	viper.SetDefault("logging.level", "info")
}

// bindEnvironmentVariables wires environment variables that don't follow
// the app.section_key convention (mostly third-party credentials).
func bindEnvironmentVariables() {
	bindEnvKeys("geocoder.gazetteer_username", []string{"GEONAMES_USERNAME", "GAZETTEER_USERNAME"})
	bindEnvKeys("embed.api_key", []string{"GEMINI_API_KEY", "GOOGLE_AI_API_KEY", "GOOGLE_GEMINI_API_KEY"})
}

func bindEnvKeys(configKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if val := os.Getenv(envKey); val != "" {
			viper.Set(configKey, val)
			return
		}
	}
	_ = viper.BindEnv(configKey, envKeys...)
}

// postProcessConfig expands relative paths and normalizes values that
// depend on other fields.
func postProcessConfig(config *Config) error {
	if config.App.DataDir != "" {
		config.App.DataDir = expandPath(config.App.DataDir)
	}
	if config.Store.Path != "" {
		config.Store.Path = expandPath(config.Store.Path)
	}
	if config.Store.VecPath != "" {
		config.Store.VecPath = expandPath(config.Store.VecPath)
	}
	if config.Dumps.Dir != "" {
		config.Dumps.Dir = expandPath(config.Dumps.Dir)
	}
	if config.Dispatch.Threads <= 0 {
		config.Dispatch.Threads = 1
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
