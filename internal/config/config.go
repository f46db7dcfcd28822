package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	IATI      IATIConfig      `yaml:"iati" mapstructure:"iati"`
	Norad     NoradConfig     `yaml:"norad" mapstructure:"norad"`
	OECD      OECDConfig      `yaml:"oecd" mapstructure:"oecd"`
	Palestine PalestineConfig `yaml:"palestine" mapstructure:"palestine"`
	Resolve   ResolveConfig   `yaml:"resolve" mapstructure:"resolve"`
	Graph     GraphConfig     `yaml:"graph" mapstructure:"graph"`
	Curated   CuratedConfig   `yaml:"curated" mapstructure:"curated"`
	Neo4j     Neo4jConfig     `yaml:"neo4j" mapstructure:"neo4j"`
}

// StoreConfig configures the Postgres backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
}

// ServerConfig configures the graph API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// IngestConfig configures batch ingestion jobs.
type IngestConfig struct {
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`
}

// IATIConfig configures the IATI registry harvester.
type IATIConfig struct {
	RegistryBaseURL   string   `yaml:"registry_base_url" mapstructure:"registry_base_url"`
	DatasetBaseURL    string   `yaml:"dataset_base_url" mapstructure:"dataset_base_url"`
	OrganizationSlugs []string `yaml:"organization_slugs" mapstructure:"organization_slugs"`
	RowsPerPage       int      `yaml:"rows_per_page" mapstructure:"rows_per_page"`
	MaxPackages       int      `yaml:"max_packages" mapstructure:"max_packages"`
	MaxResources      int      `yaml:"max_resources" mapstructure:"max_resources"`
	DownloadWorkers   int      `yaml:"download_workers" mapstructure:"download_workers"`
}

// NoradConfig configures the Norad partner API enrichment.
type NoradConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	FunctionsKey   string  `yaml:"functions_key" mapstructure:"functions_key"`
	MatchThreshold float64 `yaml:"match_threshold" mapstructure:"match_threshold"`
	YearFrom       int     `yaml:"year_from" mapstructure:"year_from"`
	YearTo         int     `yaml:"year_to" mapstructure:"year_to"`
}

// OECDConfig configures the OECD SDMX enrichment.
type OECDConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	MatchThreshold float64 `yaml:"match_threshold" mapstructure:"match_threshold"`
	YearFrom       int     `yaml:"year_from" mapstructure:"year_from"`
	YearTo         int     `yaml:"year_to" mapstructure:"year_to"`
}

// PalestineConfig configures the Palestine recipient loader.
type PalestineConfig struct {
	WhitelistFile  string  `yaml:"whitelist_file" mapstructure:"whitelist_file"`
	MatchThreshold float64 `yaml:"match_threshold" mapstructure:"match_threshold"`
	StartYear      int     `yaml:"start_year" mapstructure:"start_year"`
}

// ResolveConfig tunes entity resolution.
type ResolveConfig struct {
	RecipientThreshold float64 `yaml:"recipient_threshold" mapstructure:"recipient_threshold"`
}

// GraphConfig tunes graph assembly defaults.
type GraphConfig struct {
	MaxFundingEdges int `yaml:"max_funding_edges" mapstructure:"max_funding_edges"`
}

// CuratedConfig points at the curated network file. Empty means the
// embedded default set.
type CuratedConfig struct {
	NetworkFile string `yaml:"network_file" mapstructure:"network_file"`
}

// Neo4jConfig configures the optional graph mirror.
type Neo4jConfig struct {
	URI      string `yaml:"uri" mapstructure:"uri"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

// Validate checks that the configuration required for the given mode is present.
// Modes correspond to command groups: "batch" (migrate/ingest/normalize/enrich/seed),
// "serve", and "mirror".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "batch":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	case "serve":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Graph.MaxFundingEdges <= 0 {
			problems = append(problems, "graph.max_funding_edges must be > 0")
		}
	case "mirror":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Neo4j.URI == "" {
			problems = append(problems, "neo4j.uri is required")
		}
		if c.Neo4j.Password == "" {
			problems = append(problems, "neo4j.password is required (NORCONNECT_NEO4J_PASSWORD)")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Resolve.RecipientThreshold < 0 || c.Resolve.RecipientThreshold > 1 {
		problems = append(problems, "resolve.recipient_threshold must be within [0, 1]")
	}
	if c.Norad.MatchThreshold < 0 || c.Norad.MatchThreshold > 1 {
		problems = append(problems, "norad.match_threshold must be within [0, 1]")
	}
	if c.OECD.MatchThreshold < 0 || c.OECD.MatchThreshold > 1 {
		problems = append(problems, "oecd.match_threshold must be within [0, 1]")
	}
	if c.Palestine.MatchThreshold < 0 || c.Palestine.MatchThreshold > 1 {
		problems = append(problems, "palestine.match_threshold must be within [0, 1]")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("NORCONNECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.max_conns", 8)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("ingest.user_agent", "norconnect/1.0")
	v.SetDefault("iati.registry_base_url", "https://iatiregistry.org/api/3/action")
	v.SetDefault("iati.dataset_base_url", "https://iatiregistry.org/dataset")
	v.SetDefault("iati.rows_per_page", 100)
	v.SetDefault("iati.download_workers", 4)
	v.SetDefault("norad.base_url", "https://apim-br-online-prod.azure-api.net/resultatportal-prod-api-dotnet")
	v.SetDefault("norad.match_threshold", 0.72)
	v.SetDefault("norad.year_from", 2015)
	v.SetDefault("norad.year_to", 2024)
	v.SetDefault("oecd.base_url", "https://sdmx.oecd.org/public/rest")
	v.SetDefault("oecd.match_threshold", 0.78)
	v.SetDefault("oecd.year_from", 2015)
	v.SetDefault("oecd.year_to", 2023)
	v.SetDefault("palestine.match_threshold", 0.84)
	v.SetDefault("palestine.start_year", 1990)
	v.SetDefault("resolve.recipient_threshold", 0.84)
	v.SetDefault("graph.max_funding_edges", 5000)
	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.database", "neo4j")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
