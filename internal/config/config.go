package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/abramin/kernelscan/internal/backend"
	"github.com/abramin/kernelscan/internal/jvm"
)

// FileName is the configuration file looked up by default.
const FileName = "kernelscan.yaml"

// Config represents the kernelscan configuration.
type Config struct {
	Inputs          []string        `yaml:"inputs"`
	ClassPath       []string        `yaml:"class_path"`
	ClassPathDirs   []string        `yaml:"class_path_dirs"`
	StagingDir      string          `yaml:"staging_dir"`
	RuntimeClasses  []string        `yaml:"runtime_classes"`
	KeepPackages    []string        `yaml:"keep_packages"`
	IgnorePackages  []string        `yaml:"ignore_packages"`
	MarkerInterface string          `yaml:"marker_interface"`
	EntryMethod     string          `yaml:"entry_method"`
	Builtins        []BuiltinConfig `yaml:"builtins"`
	Backend         string          `yaml:"backend"`
	ClassCacheSize  int             `yaml:"class_cache_size"`
	Store           StoreConfig     `yaml:"store"`
	Neo4j           Neo4jConfig     `yaml:"neo4j"`
	Artifact        ArtifactConfig  `yaml:"artifact"`
}

// BuiltinConfig names a platform class and the level to load it to.
// An empty builtins list uses the standard JDK set.
type BuiltinConfig struct {
	Class string `yaml:"class"`
	Level string `yaml:"level"`
}

// StoreConfig selects where reports are persisted. An empty DSN uses
// SQLite under Dir; a postgres:// DSN uses PostgreSQL.
type StoreConfig struct {
	Dir string `yaml:"dir"`
	DSN string `yaml:"dsn"`
}

// Neo4jConfig configures the call-graph export.
type Neo4jConfig struct {
	URI       string `yaml:"uri"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	BatchSize int    `yaml:"batch_size"`
}

// ArtifactConfig configures report publication to S3-compatible storage.
type ArtifactConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    *bool  `yaml:"use_ssl"`
}

// SSL reports whether to use TLS, defaulting to true.
func (a ArtifactConfig) SSL() bool {
	return a.UseSSL == nil || *a.UseSSL
}

// Default returns a Config with the stock Rootbeer conventions.
func Default() *Config {
	return &Config{
		StagingDir: "jar-contents",
		RuntimeClasses: []string{
			"edu.syr.pcpratts.rootbeer.generate.bytecode.Constants",
			"edu.syr.pcpratts.rootbeer.runtime.RootbeerFactory",
			"edu.syr.pcpratts.rootbeer.runtime.Rootbeer",
			"edu.syr.pcpratts.rootbeer.runtime.RootbeerGpu",
			"edu.syr.pcpratts.rootbeer.runtime.Kernel",
			"edu.syr.pcpratts.rootbeer.runtime.CompiledKernel",
			"edu.syr.pcpratts.rootbeer.runtime.Serializer",
			"edu.syr.pcpratts.rootbeer.runtime.memory.Memory",
			"edu.syr.pcpratts.rootbeer.runtime.Sentinal",
			"edu.syr.pcpratts.rootbeer.test.TestSerialization",
			"edu.syr.pcpratts.rootbeer.test.TestSerializationFactory",
			"edu.syr.pcpratts.rootbeer.test.TestException",
			"edu.syr.pcpratts.rootbeer.test.TestExceptionFactory",
			"edu.syr.pcpratts.rootbeer.runtime.util.Stopwatch",
			"edu.syr.pcpratts.rootbeer.runtime.PrivateFields",
		},
		KeepPackages: []string{
			"edu.syr.pcpratts.rootbeer.testcases.",
			"edu.syr.pcpratts.rootbeer.runtime.remap.",
		},
		IgnorePackages: []string{
			"edu.syr.pcpratts.compressor.",
			"edu.syr.pcpratts.deadmethods.",
			"edu.syr.pcpratts.jpp.",
			"edu.syr.pcpratts.rootbeer.",
			"pack.",
			"jasmin.",
			"soot.",
			"beaver.",
			"polyglot.",
			"org.antlr.",
			"java_cup.",
			"ppg.",
			"antlr.",
			"jas.",
			"scm.",
		},
		MarkerInterface: "edu.syr.pcpratts.rootbeer.runtime.Kernel",
		EntryMethod:     "gpuMethod",
		Backend:         string(backend.CUDA),
		ClassCacheSize:  4096,
		Store: StoreConfig{
			Dir: ".kernelscan",
		},
		Neo4j: Neo4jConfig{
			URI:       "bolt://localhost:7687",
			User:      "neo4j",
			BatchSize: 500,
		},
		Artifact: ArtifactConfig{
			Bucket: "kernelscan-reports",
			Region: "us-east-1",
		},
	}
}

// Load reads configuration from file, falling back to defaults, then
// applies .env and environment overrides.
// If configPath is empty, it looks for kernelscan.yaml in the current directory.
// Values in the config file replace defaults per field (lists are not merged).
func Load(configPath string) (*Config, error) {
	defaults := Default()

	if configPath == "" {
		configPath = FileName
	}

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// No config file, use defaults
	case err != nil:
		return nil, err
	default:
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", configPath, err)
		}
		defaults.Merge(&fileCfg)
	}

	_ = godotenv.Load()
	defaults.ApplyEnv(os.Getenv)
	return defaults, nil
}

// LoadFromDir loads configuration from the specified directory.
func LoadFromDir(dir string) (*Config, error) {
	return Load(filepath.Join(dir, FileName))
}

// Merge combines another config into this one, with other taking precedence.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if len(other.Inputs) > 0 {
		c.Inputs = other.Inputs
	}
	if len(other.ClassPath) > 0 {
		c.ClassPath = other.ClassPath
	}
	if len(other.ClassPathDirs) > 0 {
		c.ClassPathDirs = other.ClassPathDirs
	}
	if other.StagingDir != "" {
		c.StagingDir = other.StagingDir
	}
	if len(other.RuntimeClasses) > 0 {
		c.RuntimeClasses = other.RuntimeClasses
	}
	if len(other.KeepPackages) > 0 {
		c.KeepPackages = other.KeepPackages
	}
	if len(other.IgnorePackages) > 0 {
		c.IgnorePackages = other.IgnorePackages
	}
	if other.MarkerInterface != "" {
		c.MarkerInterface = other.MarkerInterface
	}
	if other.EntryMethod != "" {
		c.EntryMethod = other.EntryMethod
	}
	if len(other.Builtins) > 0 {
		c.Builtins = other.Builtins
	}
	if other.Backend != "" {
		c.Backend = other.Backend
	}
	if other.ClassCacheSize > 0 {
		c.ClassCacheSize = other.ClassCacheSize
	}
	if other.Store.Dir != "" {
		c.Store.Dir = other.Store.Dir
	}
	if other.Store.DSN != "" {
		c.Store.DSN = other.Store.DSN
	}
	if other.Neo4j.URI != "" {
		c.Neo4j.URI = other.Neo4j.URI
	}
	if other.Neo4j.User != "" {
		c.Neo4j.User = other.Neo4j.User
	}
	if other.Neo4j.Password != "" {
		c.Neo4j.Password = other.Neo4j.Password
	}
	if other.Neo4j.Database != "" {
		c.Neo4j.Database = other.Neo4j.Database
	}
	if other.Neo4j.BatchSize > 0 {
		c.Neo4j.BatchSize = other.Neo4j.BatchSize
	}
	if other.Artifact.Endpoint != "" {
		c.Artifact.Endpoint = other.Artifact.Endpoint
	}
	if other.Artifact.Bucket != "" {
		c.Artifact.Bucket = other.Artifact.Bucket
	}
	if other.Artifact.Region != "" {
		c.Artifact.Region = other.Artifact.Region
	}
	if other.Artifact.AccessKey != "" {
		c.Artifact.AccessKey = other.Artifact.AccessKey
	}
	if other.Artifact.SecretKey != "" {
		c.Artifact.SecretKey = other.Artifact.SecretKey
	}
	if other.Artifact.UseSSL != nil {
		c.Artifact.UseSSL = other.Artifact.UseSSL
	}
}

// ApplyEnv overrides connection settings and secrets from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }

	c.Store.DSN = firstNonEmpty(env("KERNELSCAN_STORE_DSN"), c.Store.DSN)
	c.StagingDir = firstNonEmpty(env("KERNELSCAN_STAGING_DIR"), c.StagingDir)

	c.Neo4j.URI = firstNonEmpty(env("NEO4J_URI"), c.Neo4j.URI)
	c.Neo4j.User = firstNonEmpty(env("NEO4J_USER"), c.Neo4j.User)
	c.Neo4j.Password = firstNonEmpty(env("NEO4J_PASSWORD"), c.Neo4j.Password)

	c.Artifact.Endpoint = firstNonEmpty(env("ARTIFACT_S3_ENDPOINT"), c.Artifact.Endpoint)
	c.Artifact.Bucket = firstNonEmpty(env("ARTIFACT_S3_BUCKET"), c.Artifact.Bucket)
	c.Artifact.Region = firstNonEmpty(env("ARTIFACT_S3_REGION"), c.Artifact.Region)
	c.Artifact.AccessKey = firstNonEmpty(env("ARTIFACT_S3_ACCESS_KEY"), env("MINIO_ROOT_USER"), c.Artifact.AccessKey)
	c.Artifact.SecretKey = firstNonEmpty(env("ARTIFACT_S3_SECRET_KEY"), env("MINIO_ROOT_PASSWORD"), c.Artifact.SecretKey)
	if raw := env("ARTIFACT_S3_USE_SSL"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			c.Artifact.UseSSL = &v
		}
	}
}

// Validate checks values that cannot be checked by the YAML decoder.
func (c *Config) Validate() error {
	if _, err := backend.ParseKind(c.Backend); err != nil {
		return err
	}
	for _, b := range c.Builtins {
		if strings.TrimSpace(b.Class) == "" {
			return fmt.Errorf("builtin without class name")
		}
		if _, err := jvm.ParseLevel(b.Level); err != nil {
			return fmt.Errorf("builtin %s: %w", b.Class, err)
		}
	}
	if c.MarkerInterface == "" || c.EntryMethod == "" {
		return fmt.Errorf("marker_interface and entry_method are required")
	}
	return nil
}

// IsRuntimeClass reports whether name is on the runtime whitelist.
func (c *Config) IsRuntimeClass(name string) bool {
	for _, rc := range c.RuntimeClasses {
		if rc == name {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
