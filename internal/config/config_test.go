package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if len(cfg.RuntimeClasses) != 15 {
		t.Errorf("expected 15 runtime classes, got %d", len(cfg.RuntimeClasses))
	}
	if len(cfg.KeepPackages) != 2 {
		t.Errorf("expected 2 keep packages, got %d", len(cfg.KeepPackages))
	}
	if len(cfg.IgnorePackages) != 15 {
		t.Errorf("expected 15 ignore packages, got %d", len(cfg.IgnorePackages))
	}
	if cfg.StagingDir != "jar-contents" {
		t.Errorf("StagingDir = %q", cfg.StagingDir)
	}
	if cfg.EntryMethod != "gpuMethod" {
		t.Errorf("EntryMethod = %q", cfg.EntryMethod)
	}
	if !cfg.IsRuntimeClass("edu.syr.pcpratts.rootbeer.runtime.Kernel") {
		t.Error("the marker interface should be a runtime class")
	}
	if !cfg.Artifact.SSL() {
		t.Error("SSL should default to on")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadNonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/kernelscan.yaml")
	if err != nil {
		t.Fatalf("Load should not error for non-existent file: %v", err)
	}
	if cfg.Backend != "cuda" {
		t.Errorf("expected default backend, got %q", cfg.Backend)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "kernelscan.yaml")

	configContent := `
inputs:
  - build/app.jar
keep_packages:
  - "com.example.gpu."
ignore_packages:
  - "com.example."
backend: opencl
builtins:
  - class: java.lang.Math
    level: bodies
artifact:
  use_ssl: false
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Inputs) != 1 || cfg.Inputs[0] != "build/app.jar" {
		t.Errorf("Inputs = %v", cfg.Inputs)
	}
	if len(cfg.KeepPackages) != 1 || cfg.KeepPackages[0] != "com.example.gpu." {
		t.Errorf("file lists should replace defaults, got %v", cfg.KeepPackages)
	}
	if cfg.Backend != "opencl" {
		t.Errorf("Backend = %q", cfg.Backend)
	}
	if len(cfg.RuntimeClasses) != 15 {
		t.Error("unset lists keep their defaults")
	}
	if cfg.Artifact.SSL() {
		t.Error("use_ssl: false should disable SSL")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFromDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("entry_method: run\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("LoadFromDir: %v", err)
	}
	if cfg.EntryMethod != "run" {
		t.Errorf("EntryMethod = %q", cfg.EntryMethod)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernelscan.yaml")
	if err := os.WriteFile(path, []byte("inputs: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"KERNELSCAN_STORE_DSN": "postgres://u:p@db/kernels",
		"NEO4J_PASSWORD":       " secret ",
		"MINIO_ROOT_USER":      "minio",
		"ARTIFACT_S3_USE_SSL":  "false",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	if cfg.Store.DSN != "postgres://u:p@db/kernels" {
		t.Errorf("Store.DSN = %q", cfg.Store.DSN)
	}
	if cfg.Neo4j.Password != "secret" {
		t.Errorf("Neo4j.Password = %q", cfg.Neo4j.Password)
	}
	if cfg.Artifact.AccessKey != "minio" {
		t.Errorf("AccessKey = %q", cfg.Artifact.AccessKey)
	}
	if cfg.Artifact.SSL() {
		t.Error("ARTIFACT_S3_USE_SSL=false should disable SSL")
	}
	if cfg.Neo4j.URI != "bolt://localhost:7687" {
		t.Errorf("unset variables keep config values, got %q", cfg.Neo4j.URI)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown backend", func(c *Config) { c.Backend = "metal" }, true},
		{"bad builtin level", func(c *Config) {
			c.Builtins = []BuiltinConfig{{Class: "java.lang.Math", Level: "everything"}}
		}, true},
		{"builtin without class", func(c *Config) {
			c.Builtins = []BuiltinConfig{{Level: "hierarchy"}}
		}, true},
		{"no entry method", func(c *Config) { c.EntryMethod = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	base := Default()
	base.Merge(nil)

	off := false
	base.Merge(&Config{
		ClassPath:      []string{"rt.jar"},
		ClassCacheSize: 16,
		Neo4j:          Neo4jConfig{BatchSize: 50},
		Artifact:       ArtifactConfig{UseSSL: &off},
	})

	if len(base.ClassPath) != 1 || base.ClassCacheSize != 16 || base.Neo4j.BatchSize != 50 {
		t.Errorf("merge did not apply: %+v", base)
	}
	if base.Neo4j.User != "neo4j" {
		t.Error("zero values must not clobber defaults")
	}
	if base.Artifact.SSL() {
		t.Error("explicit use_ssl should override")
	}
}
