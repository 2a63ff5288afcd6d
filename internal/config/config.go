package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bdougie/visionstream/internal/storage"
)

// Upload providers.
const (
	ProviderNone       = "none"
	ProviderCloudinary = "cloudinary"
	ProviderS3         = "s3"
)

type Config struct {
	Gradio   GradioConfig           `yaml:"gradio"`
	Upload   UploadConfig           `yaml:"upload"`
	Logs     LogsConfig             `yaml:"logs"`
	Postgres storage.PostgresConfig `yaml:"postgres"`
	Server   ServerConfig           `yaml:"server"`
}

type GradioConfig struct {
	URL       string `yaml:"url"`
	Endpoint  string `yaml:"endpoint"`
	Parameter string `yaml:"parameter"`
}

type UploadConfig struct {
	Provider      string   `yaml:"provider"`
	Preset        string   `yaml:"preset"`
	CloudinaryURL string   `yaml:"cloudinary_url"`
	S3            S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type LogsConfig struct {
	// OutputDir enables the JSON file log when set.
	OutputDir string `yaml:"output_dir"`
	Name      string `yaml:"name"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

func defaultConfig() *Config {
	return &Config{
		Gradio: GradioConfig{
			Endpoint:  "/predict",
			Parameter: "input_video_path",
		},
		Upload: UploadConfig{
			Provider: ProviderNone,
			Preset:   "uploaded_videos",
		},
		Logs: LogsConfig{
			Name: "visionstream",
		},
		Postgres: storage.PostgresConfig{
			Port: "5432",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
	}
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GRADIO_URL"); v != "" {
		c.Gradio.URL = v
	}
	if v := os.Getenv("CLOUDINARY_URL"); v != "" {
		c.Upload.CloudinaryURL = v
		if c.Upload.Provider == "" || c.Upload.Provider == ProviderNone {
			c.Upload.Provider = ProviderCloudinary
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.URL = v
	}
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	if c.Gradio.URL == "" {
		return fmt.Errorf("gradio.url is required (or set GRADIO_URL)")
	}
	switch c.Upload.Provider {
	case "", ProviderNone:
	case ProviderCloudinary:
		if c.Upload.CloudinaryURL == "" {
			return fmt.Errorf("upload.cloudinary_url is required for the cloudinary provider")
		}
	case ProviderS3:
		if c.Upload.S3.Bucket == "" {
			return fmt.Errorf("upload.s3.bucket is required for the s3 provider")
		}
	default:
		return fmt.Errorf("unknown upload provider %q", c.Upload.Provider)
	}
	return nil
}

// UploadEnabled reports whether videos go to object storage first.
func (c *Config) UploadEnabled() bool {
	return c.Upload.Provider != "" && c.Upload.Provider != ProviderNone
}
