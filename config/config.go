package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Minio      MinioConfig      `yaml:"minio"`
	CaseTable  CaseTableConfig  `yaml:"case_table"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Imagery    ImageryConfig    `yaml:"imagery"`
	Search     SearchConfig     `yaml:"search"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
	TextModel  TextModelConfig  `yaml:"text_model"`
	Report     ReportConfig     `yaml:"report"`
	Auth       AuthConfig       `yaml:"auth"`
	Users      []User           `yaml:"users"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MinioConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
}

// CaseTableConfig locates the shared CSV case table object.
type CaseTableConfig struct {
	Bucket string `yaml:"bucket"`
	Object string `yaml:"object"`
}

type ExtractionConfig struct {
	APIURL       string `yaml:"api_url"`
	APIToken     string `yaml:"api_token"`
	InputBucket  string `yaml:"input_bucket"`
	OutputBucket string `yaml:"output_bucket"`
}

type ImageryConfig struct {
	GeocodeURL    string `yaml:"geocode_url"`
	StreetViewURL string `yaml:"street_view_url"`
	APIKey        string `yaml:"api_key"`
	ImageBucket   string `yaml:"image_bucket"`
	Size          string `yaml:"size"`
	Heading       string `yaml:"heading"`
	Pitch         string `yaml:"pitch"`
}

type SearchConfig struct {
	APIURL       string `yaml:"api_url"`
	APIKey       string `yaml:"api_key"`
	EngineID     string `yaml:"engine_id"`
	MaxResults   int    `yaml:"max_results"`
	OutputBucket string `yaml:"output_bucket"`
}

type TranscribeConfig struct {
	APIURL          string `yaml:"api_url"`
	APIToken        string `yaml:"api_token"`
	AudioBucket     string `yaml:"audio_bucket"`
	OutputBucket    string `yaml:"output_bucket"`
	PollIntervalSec int    `yaml:"poll_interval_sec"`
	MaxPolls        int    `yaml:"max_polls"`
}

type TextModelConfig struct {
	APIURL      string  `yaml:"api_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type ReportConfig struct {
	TemplateBucket string `yaml:"template_bucket"`
	TemplateObject string `yaml:"template_object"`
	OutputBucket   string `yaml:"output_bucket"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

var GlobalConfig *Config

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Minio.ExpireDays == 0 {
		cfg.Minio.ExpireDays = 7
	}
	if cfg.CaseTable.Object == "" {
		cfg.CaseTable.Object = "case_table.csv"
	}
	if cfg.Auth.TokenExpireHours == 0 {
		cfg.Auth.TokenExpireHours = 24
	}
	if cfg.Imagery.Size == "" {
		cfg.Imagery.Size = "640x640"
	}
	if cfg.Imagery.Heading == "" {
		cfg.Imagery.Heading = "205"
	}
	if cfg.Imagery.Pitch == "" {
		cfg.Imagery.Pitch = "55"
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = 10
	}
	if cfg.Transcribe.PollIntervalSec == 0 {
		cfg.Transcribe.PollIntervalSec = 10
	}
	if cfg.Transcribe.MaxPolls == 0 {
		cfg.Transcribe.MaxPolls = 60
	}
	if cfg.TextModel.MaxTokens == 0 {
		cfg.TextModel.MaxTokens = 1000
	}
	if cfg.TextModel.Temperature == 0 {
		cfg.TextModel.Temperature = 0.5
	}

	GlobalConfig = &cfg
	return &cfg, nil
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}
