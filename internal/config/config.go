package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultStoreListen  = ":3009"
	DefaultStoreURL     = "http://127.0.0.1:3009"
	DefaultModel        = "meta-llama/llama-3.2-11b-vision-instruct"
	DefaultBaseURL      = "https://openrouter.ai/api/v1"
	DefaultBotHandle    = "AI Bot"
	DefaultTaskType     = "telegram"
	DefaultPollSeconds  = 5
	DefaultContextLimit = 8
	DefaultTmpDir       = "./tmp"
	DefaultImagesDir    = "./images"
	DefaultAssetsDir    = "./assets"
)

type Config struct {
	Store     StoreConfig     `json:"store"`
	Channels  ChannelsConfig  `json:"channels"`
	Responder ResponderConfig `json:"responder"`
	Provider  ProviderConfig  `json:"provider"`
	Media     MediaConfig     `json:"media"`
	Catalog   CatalogConfig   `json:"catalog"`
}

type StoreConfig struct {
	Listen string `json:"listen"`
	DBPath string `json:"dbPath"`
	URL    string `json:"url"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
	Debug     bool     `json:"debug,omitempty"`
}

type ResponderConfig struct {
	Handle           string `json:"handle"`
	Model            string `json:"model"`
	TaskType         string `json:"taskType"`
	SystemPromptPath string `json:"systemPromptPath,omitempty"`
	PollSeconds      int    `json:"pollSeconds"`
	ContextLimit     int    `json:"contextLimit"`
}

type ProviderConfig struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
	Referer string `json:"referer,omitempty"`
	AppName string `json:"appName,omitempty"`
}

type MediaConfig struct {
	Endpoint     string `json:"endpoint"`
	APIKey       string `json:"apiKey"`
	PublicDomain string `json:"publicDomain"`
	TmpDir       string `json:"tmpDir"`
}

type CatalogConfig struct {
	ImagesDir string `json:"imagesDir"`
	AssetsDir string `json:"assetsDir"`
}

func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Listen: DefaultStoreListen,
			DBPath: filepath.Join(ConfigDir(), "data", "ratimint.db"),
			URL:    DefaultStoreURL,
		},
		Channels: ChannelsConfig{},
		Responder: ResponderConfig{
			Handle:       DefaultBotHandle,
			Model:        DefaultModel,
			TaskType:     DefaultTaskType,
			PollSeconds:  DefaultPollSeconds,
			ContextLimit: DefaultContextLimit,
		},
		Provider: ProviderConfig{
			BaseURL: DefaultBaseURL,
		},
		Media: MediaConfig{
			TmpDir: DefaultTmpDir,
		},
		Catalog: CatalogConfig{
			ImagesDir: DefaultImagesDir,
			AssetsDir: DefaultAssetsDir,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".ratimint")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if token := os.Getenv("BOT_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
		cfg.Channels.Telegram.Enabled = true
	}
	if debug := os.Getenv("DEBUG_MODE"); debug != "" {
		if parsed, err := strconv.ParseBool(debug); err == nil {
			cfg.Channels.Telegram.Debug = parsed
		}
	}
	if handle := os.Getenv("BOT_HANDLE"); handle != "" {
		cfg.Responder.Handle = handle
	}
	if model := os.Getenv("VISION_MODEL"); model != "" {
		cfg.Responder.Model = model
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("OPENAI_API_URI"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if referer := os.Getenv("YOUR_SITE_URL"); referer != "" {
		cfg.Provider.Referer = referer
	}
	if name := os.Getenv("YOUR_APP_NAME"); name != "" {
		cfg.Provider.AppName = name
	}
	if key := os.Getenv("S3_API_KEY"); key != "" {
		cfg.Media.APIKey = key
	}
	if endpoint := os.Getenv("S3_API_ENDPOINT"); endpoint != "" {
		cfg.Media.Endpoint = endpoint
	}
	if domain := os.Getenv("CLOUDFRONT_DOMAIN"); domain != "" {
		cfg.Media.PublicDomain = domain
	}
	if url := os.Getenv("RATIMINT_STORE_URL"); url != "" {
		cfg.Store.URL = url
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		cfg.Store.Listen = ":" + port
		// Keep the client pointed at the same port unless the URL was set
		// explicitly (file or RATIMINT_STORE_URL above).
		if cfg.Store.URL == DefaultStoreURL {
			cfg.Store.URL = "http://127.0.0.1:" + port
		}
	}
	if dbPath := os.Getenv("RATIMINT_DB_PATH"); dbPath != "" {
		cfg.Store.DBPath = dbPath
	}

	if cfg.Responder.Handle == "" {
		cfg.Responder.Handle = DefaultBotHandle
	}
	if cfg.Responder.TaskType == "" {
		cfg.Responder.TaskType = DefaultTaskType
	}
	if cfg.Responder.PollSeconds <= 0 {
		cfg.Responder.PollSeconds = DefaultPollSeconds
	}
	if cfg.Responder.ContextLimit <= 0 {
		cfg.Responder.ContextLimit = DefaultContextLimit
	}
	if cfg.Media.TmpDir == "" {
		cfg.Media.TmpDir = DefaultTmpDir
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
