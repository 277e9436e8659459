package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Path       string `yaml:"-"`
	DebugMode  bool   `yaml:"debug_mode"`
	TimeZone   string `yaml:"time_zone"`
	TimeFormat string `yaml:"time_format"`

	Telegram struct {
		BotToken           string `yaml:"bot_token"`
		APIURL             string `yaml:"api_url"`
		SelfHostedAPI      bool   `yaml:"self_hosted_api"`
		OwnerID            int64  `yaml:"owner_id"`
		TargetChatID       int64  `yaml:"target_chat_id"`
		SkipStartupMessage bool   `yaml:"skip_startup_message"`
	} `yaml:"telegram"`

	WhatsApp struct {
		SessionName   string `yaml:"session_name"`
		LoginDatabase struct {
			Type string `yaml:"type"`
			URL  string `yaml:"url"`
		} `yaml:"login_database"`
		IgnoreChats             []string `yaml:"ignore_chats"`
		SkipStatus              bool     `yaml:"skip_status"`
		MaxQRAttempts           int      `yaml:"max_qr_attempts"`
		MaxReconnectAttempts    int      `yaml:"max_reconnect_attempts"`
		ReconnectBaseDelaySecs  int      `yaml:"reconnect_base_delay_secs"`
		ReconnectMaxDelaySecs   int      `yaml:"reconnect_max_delay_secs"`
		SendMessagesFromMyPhone bool     `yaml:"send_messages_from_my_phone"`
	} `yaml:"whatsapp"`

	Security struct {
		EncryptionKey        string `yaml:"encryption_key"`
		MaxMessagesPerMinute int    `yaml:"max_messages_per_minute"`
		MaxMessageLength     int    `yaml:"max_message_length"`
	} `yaml:"security"`

	Scheduler struct {
		TickSeconds int `yaml:"tick_seconds"`
	} `yaml:"scheduler"`

	Media struct {
		DownloadsDir  string `yaml:"downloads_dir"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"media"`

	Database map[string]string `yaml:"database"`
}

func New() *Config {
	return &Config{Path: "config.yaml"}
}

func (cfg *Config) SetDefaults() {
	cfg.TimeZone = "UTC"
	cfg.TimeFormat = "02 Jan 2006, 03:04:05 PM"
	cfg.WhatsApp.SessionName = "wagrambridge"
	cfg.WhatsApp.MaxQRAttempts = 5
	cfg.WhatsApp.MaxReconnectAttempts = 10
	cfg.WhatsApp.ReconnectBaseDelaySecs = 5
	cfg.WhatsApp.ReconnectMaxDelaySecs = 300
	cfg.Security.MaxMessagesPerMinute = 30
	cfg.Security.MaxMessageLength = 4096
	cfg.Scheduler.TickSeconds = 30
	cfg.Media.DownloadsDir = "downloads"
	cfg.Media.RetentionDays = 30
}

func (cfg *Config) LoadConfig() error {
	configBody, err := os.ReadFile(cfg.Path)
	if err != nil {
		return fmt.Errorf("could not read config file: %w", err)
	}

	if err = yaml.Unmarshal(configBody, cfg); err != nil {
		return fmt.Errorf("could not parse config file: %w", err)
	}

	return nil
}

func (cfg *Config) SaveConfig() error {
	newConfigBody, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(cfg.Path, newConfigBody, 0o644)
}

// Validate reports the fatal configuration problems that prevent startup.
func (cfg *Config) Validate() error {
	if cfg.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if cfg.Telegram.OwnerID == 0 {
		return fmt.Errorf("telegram.owner_id is required")
	}
	if cfg.Telegram.TargetChatID == 0 {
		return fmt.Errorf("telegram.target_chat_id is required")
	}
	if cfg.Security.EncryptionKey == "" {
		return fmt.Errorf("security.encryption_key is required")
	}
	if len(cfg.Database) == 0 {
		return fmt.Errorf("database config is required")
	}
	return nil
}
