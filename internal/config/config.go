package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// VideoConfig is the fixed output frame geometry and cadence.
type VideoConfig struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
	FPS    int `json:"fps" yaml:"fps"`
}

// Interval returns the cadence tick period for the configured frame rate.
func (v VideoConfig) Interval() time.Duration {
	fps := v.FPS
	if fps <= 0 {
		fps = 30
	}
	return time.Second / time.Duration(fps)
}

// DeviceConfig names the virtual device the relay serves.
type DeviceConfig struct {
	Name string `json:"name" yaml:"name"`
}

// ConsumerConfig configures the consumer-side server.
type ConsumerConfig struct {
	ListenPort int `json:"listen_port" yaml:"listen_port"`
}

// ProducerConfig configures the producer-side supervisor.
type ProducerConfig struct {
	RegistryURL         string `json:"registry_url" yaml:"registry_url"`
	MaxRetries          int    `json:"max_retries" yaml:"max_retries"`
	RetryDelayMs        int    `json:"retry_delay_ms" yaml:"retry_delay_ms"`
	FailedPublishBudget int    `json:"failed_publish_budget" yaml:"failed_publish_budget"`
}

// RetryDelay returns the fixed delay between connection attempts.
func (p ProducerConfig) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelayMs) * time.Millisecond
}

// Config represents the application configuration
type Config struct {
	Video    VideoConfig    `json:"video" yaml:"video"`
	Device   DeviceConfig   `json:"device" yaml:"device"`
	Consumer ConsumerConfig `json:"consumer" yaml:"consumer"`
	Producer ProducerConfig `json:"producer" yaml:"producer"`

	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogPretty bool   `json:"log_pretty" yaml:"log_pretty"`
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager. With an empty configFile
// the default path under ~/.config/camrelay is used; a missing file is
// created with defaults.
func NewManager(configFile string) (*Manager, error) {
	if configFile == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configFile = filepath.Join(homeDir, ".config", "camrelay", "config.yaml")
	}

	m := &Manager{configPath: configFile}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// getDefaults returns the built-in configuration
func (m *Manager) getDefaults() *Config {
	return &Config{
		Video: VideoConfig{
			Width:  1280,
			Height: 720,
			FPS:    30,
		},
		Device: DeviceConfig{
			Name: "CamRelay Camera",
		},
		Consumer: ConsumerConfig{
			ListenPort: 8090,
		},
		Producer: ProducerConfig{
			RegistryURL:         "http://localhost:8090",
			MaxRetries:          5,
			RetryDelayMs:        500,
			FailedPublishBudget: 60,
		},
		LogLevel:  "info",
		LogPretty: false,
	}
}

// load reads the config file, creating it with defaults when absent
func (m *Manager) load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.configPath)
	if os.IsNotExist(err) {
		m.config = m.getDefaults()
		return m.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := m.getDefaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	m.config = cfg
	return nil
}

// Get returns the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	return &cfg
}

// Save persists the configuration to disk
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Update replaces the configuration and persists it
func (m *Manager) Update(cfg *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cfg
	m.config = &c
	return m.saveLocked()
}

// SetPort overrides the consumer listen port
func (m *Manager) SetPort(port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Consumer.ListenPort = port
}

// SetLogLevel overrides the log level
func (m *Manager) SetLogLevel(level string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.LogLevel = level
}

// SetRegistryURL overrides the producer's discovery endpoint
func (m *Manager) SetRegistryURL(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Producer.RegistryURL = url
}

// GetConfigPath returns the configuration file path
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
