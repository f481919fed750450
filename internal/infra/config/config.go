package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Connect modes understood by the transport factory.
const (
	ModeWebSocket = "websocket"
	ModeGRPC      = "grpc"
)

// Config is the top-level bot configuration.
type Config struct {
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
	Server   ServerConfig   `yaml:"server"`
	Bot      BotConfig      `yaml:"bot"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Command  CommandConfig  `yaml:"command"`
	Includes []string       `yaml:"includes,omitempty"`
}

// ServerConfig describes how to reach the chat server.
type ServerConfig struct {
	Host        string        `yaml:"host"`
	ConnectMode string        `yaml:"connect_mode"` // "websocket" or "grpc"
	APIKey      string        `yaml:"api_key"`
	Secure      bool          `yaml:"secure"` // wss:// for websocket
	Timeout     time.Duration `yaml:"timeout"`
	Retry       int           `yaml:"retry"`     // reconnect attempts, 0 = never
	SendRate    int           `yaml:"send_rate"` // messages per minute, 0 = unlimited
	SendBurst   int           `yaml:"send_burst"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds circuit breaker settings for outbound publishing.
type BreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// BotConfig holds the bot account credentials.
type BotConfig struct {
	Name   string `yaml:"name"`
	Scheme string `yaml:"scheme"` // "basic" or "token"
	Secret string `yaml:"secret"`
}

// DispatchConfig tunes listener selection.
type DispatchConfig struct {
	Threshold   float64       `yaml:"threshold"`
	WaitTimeout time.Duration `yaml:"wait_timeout"`
}

// CommandConfig holds command parsing settings.
type CommandConfig struct {
	Prefixes []string `yaml:"prefixes"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	SampleRatio float64 `yaml:"sample_ratio"` // 0 samples everything
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
		Server: ServerConfig{
			Host:        "localhost:16060",
			ConnectMode: ModeWebSocket,
			APIKey:      "AQEAAAABAAD_rAp4DJh05a1HAwFT3A6K",
			Timeout:     5 * time.Second,
			Retry:       5,
			SendRate:    60,
			SendBurst:   5,
			Breaker: BreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Bot: BotConfig{
			Name:   "karuha",
			Scheme: "basic",
		},
		Dispatch: DispatchConfig{
			Threshold:   0.4,
			WaitTimeout: 5 * time.Minute,
		},
		Command: CommandConfig{
			Prefixes: []string{"/"},
		},
	}
}

// Load reads a YAML config file, merges it with defaults, applies env overrides
// and validates the result. A missing file yields defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finish(cfg)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}
		// The main file wins over anything it includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("KARUHA_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies KARUHA_* environment variables on top of cfg.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KARUHA_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("KARUHA_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("KARUHA_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("KARUHA_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("KARUHA_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("KARUHA_SERVER_MODE"); v != "" {
		cfg.Server.ConnectMode = strings.ToLower(v)
	}
	if v := os.Getenv("KARUHA_SERVER_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("KARUHA_SERVER_SEND_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Server.SendRate = n
		}
	}
	if v := os.Getenv("KARUHA_BOT_NAME"); v != "" {
		cfg.Bot.Name = v
	}
	if v := os.Getenv("KARUHA_BOT_SECRET"); v != "" {
		cfg.Bot.Secret = v
	}
	if v := os.Getenv("KARUHA_DISPATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Dispatch.Threshold = f
		}
	}
	if v := os.Getenv("KARUHA_DISPATCH_WAIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Dispatch.WaitTimeout = d
		}
	}
	if v := os.Getenv("KARUHA_COMMAND_PREFIX"); v != "" {
		cfg.Command.Prefixes = splitAndTrim(v, ",")
	}
}

// splitAndTrim splits s by sep, trims each element and drops empty ones.
func splitAndTrim(s, sep string) []string {
	var out []string
	for part := range strings.SplitSeq(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// decryptSecrets replaces "enc:..." credential values with their plaintext.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := []struct {
		name  string
		value *string
	}{
		{"server.api_key", &cfg.Server.APIKey},
		{"bot.secret", &cfg.Bot.Secret},
	}
	for _, s := range secrets {
		enc, ok := strings.CutPrefix(*s.value, "enc:")
		if !ok {
			continue
		}
		plain, err := DecryptValue(enc, passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		*s.value = plain
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
// The result is hex(salt) + ":" + hex(nonce+ciphertext).
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sealed), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}

// newGCM derives a 32-byte Argon2id key from passphrase and salt.
func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
