package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JoseArbillaga/afip/credentials"
	"github.com/JoseArbillaga/afip/wsaa"
)

type Globals struct {
	Debug   bool
	Version string
}

// ClientFlags carries the flags shared by every command that talks to WSAA
// with credentials.
type ClientFlags struct {
	Cert           string        `help:"Path to the PEM encoded certificate" env:"AFIP_CERT"`
	Key            string        `help:"Path to the PEM encoded private key" env:"AFIP_KEY"`
	P12            string        `help:"Path to a PKCS#12 bundle, replaces --cert/--key" env:"AFIP_P12"`
	PassphraseFile string        `help:"File holding the key passphrase" env:"AFIP_PASSPHRASE_FILE"`
	Env            string        `help:"WSAA environment" enum:"testing,production" default:"testing" env:"AFIP_ENV"`
	Services       []string      `help:"Service ids the client may fetch tickets for"`
	Config         string        `help:"YAML/JSON config file path"`
	CacheDir       string        `help:"Base directory for cached tickets" env:"AFIP_CACHE_DIR"`
	NoDiskCache    bool          `help:"Keep tickets in memory only"`
	Timeout        time.Duration `help:"Network timeout per request attempt" default:"15s"`
}

type clientConfig struct {
	Cert           string   `yaml:"cert" json:"cert"`
	Key            string   `yaml:"key" json:"key"`
	P12            string   `yaml:"p12" json:"p12"`
	PassphraseFile string   `yaml:"passphraseFile" json:"passphraseFile"`
	Env            string   `yaml:"env" json:"env"`
	Services       []string `yaml:"services" json:"services"`
	CacheDir       string   `yaml:"cacheDir" json:"cacheDir"`
}

func (f *ClientFlags) loadConfigFile() error {
	data, err := os.ReadFile(f.Config)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config clientConfig

	// Determine file format by extension
	if strings.HasSuffix(strings.ToLower(f.Config), ".json") {
		if err := json.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	} else {
		// Default to YAML
		if err := yaml.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	// Override struct fields with config values (config file takes precedence over flags)
	if config.Cert != "" {
		f.Cert = config.Cert
	}
	if config.Key != "" {
		f.Key = config.Key
	}
	if config.P12 != "" {
		f.P12 = config.P12
	}
	if config.PassphraseFile != "" {
		f.PassphraseFile = config.PassphraseFile
	}
	if config.Env != "" {
		f.Env = config.Env
	}
	if len(config.Services) > 0 {
		f.Services = config.Services
	}
	if config.CacheDir != "" {
		f.CacheDir = config.CacheDir
	}

	return nil
}

func (f *ClientFlags) passphrase() (string, error) {
	if f.PassphraseFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(f.PassphraseFile)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (f *ClientFlags) source() (credentials.Source, error) {
	passphrase, err := f.passphrase()
	if err != nil {
		return nil, err
	}

	switch {
	case f.P12 != "":
		return credentials.P12Source(f.P12, passphrase), nil
	case f.Cert != "" && f.Key != "":
		return credentials.FileSource(f.Cert, f.Key, passphrase), nil
	default:
		return nil, errors.New("credentials are required, pass --cert and --key or --p12")
	}
}

func (f *ClientFlags) environment() (wsaa.Environment, error) {
	return wsaa.ParseEnvironment(f.Env)
}

func (f *ClientFlags) buildClient() (*wsaa.Client, wsaa.Environment, error) {
	// Load config from file if provided
	if f.Config != "" {
		if err := f.loadConfigFile(); err != nil {
			return nil, "", fmt.Errorf("failed to load config file: %w", err)
		}
	}

	env, err := f.environment()
	if err != nil {
		return nil, "", err
	}

	source, err := f.source()
	if err != nil {
		return nil, "", err
	}

	client, err := wsaa.NewClient(wsaa.Options{
		Credentials:      source,
		Services:         f.Services,
		RequestTimeout:   f.Timeout,
		CacheDir:         f.CacheDir,
		DisableDiskCache: f.NoDiskCache,
	})
	if err != nil {
		return nil, "", err
	}

	return client, env, nil
}

// Cache layout mirrors wsaa.NewClient: tickets under <base>/tickets, the
// probe's HTTP cache under <base>/http.
func ticketCacheDir(base string) string {
	if base == "" {
		return ""
	}
	return filepath.Join(base, "tickets")
}

func httpCacheDir(base string) string {
	if base == "" {
		return ""
	}
	return filepath.Join(base, "http")
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
