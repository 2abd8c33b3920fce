// Package provider implements the IVXP/1.0 provider runtime: quoting,
// payment acceptance, order processing, delivery, and confirmation over the
// protocol's HTTP surface.
package provider

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	ivxp "github.com/ivxp/ivxp-go"
)

// Defaults applied by NewConfig and ConfigFromEnv.
const (
	DefaultHost         = "127.0.0.1"
	DefaultPort         = 3001
	DefaultProviderName = "IVXP Provider"
	DefaultNetwork      = ivxp.NetworkBaseSepolia

	// DefaultMaxBodyBytes caps request bodies at 64 KiB.
	DefaultMaxBodyBytes = 64 * 1024
)

// Config holds the provider runtime settings.
type Config struct {
	ProviderName string
	PrivateKey   string
	Network      ivxp.Network
	Host         string
	Port         int

	// BaseURL is the externally reachable address advertised in stream URLs.
	// Empty means derive it from Host and Port.
	BaseURL string

	// AllowPrivateDeliveryURLs disables the private-address guard on push
	// delivery endpoints. Only for tests and local development.
	AllowPrivateDeliveryURLs bool

	MaxBodyBytes int64
}

// NewConfig fills in defaults over cfg.
func NewConfig(cfg Config) Config {
	if cfg.ProviderName == "" {
		cfg.ProviderName = DefaultProviderName
	}
	if cfg.Network == "" {
		cfg.Network = DefaultNetwork
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return cfg
}

// ConfigFromEnv loads configuration from a .env file (when present) and the
// process environment. Recognized variables:
//
//	IVXP_PRIVATE_KEY, IVXP_NETWORK, IVXP_HOST, IVXP_PORT,
//	IVXP_PROVIDER_NAME, IVXP_BASE_URL, IVXP_ALLOW_PRIVATE_DELIVERY_URLS
func ConfigFromEnv() (Config, error) {
	// A missing .env file is fine; the process environment still applies.
	_ = godotenv.Load()

	cfg := Config{
		ProviderName: os.Getenv("IVXP_PROVIDER_NAME"),
		PrivateKey:   os.Getenv("IVXP_PRIVATE_KEY"),
		Network:      ivxp.Network(os.Getenv("IVXP_NETWORK")),
		Host:         os.Getenv("IVXP_HOST"),
		BaseURL:      os.Getenv("IVXP_BASE_URL"),
	}

	if raw := os.Getenv("IVXP_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, ivxp.NewError(ivxp.ErrCodeInvalidProviderConfig,
				fmt.Sprintf("IVXP_PORT %q is not a valid port", raw))
		}
		cfg.Port = port
	}
	if raw := os.Getenv("IVXP_ALLOW_PRIVATE_DELIVERY_URLS"); raw != "" {
		allow, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, ivxp.NewError(ivxp.ErrCodeInvalidProviderConfig,
				fmt.Sprintf("IVXP_ALLOW_PRIVATE_DELIVERY_URLS %q is not a bool", raw))
		}
		cfg.AllowPrivateDeliveryURLs = allow
	}

	cfg = NewConfig(cfg)
	if cfg.Network != "" && !ivxp.IsValidNetwork(cfg.Network) {
		return Config{}, ivxp.NewError(ivxp.ErrCodeInvalidProviderConfig,
			fmt.Sprintf("unknown network %q", cfg.Network))
	}
	return cfg, nil
}
