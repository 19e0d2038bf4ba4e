// Package config loads the mediator's TOML configuration (spec §6.5) and
// the TDK environment file (spec §6.6), grounded on the teacher's
// server/config.LoadConfig: viper + mapstructure decode hooks, defaults
// set before unmarshal, env vars layered over file values.
//
// The mediator config additionally supports `${VAR:default}` inline
// substitution inside TOML string values, a preprocessing pass the
// teacher's config does not need (it relies on viper's native env
// binding instead) because spec §6.5 calls for substitution embedded in
// the file itself, not just top-level env override.
package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// CacheConfig mirrors spec §6.5's cache.* options.
type CacheConfig struct {
	CapacityCount int `mapstructure:"capacity_count"`
	Expire        int `mapstructure:"expire"` // seconds
}

// LimitsConfig mirrors spec §6.5's limits.* options.
type LimitsConfig struct {
	WSSize                     int `mapstructure:"ws_size"`
	MessageExpirySeconds       int `mapstructure:"message_expiry_seconds"`
	ToRecipients               int `mapstructure:"to_recipients"`
	ToKeysPerRecipient         int `mapstructure:"to_keys_per_recipient"`
	CryptoOperationsPerMessage int `mapstructure:"crypto_operations_per_message"`
	OOBInviteTTL               int `mapstructure:"oob_invite_ttl"`
}

// SecurityConfig mirrors spec §6.5's security.* options.
type SecurityConfig struct {
	BlockAnonymousOuterEnvelope bool `mapstructure:"block_anonymous_outer_envelope"`
	ForceSessionDIDMatch        bool `mapstructure:"force_session_did_match"`
	LocalDirectDeliveryAllowed  bool `mapstructure:"local_direct_delivery_allowed"`
	AdminMessagesExpiry         int  `mapstructure:"admin_messages_expiry"`
	BlockRemoteAdminMsgs        bool `mapstructure:"block_remote_admin_msgs"`
}

// ForwardingConfig mirrors spec §6.5's processors.forwarding.* options.
type ForwardingConfig struct {
	BlockedForwarding []string `mapstructure:"blocked_forwarding"`
}

// ProcessorsConfig groups the processors.* namespace.
type ProcessorsConfig struct {
	Forwarding ForwardingConfig `mapstructure:"forwarding"`
}

// MediatorConfig is the mediator's full TOML configuration, per spec §6.5.
type MediatorConfig struct {
	LogLevel                  string `mapstructure:"log_level"`
	ListenAddress             string `mapstructure:"listen_address"`
	EnableHTTPEndpoint        bool   `mapstructure:"enable_http_endpoint"`
	EnableWebSocketEndpoint   bool   `mapstructure:"enable_websocket_endpoint"`
	StatisticsInterval        int    `mapstructure:"statistics_interval"`

	Cache      CacheConfig      `mapstructure:"cache"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	Security   SecurityConfig   `mapstructure:"security"`
	Processors ProcessorsConfig `mapstructure:"processors"`
}

// envSubstitutionPattern matches `${VAR}` and `${VAR:default}`, per spec
// §6.5's inline environment-variable substitution.
var envSubstitutionPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

func substituteEnv(raw []byte) []byte {
	return envSubstitutionPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		groups := envSubstitutionPattern.FindSubmatch(match)
		name, fallback := string(groups[1]), string(groups[2])

		if v, ok := os.LookupEnv(name); ok {
			return []byte(v)
		}

		return []byte(fallback)
	})
}

// DefaultMediatorConfig returns the mediator config's built-in defaults,
// applied before the TOML file and environment are layered on top.
func DefaultMediatorConfig() MediatorConfig {
	return MediatorConfig{
		LogLevel:                "info",
		ListenAddress:           "0.0.0.0:8080",
		EnableHTTPEndpoint:      true,
		EnableWebSocketEndpoint: true,
		StatisticsInterval:      60,
		Cache:                   CacheConfig{CapacityCount: 1000, Expire: 600},
		Limits: LimitsConfig{
			WSSize:                     1 << 20,
			MessageExpirySeconds:       14 * 24 * 3600,
			ToRecipients:               10,
			ToKeysPerRecipient:         10,
			CryptoOperationsPerMessage: 8,
			OOBInviteTTL:               24 * 3600,
		},
		Security: SecurityConfig{
			BlockAnonymousOuterEnvelope: true,
			ForceSessionDIDMatch:        true,
			LocalDirectDeliveryAllowed:  true,
			AdminMessagesExpiry:         300,
			BlockRemoteAdminMsgs:        false,
		},
	}
}

// LoadMediatorConfig reads a TOML file at path, applies `${VAR:default}`
// substitution, layers it over DefaultMediatorConfig, and allows
// TDK_MEDIATOR_-prefixed environment variables to override individual
// keys (e.g. TDK_MEDIATOR_LISTEN_ADDRESS).
func LoadMediatorConfig(path string) (*MediatorConfig, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("."))
	v.SetConfigType("toml")
	v.SetEnvPrefix("TDK_MEDIATOR")
	v.AutomaticEnv()

	defaults := DefaultMediatorConfig()
	applyDefaults(v, defaults)

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read mediator config: %w", err)
		}

		if err := v.ReadConfig(bytes.NewReader(substituteEnv(raw))); err != nil {
			return nil, fmt.Errorf("config: parse mediator config: %w", err)
		}
	}

	cfg := &MediatorConfig{}

	hooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToSliceHookFunc(","),
	)

	if err := v.Unmarshal(cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("config: unmarshal mediator config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(v *viper.Viper, d MediatorConfig) {
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("listen_address", d.ListenAddress)
	v.SetDefault("enable_http_endpoint", d.EnableHTTPEndpoint)
	v.SetDefault("enable_websocket_endpoint", d.EnableWebSocketEndpoint)
	v.SetDefault("statistics_interval", d.StatisticsInterval)

	v.SetDefault("cache.capacity_count", d.Cache.CapacityCount)
	v.SetDefault("cache.expire", d.Cache.Expire)

	v.SetDefault("limits.ws_size", d.Limits.WSSize)
	v.SetDefault("limits.message_expiry_seconds", d.Limits.MessageExpirySeconds)
	v.SetDefault("limits.to_recipients", d.Limits.ToRecipients)
	v.SetDefault("limits.to_keys_per_recipient", d.Limits.ToKeysPerRecipient)
	v.SetDefault("limits.crypto_operations_per_message", d.Limits.CryptoOperationsPerMessage)
	v.SetDefault("limits.oob_invite_ttl", d.Limits.OOBInviteTTL)

	v.SetDefault("security.block_anonymous_outer_envelope", d.Security.BlockAnonymousOuterEnvelope)
	v.SetDefault("security.force_session_did_match", d.Security.ForceSessionDIDMatch)
	v.SetDefault("security.local_direct_delivery_allowed", d.Security.LocalDirectDeliveryAllowed)
	v.SetDefault("security.admin_messages_expiry", d.Security.AdminMessagesExpiry)
	v.SetDefault("security.block_remote_admin_msgs", d.Security.BlockRemoteAdminMsgs)

	v.SetDefault("processors.forwarding.blocked_forwarding", d.Processors.Forwarding.BlockedForwarding)
}
