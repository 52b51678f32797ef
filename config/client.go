package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	HTTPVersion1 = "http1"
	HTTPVersion2 = "http2"

	DefaultPingInterval = 90 * time.Second
)

// ClientConfig controls how a helper connects to its peers.
type ClientConfig struct {
	HTTP HTTPClientConfig `toml:"http_config" yaml:"http_config"`
}

type HTTPClientConfig struct {
	// Version is "http1" or "http2". HTTP/2 multiplexes every step stream to a
	// peer over one connection.
	Version string `toml:"version" yaml:"version"`

	// PingIntervalSecs is the HTTP/2 keep-alive ping interval.
	PingIntervalSecs *uint64 `toml:"ping_interval_secs" yaml:"ping_interval_secs"`
}

// DefaultClientConfig uses HTTP/2 with a 90 second ping.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{}.withDefaults()
}

// HTTP1ClientConfig is used for peers and test setups without HTTP/2 support.
func HTTP1ClientConfig() ClientConfig {
	return ClientConfig{HTTP: HTTPClientConfig{Version: HTTPVersion1}}
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.HTTP.Version == "" {
		c.HTTP.Version = HTTPVersion2
	}
	if c.HTTP.Version == HTTPVersion2 && c.HTTP.PingIntervalSecs == nil {
		secs := uint64(DefaultPingInterval / time.Second)
		c.HTTP.PingIntervalSecs = &secs
	}
	return c
}

func (c ClientConfig) Validate() error {
	switch strings.ToLower(c.HTTP.Version) {
	case HTTPVersion1, HTTPVersion2, "":
		return nil
	default:
		return fmt.Errorf("unsupported http version %q", c.HTTP.Version)
	}
}

func (c ClientConfig) UseHTTP2() bool {
	return strings.ToLower(c.HTTP.Version) != HTTPVersion1
}

func (c ClientConfig) PingInterval() time.Duration {
	if c.HTTP.PingIntervalSecs == nil {
		return DefaultPingInterval
	}
	return time.Duration(*c.HTTP.PingIntervalSecs) * time.Second
}
