package main

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	realtime "github.com/holyhome/realtime-go"
)

// Environment variables read when neither a flag nor the config file sets a
// value. HOLYHOME_API_URL and HOLYHOME_ORIGIN are handled by the library.
const (
	envAccessToken  = "HOLYHOME_TOKEN"
	envRefreshToken = "HOLYHOME_REFRESH_TOKEN"
	envLogLevel     = "HOLYHOME_LOG_LEVEL"
)

// fileConfig is the YAML config file layout.
type fileConfig struct {
	APIURL           string        `yaml:"api_url"`
	Origin           string        `yaml:"origin"`
	AccessToken      string        `yaml:"access_token"`
	RefreshToken     string        `yaml:"refresh_token"`
	LogLevel         string        `yaml:"log_level"`
	Format           string        `yaml:"format"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	Reconnect        struct {
		BaseDelay   time.Duration `yaml:"base_delay"`
		MaxDelay    time.Duration `yaml:"max_delay"`
		MaxAttempts int           `yaml:"max_attempts"`
	} `yaml:"reconnect"`
}

func loadConfigFile(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config file failed")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config file %s failed", path)
	}
	return cfg, nil
}

// merge layers flag values over the file and the file over the environment.
func (c fileConfig) merge(flags fileConfig) fileConfig {
	out := c
	set := func(dst *string, flag, env string) {
		if flag != "" {
			*dst = flag
		}
		if *dst == "" && env != "" {
			*dst = os.Getenv(env)
		}
	}
	set(&out.APIURL, flags.APIURL, "")
	set(&out.Origin, flags.Origin, "")
	set(&out.AccessToken, flags.AccessToken, envAccessToken)
	set(&out.RefreshToken, flags.RefreshToken, envRefreshToken)
	set(&out.LogLevel, flags.LogLevel, envLogLevel)
	set(&out.Format, flags.Format, "")
	if flags.HandshakeTimeout > 0 {
		out.HandshakeTimeout = flags.HandshakeTimeout
	}
	if flags.Reconnect.MaxAttempts > 0 {
		out.Reconnect.MaxAttempts = flags.Reconnect.MaxAttempts
	}
	return out
}

func (c fileConfig) clientConfig() realtime.Config {
	return realtime.Config{
		APIURL:           c.APIURL,
		Origin:           c.Origin,
		HandshakeTimeout: c.HandshakeTimeout,
	}
}

func (c fileConfig) reconnectPolicy() realtime.ReconnectPolicy {
	return realtime.ReconnectPolicy{
		BaseDelay:   c.Reconnect.BaseDelay,
		MaxDelay:    c.Reconnect.MaxDelay,
		MaxAttempts: c.Reconnect.MaxAttempts,
	}
}

// httpAPIURL returns the absolute HTTP base of the API, resolving a relative
// APIURL against Origin.
func (c fileConfig) httpAPIURL() (string, error) {
	apiURL := c.APIURL
	if apiURL == "" {
		apiURL = os.Getenv("HOLYHOME_API_URL")
	}
	base, err := url.Parse(apiURL)
	if err != nil {
		return "", errors.Wrap(err, "parse api url failed")
	}
	if base.IsAbs() {
		return strings.TrimRight(apiURL, "/"), nil
	}
	origin := c.Origin
	if origin == "" {
		origin = os.Getenv("HOLYHOME_ORIGIN")
	}
	page, err := url.Parse(origin)
	if err != nil || page.Host == "" {
		return "", errors.Errorf("relative api url %q needs an origin", apiURL)
	}
	return strings.TrimRight(page.ResolveReference(base).String(), "/"), nil
}

// tokenSource picks a refreshing source when a refresh token is configured.
func (c fileConfig) tokenSource() (realtime.TokenSource, error) {
	if c.RefreshToken == "" {
		return realtime.StaticToken(c.AccessToken), nil
	}
	apiURL, err := c.httpAPIURL()
	if err != nil {
		return nil, err
	}
	src := realtime.NewHTTPTokenSource(apiURL, c.AccessToken, c.RefreshToken, nil)
	src.OnRefresh(func(access, refresh string) {
		logger.Info("access token refreshed")
	})
	return src, nil
}
