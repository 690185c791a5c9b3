package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sage3/foresight/errors"
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validateURL("server.url", c.Server.URL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("server.socket_url", c.Server.SocketURL, "ws", "wss"); err != nil {
		return err
	}
	if err := validateURL("kernel.url", c.Kernel.URL, "http", "https"); err != nil {
		return err
	}
	if c.Server.Token == "" {
		return errors.New(errors.ErrCodeConfigValidation,
			fmt.Sprintf("server.token is empty; set it in the config file or via %s", DefaultTokenEnv))
	}
	if c.Redis.Addr == "" {
		return errors.New(errors.ErrCodeConfigValidation, "redis.addr cannot be empty")
	}
	if c.Redis.ResultsChannel == "" {
		return errors.New(errors.ErrCodeConfigValidation, "redis.results_channel cannot be empty")
	}
	switch c.Daemon.DedupPolicy {
	case "", DedupEquality, DedupMonotonic:
	default:
		return errors.New(errors.ErrCodeConfigValidation,
			fmt.Sprintf("daemon.dedup_policy must be %s or %s, got %q", DedupEquality, DedupMonotonic, c.Daemon.DedupPolicy))
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf("%s is required", field)).
			WithDetail("field", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigValidation, fmt.Sprintf("%s is not a valid URL", field)).
			WithDetail("field", field)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf("%s has no host", field)).
					WithDetail("field", field)
			}
			return nil
		}
	}
	return errors.New(errors.ErrCodeConfigValidation,
		fmt.Sprintf("%s must use one of %s, got %q", field, strings.Join(schemes, ", "), u.Scheme)).
		WithDetail("field", field)
}

// deriveSocketURL turns http://host:port into ws://host:port/api, the path the
// SAGE3 server serves subscriptions on.
func deriveSocketURL(httpURL string) string {
	u, err := url.Parse(httpURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api"
	return u.String()
}
