package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateUpload() error {
	endpoint := strings.TrimSpace(c.Upload.Endpoint)
	if endpoint == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/courier/config.toml"
		}
		return fmt.Errorf("upload.endpoint is required. Edit %s (create with 'courier config init')", defaultPath)
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("upload.endpoint %q is not a valid URL", endpoint)
	}
	if c.Upload.RequestTimeout <= 0 {
		return errors.New("upload.request_timeout must be positive (seconds)")
	}
	if c.Upload.MaxRateLimitHits < 0 {
		return errors.New("upload.max_rate_limit_hits must be >= 0 (0 disables the ceiling)")
	}
	return nil
}

func (c *Config) validateAuth() error {
	if strings.TrimSpace(c.Auth.Token) != "" && strings.TrimSpace(c.Auth.TokenFile) != "" {
		return errors.New("auth.token and auth.token_file are mutually exclusive")
	}
	if c.Auth.RefreshInterval <= 0 {
		return errors.New("auth.refresh_interval must be positive (seconds)")
	}
	if c.Auth.RefreshLead <= 0 {
		return errors.New("auth.refresh_lead must be positive (seconds)")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive (seconds)")
	}
	return nil
}
