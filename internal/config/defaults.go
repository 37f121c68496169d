package config

// Default returns the built-in configuration values applied before any
// file is decoded on top of them.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: "~/.local/share/courier",
			LogDir:  "~/.local/state/courier",
			APIBind: "",
		},
		Upload: Upload{
			Endpoint:         "",
			RequestTimeout:   15,
			MaxRateLimitHits: 0,
		},
		Auth: Auth{
			RefreshInterval: 300,
			RefreshLead:     60,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
		},
		Logging: Logging{
			Format: "console",
			Level:  "info",
		},
	}
}

func (c *Config) normalize() error {
	for _, field := range []*string{
		&c.Paths.DataDir,
		&c.Paths.LogDir,
		&c.Auth.TokenFile,
	} {
		if *field == "" {
			continue
		}
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}
	return nil
}
