package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const (
	// AppName is the application directory name.
	AppName = "firetodo"

	// ClientFile is the terminal client's preferences filename.
	ClientFile = "client.toml"
)

// Client holds the terminal client's preferences.
type Client struct {
	ServerURL string `toml:"server_url"`
	DarkMode  bool   `toml:"dark_mode"`
	Email     string `toml:"email,omitempty"`

	path string
}

// DefaultConfigDir returns the default configuration directory.
// Uses XDG_CONFIG_HOME if set, otherwise $HOME/.config.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return AppName
	}
	return filepath.Join(home, ".config", AppName)
}

// LoadClient reads dir/client.toml. A missing file yields defaults.
func LoadClient(dir string) (*Client, error) {
	if dir == "" {
		dir = DefaultConfigDir()
	}
	cfg := &Client{
		ServerURL: "http://localhost:8080",
		path:      filepath.Join(dir, ClientFile),
	}

	_, err := toml.DecodeFile(cfg.path, cfg)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", cfg.path, err)
	}
	return cfg, nil
}

// Path returns the file the preferences are saved to.
func (c *Client) Path() string { return c.path }

// Save writes the preferences, creating the directory with mode 0700.
func (c *Client) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.path, err)
	}
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", c.path, err)
	}
	return f.Close()
}

// SaveDarkMode records the theme choice.
func (c *Client) SaveDarkMode(enabled bool) error {
	c.DarkMode = enabled
	return c.Save()
}

// SaveEmail remembers the last signed-in address for the sign-in form.
func (c *Client) SaveEmail(email string) error {
	if c.Email == email {
		return nil
	}
	c.Email = email
	return c.Save()
}
