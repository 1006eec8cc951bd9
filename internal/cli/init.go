// Package cli holds helpers for the presenced command line.
package cli

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/veilchat/presence/internal/config"
)

// InitConfigFile writes a starter config with a freshly generated JWT
// secret. It refuses to clobber an existing file.
func InitConfigFile(path string) (config.Config, error) {
	if path == "" {
		return config.Config{}, fmt.Errorf("config path required")
	}
	if _, err := os.Stat(path); err == nil {
		return config.Config{}, fmt.Errorf("%s already exists", path)
	}

	cfg := config.Default()
	secret, err := generateSecret()
	if err != nil {
		return config.Config{}, err
	}
	cfg.JWTSecret = secret

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return config.Config{}, fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return config.Config{}, fmt.Errorf("write config: %w", err)
	}
	return cfg, nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
