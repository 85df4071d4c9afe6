package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables read by a11yscan.
const (
	// EnvS3AccessKey holds the S3 access key.
	EnvS3AccessKey = "A11YSCAN_S3_ACCESS_KEY"

	// EnvS3SecretKey holds the S3 secret key.
	EnvS3SecretKey = "A11YSCAN_S3_SECRET_KEY"

	// EnvAxeScript overrides the default axe-core bundle path.
	EnvAxeScript = "A11YSCAN_AXE_SCRIPT"

	// EnvChromePath overrides the Chrome executable.
	EnvChromePath = "A11YSCAN_CHROME_PATH"

	// EnvPort is the listen port of the HTTP front end, as set by most
	// container platforms.
	EnvPort = "PORT"
)

// envFile is the dotenv file name.
const envFile = ".env"

// LoadEnv loads .env from the current directory and then from the XDG
// config directory. Variables already set are never overwritten, and
// missing files are skipped.
func LoadEnv() error {
	candidates := []string{envFile, filepath.Join(XDGConfigDir(), envFile)}
	for _, path := range candidates {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// ApplyEnv fills options left at their defaults from the environment.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvAxeScript)); v != "" && c.AxeScript == DefaultAxeScript {
		c.AxeScript = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvChromePath)); v != "" && c.ChromePath == "" {
		c.ChromePath = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPort)); v != "" && c.ServerAddr == DefaultServerAddr {
		c.ServerAddr = ":" + v
	}
}

// ResolveCredentials copies the S3 credentials from the environment.
// It is a no-op for the file backend.
func (s *StorageConfig) ResolveCredentials() error {
	if !s.IsS3() {
		return nil
	}
	s.S3.AccessKey = strings.TrimSpace(os.Getenv(EnvS3AccessKey))
	s.S3.SecretKey = strings.TrimSpace(os.Getenv(EnvS3SecretKey))
	if s.S3.AccessKey == "" || s.S3.SecretKey == "" {
		return ErrMissingCredentials
	}
	return nil
}
