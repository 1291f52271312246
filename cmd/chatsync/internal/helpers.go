package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/bookline/chatsync/pkg/auth"
	"github.com/bookline/chatsync/pkg/config"
)

const Logo = "💬"

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

func GetConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatsync", "config.json")
}

// LoadConfig reads the config file and overlays the saved credential, if one
// exists, onto any fields the config leaves blank.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(GetConfigPath())
	if err != nil {
		return nil, err
	}

	cred, err := auth.Load(auth.CredentialsPath())
	if err != nil {
		return nil, fmt.Errorf("error loading credential: %w", err)
	}
	if cred != nil {
		if cfg.Token == "" {
			cfg.Token = cred.Token
		}
		if cfg.UserID == "" {
			cfg.UserID = cred.UserID
		}
	}

	return cfg, nil
}

// FormatVersion returns the version string with optional git commit
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// FormatBuildInfo returns build time and go version info
func FormatBuildInfo() (string, string) {
	build := buildTime
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return build, goVer
}

// GetVersion returns the version string
func GetVersion() string {
	return version
}
