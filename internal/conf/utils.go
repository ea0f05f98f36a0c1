package conf

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/tphakala/audiosrc/internal/errors"
)

// GetDefaultConfigPaths returns the directories searched for config.yaml, in order.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("configuration").
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	if runtime.GOOS == "windows" {
		exePath, err := os.Executable()
		if err != nil {
			return nil, errors.New(err).
				Component("configuration").
				Category(errors.CategorySystem).
				Context("operation", "get-executable-path").
				Build()
		}
		return []string{
			".",
			filepath.Dir(exePath),
			filepath.Join(homeDir, "AppData", "Roaming", "audiosrc"),
		}, nil
	}

	return []string{
		".",
		filepath.Join(homeDir, ".config", "audiosrc"),
		"/etc/audiosrc",
	}, nil
}

// FindConfigFile returns the first config.yaml found in the default paths.
func FindConfigFile() (string, error) {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", err
	}

	for _, path := range configPaths {
		configFilePath := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFilePath); err == nil {
			return configFilePath, nil
		}
	}

	return "", errors.Newf("config file not found").
		Component("configuration").
		Category(errors.CategoryFileIO).
		Context("operation", "find-config-file").
		Build()
}
