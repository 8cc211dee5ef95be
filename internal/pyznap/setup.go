package pyznap

import (
	_ "embed"
	"os"
	"path/filepath"
)

//go:embed config/pyznap.conf
var sampleConfig []byte

// DefaultConfigDir is where pyznap looks for its configuration.
const DefaultConfigDir = "/etc/pyznap"

// ConfigFile returns the config file path inside a config directory.
func ConfigFile(dir string) string {
	return filepath.Join(dir, "pyznap.conf")
}

// Setup seeds a config directory with the sample configuration. Existing
// files are left alone.
func Setup(dir string) error {
	Logger.Info().Msg("initial setup")

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		Logger.Info().Msgf("creating directory %s", dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return ErrConfig.Wrap(err, "cannot create '%s'", dir)
		}
	} else {
		Logger.Info().Msgf("directory %s already exists", dir)
	}

	file := ConfigFile(dir)
	if _, err := os.Stat(file); err == nil {
		Logger.Info().Msgf("file %s already exists", file)
		return nil
	}

	Logger.Info().Msgf("creating sample config %s", file)
	if err := os.WriteFile(file, sampleConfig, 0o644); err != nil {
		return ErrConfig.Wrap(err, "cannot write '%s'", file)
	}
	return nil
}
