package configutil

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ApplyEnv overlays environment variables onto a config struct that was
// (possibly) read from disk. Fields are mapped via their `env` tags, so
// variables always win over file values.
func ApplyEnv(cfg any) error {
	err := env.Parse(cfg)
	if err != nil {
		return fmt.Errorf("parse env config: %w", err)
	}
	return nil
}
