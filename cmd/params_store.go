package cmd

import (
	"errors"
	"io/fs"

	"github.com/smazurov/monocam/internal/camera"
	"github.com/smazurov/monocam/internal/config"
	"github.com/smazurov/monocam/internal/logging"
	"github.com/smazurov/monocam/internal/params"
)

// loadParameters declares the node parameters over the [camera] table of
// path. A missing file yields the defaults.
func loadParameters(path string, logger logging.Logger) (*params.Store, map[string]any, camera.Config, error) {
	overrides, err := config.LoadCameraParameters(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, camera.Config{}, err
		}
		overrides = map[string]any{}
	}
	store := params.NewStore(overrides, logger)
	cfg := camera.DeclareParameters(store)
	return store, overrides, cfg, nil
}

// initLogging configures logging from the [logging] table of path.
func initLogging(path string, jsonFormat bool) {
	cfg := config.LoadLoggingConfig(path)
	if jsonFormat {
		cfg.Format = "json"
	}
	logging.Initialize(cfg)
}
