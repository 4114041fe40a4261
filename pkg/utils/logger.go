package utils

import "go.uber.org/zap"

// NewLogger returns a zap logger writing to stderr so that command output on
// stdout stays machine-readable. Debug selects the development encoder and
// level; otherwise the production JSON encoder at info level is used.
func NewLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
