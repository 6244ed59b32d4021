package hleruntime

import (
	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/errors"
)

// NewLogger builds the logger described by cfg.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log level")
	}
	zc.Level = level

	log, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "build logger")
	}
	return log, nil
}

func faultFields(err *errors.Error) []zap.Field {
	fields := []zap.Field{
		zap.String("phase", string(err.Phase)),
		zap.String("kind", string(err.Kind)),
	}
	if err.Addr != 0 {
		fields = append(fields, zap.String("addr", hex(err.Addr)))
	}
	if err.Symbol != "" {
		fields = append(fields, zap.String("symbol", err.Symbol))
	}
	if err.Detail != "" {
		fields = append(fields, zap.String("detail", err.Detail))
	}
	if err.Cause != nil {
		fields = append(fields, zap.NamedError("cause", err.Cause))
	}
	return fields
}
