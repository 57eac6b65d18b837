// Package logging builds the ectologger instance used across the service,
// writing structured messages through a zap core.
package logging

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"
	"go.uber.org/zap"
)

var levelRank = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
	"fatal": 4,
}

func rank(level string) int {
	if r, ok := levelRank[strings.ToLower(level)]; ok {
		return r
	}
	return levelRank["info"]
}

// Config controls how the service logger is built.
type Config struct {
	AppName    string
	Level      string
	PrettyLogs bool
}

// New returns the shared service logger. Messages are serialized once and
// handed to zap so output format and sinks stay consistent with the rest of
// the platform.
func New(cfg Config) (ectologger.Logger, error) {
	var zl *zap.Logger
	var err error
	if cfg.PrettyLogs {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}

	zl = zl.Named(cfg.AppName)
	sink := zl.WithOptions(zap.AddCallerSkip(1))

	minLevel := rank(cfg.Level)
	logger := ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		if rank(fmt.Sprint(msg.Level)) < minLevel {
			return
		}
		b, err := json.Marshal(msg)
		if err != nil {
			sink.Error("failed to serialize log message", zap.Error(err))
			return
		}
		sink.Info(string(b))
	})

	return logger, nil
}

// NewNop returns a logger that discards everything. Handy for tests and for
// components that are constructed before configuration is loaded.
func NewNop() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}
