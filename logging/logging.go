// Package logging adjusts go-log subsystem levels.
package logging

import (
	"fmt"
	"strings"

	golog "github.com/ipfs/go-log/v2"
	"go.uber.org/zap/zapcore"
)

// SetLogLevels sets levels for the given systems. The "*" system applies to
// every registered subsystem.
func SetLogLevels(systems map[string]golog.LogLevel) error {
	for sys, level := range systems {
		name := zapcore.Level(level).CapitalString()
		if sys == "*" {
			for _, s := range golog.GetSubsystems() {
				if err := golog.SetLogLevel(s, name); err != nil {
					return fmt.Errorf("setting %s level: %v", s, err)
				}
			}
			continue
		}
		if err := golog.SetLogLevel(sys, name); err != nil {
			return fmt.Errorf("setting %s level: %v", sys, err)
		}
	}
	return nil
}

// ParseLevels parses a comma separated list of system=level pairs, such as
// "auctiond/poller=debug,chain=warn".
func ParseLevels(s string) (map[string]golog.LogLevel, error) {
	levels := make(map[string]golog.LogLevel)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		sys, lvl, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(sys) == "" {
			return nil, fmt.Errorf("invalid log level %q, expected system=level", pair)
		}
		level, err := golog.LevelFromString(strings.TrimSpace(lvl))
		if err != nil {
			return nil, fmt.Errorf("parsing level of %s: %v", sys, err)
		}
		levels[strings.TrimSpace(sys)] = level
	}
	return levels, nil
}
