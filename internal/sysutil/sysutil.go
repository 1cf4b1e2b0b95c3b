// Package sysutil applies process-level runtime settings, currently the
// global zerolog level.
package sysutil

import (
	"strings"

	"github.com/rs/zerolog"
)

// SetLogLevel sets the global zerolog level from a config string.
// "warning" is accepted as an alias for warn; empty or unknown values
// fall back to info.
func SetLogLevel(lvl string) {
	s := strings.ToLower(strings.TrimSpace(lvl))
	if s == "warning" {
		s = "warn"
	}
	l, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		l = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(l)
}
