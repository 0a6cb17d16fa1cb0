package main

import (
	"flag"
	"fmt"
	"log/slog"
)

// defined flags
var (
	levelFlag   logLevelFlag
	envFileFlag = flag.String("env", ".env", "Load environment variables from this file when it exists")
)

func init() {
	levelFlag.value = slog.LevelInfo
	flag.Var(&levelFlag, "loglevel", "set log level: debug, info, warn or error")
}

// logLevelFlag is a flag.Value for slog levels, e.g. "debug" or "WARN".
type logLevelFlag struct {
	value slog.Level
}

func (l *logLevelFlag) String() string {
	return l.value.String()
}

func (l *logLevelFlag) Set(value string) error {
	var v slog.Level
	if err := v.UnmarshalText([]byte(value)); err != nil {
		return fmt.Errorf("unknown log level: %s", value)
	}
	l.value = v
	return nil
}
