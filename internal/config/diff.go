package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SettingsChanged is true when any late-bound pipeline setting changed.
	// Running sessions pick those up on their next tick.
	SettingsChanged bool

	// GlossaryChanged is true when the glossary terms changed. The
	// corrector is rebuilt for the next session.
	GlossaryChanged bool

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.SettingsChanged = !reflect.DeepEqual(old.Settings(), new.Settings())
	d.GlossaryChanged = !slices.Equal(old.Glossary, new.Glossary)

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldServer.ConfigPollInterval, newServer.ConfigPollInterval = 0, 0

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"audio", old.Audio, new.Audio},
		{"validation", old.Validation, new.Validation},
		{"providers", old.Providers, new.Providers},
		{"breaker", old.Breaker, new.Breaker},
		{"sinks", old.Sinks, new.Sinks},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}

// Empty reports whether d records no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SettingsChanged && !d.GlossaryChanged && len(d.RestartRequired) == 0
}
