package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the log level
// is applied live; every other change needs a restart because the indexes
// are built once at start-up.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the top-level sections whose changes take effect
	// only after a restart, in declaration order.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"providers", old.Providers, new.Providers},
		{"pipeline", old.Pipeline, new.Pipeline},
		{"escalation", old.Escalation, new.Escalation},
		{"categories_file", old.CategoriesFile, new.CategoriesFile},
		{"knowledge", old.Knowledge, new.Knowledge},
		{"cache", old.Cache, new.Cache},
		{"evaluation", old.Evaluation, new.Evaluation},
		{"mcp", old.MCP, new.MCP},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
