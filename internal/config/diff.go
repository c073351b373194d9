package config

// ConfigDiff describes what changed between two configs.
// Only sections that can be safely hot-reloaded are tracked; everything else
// (stores, providers, actor topology) requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LimitsChanged      bool
	ModeChanged        bool
	PersonalityChanged bool
	PartnerChanged     bool
}

// Any reports whether the diff carries at least one hot-reloadable change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.LimitsChanged || d.ModeChanged ||
		d.PersonalityChanged || d.PartnerChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Limits != new.Limits {
		d.LimitsChanged = true
	}
	if old.Mode != new.Mode {
		d.ModeChanged = true
	}
	if old.Personality != new.Personality {
		d.PersonalityChanged = true
	}
	if old.Partner != new.Partner {
		d.PartnerChanged = true
	}
	return d
}
