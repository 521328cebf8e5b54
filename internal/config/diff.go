package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// LogLevel, Classifier and Defaults are applied live; every other section
// that changed is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ClassifierChanged bool
	NewClassifier     ClassifierConfig

	DefaultsChanged bool

	// RestartRequired names the changed sections that only take effect after
	// a restart, e.g. "server.listen_addr" or "store".
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ClassifierChanged && !d.DefaultsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Classifier != new.Classifier {
		d.ClassifierChanged = true
		d.NewClassifier = new.Classifier
	}
	if !reflect.DeepEqual(old.Defaults, new.Defaults) {
		d.DefaultsChanged = true
	}

	sections := []struct {
		name     string
		old, new any
	}{
		{"server.listen_addr", old.Server.ListenAddr, new.Server.ListenAddr},
		{"server.shutdown_timeout", old.Server.ShutdownTimeout, new.Server.ShutdownTimeout},
		{"server.tls", old.Server.TLS, new.Server.TLS},
		{"monitor", old.Monitor, new.Monitor},
		{"response", old.Response, new.Response},
		{"providers", old.Providers, new.Providers},
		{"store", old.Store, new.Store},
		{"archive", old.Archive, new.Archive},
		{"mqtt", old.MQTT, new.MQTT},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
