package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Hot-reloadable
// changes are reported field by field; everything else is folded into
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VocabularyChanged is set when session.vocabulary changed. It applies
	// to the running session.
	VocabularyChanged bool

	// KeywordsChanged is set when session.keywords changed. It applies from
	// the next session on.
	KeywordsChanged bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether d holds no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VocabularyChanged && !d.KeywordsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.VocabularyChanged = !slices.Equal(old.Session.Vocabulary, new.Session.Vocabulary)
	d.KeywordsChanged = !slices.Equal(old.Session.Keywords, new.Session.Keywords)

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Engine, new.Engine) {
		d.RestartRequired = append(d.RestartRequired, "engine")
	}
	if !reflect.DeepEqual(old.Capture, new.Capture) {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	oldSession, newSession := old.Session, new.Session
	oldSession.Vocabulary, newSession.Vocabulary = nil, nil
	oldSession.Keywords, newSession.Keywords = nil, nil
	if !reflect.DeepEqual(oldSession, newSession) {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	if old.Journal != new.Journal {
		d.RestartRequired = append(d.RestartRequired, "journal")
	}
	if !reflect.DeepEqual(old.Telemetry, new.Telemetry) {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}
