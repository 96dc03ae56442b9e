// Package appid holds the application identity used for paths, env vars and
// telemetry names.
package appid

import "strings"

// Identity describes how the binary names itself.
type Identity struct {
	Vendor      string
	BinaryName  string
	ConfigName  string
	EnvPrefix   string
	Description string
}

var current = Identity{
	Vendor:      "scaffoldir",
	BinaryName:  "scaffoldir",
	ConfigName:  "scaffoldir",
	EnvPrefix:   "SCAFFOLDIR_",
	Description: "Directory backend for scaffolding businesses",
}

// Get returns the application identity.
func Get() Identity {
	return current
}

// TelemetryNamespace returns the metric namespace derived from the binary name.
func (i Identity) TelemetryNamespace() string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(i.BinaryName)), "-", "_")
}

// Prefix returns EnvPrefix with a guaranteed trailing underscore.
func (i Identity) Prefix() string {
	prefix := strings.TrimSpace(i.EnvPrefix)
	if prefix != "" && !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix
}
