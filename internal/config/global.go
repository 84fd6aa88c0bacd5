// SPDX-License-Identifier: MPL-2.0

package config

// globalDirOverride replaces GlobalConfigDir in tests, which cannot write
// to /etc/criu.
var globalDirOverride string

// Reset clears test overrides. Call from test cleanup to restore defaults.
func Reset() {
	globalDirOverride = ""
}

// SetGlobalDirOverride points GlobalDir at dir.
func SetGlobalDirOverride(dir string) {
	globalDirOverride = dir
}
