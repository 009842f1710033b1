// Package config provides the startup-resolved configuration for the QA
// Assist licensing subsystem.
//
// Configuration is resolved exactly once, in Load, from environment
// variables with the QAA prefix and an optional YAML file. Library code
// never reads the environment directly; everything downstream receives the
// resolved Config. This keeps the license directory, registry endpoint, and
// environment mode (production/development/test) explicit and testable.
//
// The license directory defaults to ~/.qa-assist and any override is
// validated to resolve within the user's home or temp directory.
package config
