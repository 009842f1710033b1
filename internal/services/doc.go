// Package services contains the application service layer sitting between
// the CLI commands and the license subsystem.
//
// LicenseService is the only service: it owns activation (input validation,
// rate limiting, registry validation, record persistence), passive status
// resolution, feature gating, and quota accounting. Activation returns a
// uniform ActivationResult for every outcome; the passive paths never
// return errors and resolve ambiguity to the FREE tier.
package services
