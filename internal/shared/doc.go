// Package shared provides common utilities and test helpers used across the
// qacli codebase. It serves as a central location for functionality that does
// not belong to any specific domain or architectural layer.
//
// The testutil subpackage provides fixture key material, signed registry
// builders, and ready-to-use test configurations for license tests.
package shared
