// Package license implements license validation and entitlement resolution
// for the QA Assist CLI.
//
// # Architecture Overview
//
// The subsystem consists of several components:
//
//	- Signer: deterministic canonical serialization and Ed25519 sign/verify
//	- Store: the on-disk signed license record
//	- Client: the remote entitlement registry (fetch, verify, cache fallback)
//	- Resolver: tier and feature-flag resolution
//	- UsageTracker: FREE-tier monthly quota ledger
//	- BypassSwitch: developer escape hatch, hard-disabled in production
//
// # Resolution Flow
//
// Every CLI invocation resolves entitlement fully offline:
//
//	1. Load the stored license record
//	2. Recompute the payload signature over its canonical serialization
//	3. Check expiry, independently of the signature result
//	4. Look the tier up in the static Features table
//
// Activation additionally drives the registry client, which fetches the
// signed registry snapshot, verifies the registry signature and hash, and
// hands a verified payload and signature to the store to persist.
//
// # Fail-closed Verification
//
// Verification failures are data, not exceptions: every cryptographic or
// decoding problem converts to false at the Signer boundary, and any
// ambiguity during resolution produces the FREE tier with a diagnostic.
// The cached registry is re-verified on every load; a cache that fails
// verification yields an empty registry rather than stale data. In
// production the developer bypass is ignored inside the signature checks
// themselves, so forgotten call-site checks still fail closed.
package license
