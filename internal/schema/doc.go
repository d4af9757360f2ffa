// Package schema holds the relationship field descriptors for every model
// type.
//
// Models are registered once at startup, then the Registry is frozen. Freeze
// resolves inverse fields (explicit names are checked for agreement, missing
// names are inferred when exactly one candidate exists) and after that the
// registry is read-only and safe to share.
package schema
