// Package ir provides the foundational value and identity types for tandem.
//
// All other internal packages import ir; ir imports nothing internal. Record
// keys, ingestion payloads, attribute values and canonical JSON live here so
// that the schema, state, engine and store layers share one vocabulary.
//
// Key design constraints:
//   - NO float attribute values - use int64 for numbers
//   - Keys are NFC-normalized on construction so equal ids compare equal
//   - Relationship members are named by Key, never by record pointer
//   - All JSON tags use snake_case
package ir
