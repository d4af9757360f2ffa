// Package harness runs relationship-engine scenarios.
//
// A scenario compiles a CUE schema, seeds an in-memory store that serves
// async relationships, runs a flow of engine operations and validates the
// result. Symmetry of every inverse pair is checked after each step.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: async_materialization
//	description: "What this scenario validates"
//	schema: ../schemas/social.cue
//	server:
//	  - record: topic:2
//	    relationships: { users: ["1"] }
//	flow:
//	  - op: push
//	    record: topic:2
//	  - op: fetch
//	    record: topic:2
//	    field: users
//	    expect: { members: [user:1] }
//	  - op: create
//	    type: user
//	    as: fresh
//	  - op: add
//	    record: "@fresh"
//	    field: accounts
//	    member: account:2
//	  - op: delete
//	    record: user:9
//	    expect: { error: NOT_FOUND }
//	assertions:
//	  - type: members
//	    record: user:1
//	    field: topics
//	    members: [topic:2]
//	  - type: dirty
//	    record: "@fresh"
//	    value: true
//
// # Operations
//
//   - push: ingest a canonical payload (attributes, relationships as ids)
//   - create: create a local record, optionally bound to an alias
//   - add, remove: local edit through a relationship view
//   - delete, rollback, unload: record lifecycle
//   - set: change one attribute locally
//   - fetch: read members (loads async fields through the store)
//   - preload: load several async fields concurrently
//   - serve: change a server-side record mid-flow
//
// # Assertion Types
//
//   - members, canonical: effective or canonical members of a field
//   - attributes: subset match on record attributes
//   - dirty, deleted, loaded: record and field flags
//   - absent: record is not in the identity map
//   - symmetric: every inverse pair agrees
//
// # Deterministic Testing
//
// Every run uses a fresh ":memory:" store and sequential temporary ids
// (tmp-1, tmp-2, ...), so the trace and final snapshot are reproducible and
// can be compared against golden files with RunWithGolden.
package harness
