// Package sequence is the registry of drip-sequence definitions.
//
// Definitions are loaded from a Source (Postgres, a YAML file or a YAML
// object in S3) and cached for a TTL. Resolution only ever returns active,
// valid definitions; a broken definition is logged and skipped so one bad
// row never stops a tick.
package sequence
