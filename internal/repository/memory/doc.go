// Package memory holds in-process implementations of every store contract.
// They back the service tests and local runs without Postgres, and honour
// the same uniqueness and compare-and-swap rules as the Postgres versions.
package memory
