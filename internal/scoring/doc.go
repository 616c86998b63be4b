// Package scoring computes the deterministic lead score and tier.
//
// Score is a pure function of eight qualification dimensions. Legacy
// vocabulary is mapped onto the current vocabulary by a single alias table
// (Canonicalize) at the boundary where attributes are read from tags, so the
// lookup tables only ever hold canonical values.
package scoring
