// Package tagging owns the write and read path for subject tags.
//
// Tags are timestamped facts. A label written with Apply keeps one current
// row per (subject, label): re-applying the same value is a no-op and a new
// value replaces the old one. Record appends history instead, used for
// event-like facts such as outreach markers. The "current value" of a label
// is always the most recent tag carrying it.
//
// Qualification answers are normalised here, once, so every reader sees
// `qualification:<dimension>` with a canonical value regardless of how the
// intake form spelled it.
package tagging
