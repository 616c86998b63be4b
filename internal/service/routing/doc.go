// Package routing assigns subjects to resources (mentors, coaches) from
// their niche tag. Assignment is stable: an existing assignment that is
// still eligible is kept, and new assignments go to the earliest-created
// eligible resource.
package routing
