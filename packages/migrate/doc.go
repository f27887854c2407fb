// Package migrate upgrades persisted project manifests to the current schema.
//
// A Chain holds an ordered set of single-step migrations. Each step targets one version and
// is interested in every older version, so a manifest several versions behind passes
// through each intermediate step in turn and always converges on the same current shape.
// Versions off the chain's scale are rejected outright rather than guessed at.
package migrate
