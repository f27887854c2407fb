// Package manifest defines the persisted form of a map project.
//
// A manifest is read in two stages. Parse yields a schema-agnostic Raw whose version is the
// only field trusted before migration (ReadVersion). Once the migration chain has brought the
// Raw to Current, Decode turns it into the typed Manifest and validates it.
//
// Auxiliary Files hold large payloads (vector features) next to the manifest.
package manifest
