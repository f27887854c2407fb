package migrate

import (
	"errors"
	"fmt"

	"github.com/user/cartograph/packages/manifest"
)

// ErrChainContract is returned when migrations break the ordering contract the chain
// depends on: duplicate or non-increasing targets, or a step whose output version is not
// its declared target.
var ErrChainContract = errors.New("migration chain contract violated")

// UnknownVersionError reports a manifest version that is not on the chain's known scale.
// The project must not be opened.
type UnknownVersionError struct {
	Version manifest.Version
}

func (e *UnknownVersionError) Error() string {
	return fmt.Sprintf("project format not recognized: unknown manifest version %q", string(e.Version))
}

// MigrationFailure reports the step that failed and why. No partial result accompanies it.
type MigrationFailure struct {
	Step  string
	From  manifest.Version
	To    manifest.Version
	Cause error
}

func (e *MigrationFailure) Error() string {
	return fmt.Sprintf("migration %s (%s -> %s) failed: %v", e.Step, e.From, e.To, e.Cause)
}

func (e *MigrationFailure) Unwrap() error {
	return e.Cause
}
