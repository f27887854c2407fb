package cartograph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNothingToUndo is returned by Undo when no change has been applied.
	// 通常状態なので呼び出し側は errors.Is で判定して通知だけ行う。
	ErrNothingToUndo = errors.New("nothing to undo")
	// ErrNothingToRedo is returned by Redo when nothing has been undone since the last edit.
	ErrNothingToRedo = errors.New("nothing to redo")
	// ErrNoDocument is returned by session operations that need an open project.
	ErrNoDocument = errors.New("no project is open")
	// ErrStaleChange means a change does not fit the document it is applied to, e.g. it
	// removes a layer that is not there. The document is left untouched.
	ErrStaleChange = errors.New("change does not match the document")
	// ErrMissingFile is returned when a manifest references an auxiliary file that was not
	// stored with it.
	ErrMissingFile = errors.New("referenced file is missing")
)

// InvariantViolation reports a change (or a loaded document) that would leave the document
// breaking one of its rules. It is a programming error in whoever built the change; the
// document has been kept at its last good state.
type InvariantViolation struct {
	// Op is the history operation ("execute", "undo", "redo") or "load".
	Op     string
	Change ChangeKind
	Errors []ValidationError
}

func (e *InvariantViolation) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, v := range e.Errors {
		msgs = append(msgs, v.String())
	}
	if e.Op == "load" {
		return fmt.Sprintf("invariant violated on load: %s", strings.Join(msgs, "; "))
	}
	return fmt.Sprintf("invariant violated by %s %s: %s", e.Op, e.Change, strings.Join(msgs, "; "))
}

func stale(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStaleChange, fmt.Sprintf(format, args...))
}
