package migrate

import (
	"fmt"
	"sort"

	"github.com/user/cartograph/packages/manifest"
)

// Chain is an immutable, ordered registry of migrations.
// Build it once at startup and pass it to whoever loads projects.
type Chain struct {
	base  manifest.Version
	steps []Migration
	known map[manifest.Version]bool
}

// Result is the outcome of a successful Apply.
type Result struct {
	Manifest manifest.Raw
	Files    manifest.Files
	From     manifest.Version
	To       manifest.Version
	// Steps names the migrations that ran, in order. Empty when the input was current.
	Steps []string
}

// Migrated reports whether any step ran.
func (r *Result) Migrated() bool {
	return len(r.Steps) > 0
}

// NewChain builds a chain whose oldest known version is base.
// Steps are ordered by target; duplicate targets, targets not above base and steps that
// claim interest in their own target are rejected.
func NewChain(base manifest.Version, steps ...Migration) (*Chain, error) {
	if !base.Valid() {
		return nil, fmt.Errorf("%w: invalid base version %q", ErrChainContract, string(base))
	}
	sorted := make([]Migration, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Target().Less(sorted[j].Target())
	})

	known := map[manifest.Version]bool{base: true}
	for _, m := range sorted {
		target := m.Target()
		if !target.Valid() {
			return nil, fmt.Errorf("%w: migration %s has invalid target %q", ErrChainContract, m.Name(), string(target))
		}
		if !base.Less(target) {
			return nil, fmt.Errorf("%w: migration %s target %s is not above base %s", ErrChainContract, m.Name(), target, base)
		}
		if known[target] {
			return nil, fmt.Errorf("%w: duplicate target %s (migration %s)", ErrChainContract, target, m.Name())
		}
		if m.InterestedBy(target) {
			return nil, fmt.Errorf("%w: migration %s is interested in its own target %s", ErrChainContract, m.Name(), target)
		}
		known[target] = true
	}
	return &Chain{base: base, steps: sorted, known: known}, nil
}

// Base returns the oldest version the chain can read.
func (c *Chain) Base() manifest.Version {
	return c.base
}

// Current returns the newest version on the chain.
func (c *Chain) Current() manifest.Version {
	if len(c.steps) == 0 {
		return c.base
	}
	return c.steps[len(c.steps)-1].Target()
}

// Known reports whether v is on the chain's version scale.
func (c *Chain) Known(v manifest.Version) bool {
	return c.known[v]
}

// Versions returns the known scale in ascending order.
func (c *Chain) Versions() []manifest.Version {
	out := make([]manifest.Version, 0, len(c.steps)+1)
	out = append(out, c.base)
	for _, m := range c.steps {
		out = append(out, m.Target())
	}
	return out
}

// Steps returns the registered migrations in ascending target order.
func (c *Chain) Steps() []Migration {
	out := make([]Migration, len(c.steps))
	copy(out, c.steps)
	return out
}

// Resolve returns the migrations that must run, in order, to bring a manifest at version v
// to Current. A current manifest resolves to nothing.
func (c *Chain) Resolve(v manifest.Version) ([]Migration, error) {
	if !c.Known(v) {
		return nil, &UnknownVersionError{Version: v}
	}
	var out []Migration
	tracked := v
	for _, m := range c.steps {
		// Targets ascend and each step only wants versions below its target,
		// so an earlier step never matches again once tracked has moved past it.
		if m.InterestedBy(tracked) {
			out = append(out, m)
			tracked = m.Target()
		}
	}
	return out, nil
}

// Plan reads the version of raw and resolves it.
func (c *Chain) Plan(raw manifest.Raw) (manifest.Version, []Migration, error) {
	v, err := manifest.ReadVersion(raw)
	if err != nil {
		// A version string that is not even well formed is off the scale too.
		if s, ok := versionString(raw); ok {
			return "", nil, &UnknownVersionError{Version: manifest.Version(s)}
		}
		return "", nil, err
	}
	steps, err := c.Resolve(v)
	if err != nil {
		return v, nil, err
	}
	return v, steps, nil
}

// Apply migrates raw and files to Current. The inputs are never modified.
// On error no manifest is returned: callers get a fully migrated result or nothing.
func (c *Chain) Apply(raw manifest.Raw, files manifest.Files) (*Result, error) {
	from, steps, err := c.Plan(raw)
	if err != nil {
		return nil, err
	}

	cur := raw.Clone()
	curFiles := files.Clone()
	at := from
	names := make([]string, 0, len(steps))
	for _, m := range steps {
		out, outFiles, err := m.Migrate(cur, curFiles)
		if err != nil {
			return nil, &MigrationFailure{Step: m.Name(), From: at, To: m.Target(), Cause: err}
		}
		got, err := manifest.ReadVersion(out)
		if err != nil || got != m.Target() {
			return nil, &MigrationFailure{
				Step:  m.Name(),
				From:  at,
				To:    m.Target(),
				Cause: fmt.Errorf("%w: output version %q, want %s", ErrChainContract, string(got), m.Target()),
			}
		}
		// Steps may hand back shared structure; the next step gets its own copy.
		cur, curFiles = out.Clone(), outFiles.Clone()
		at = got
		names = append(names, m.Name())
	}
	return &Result{Manifest: cur, Files: curFiles, From: from, To: at, Steps: names}, nil
}

func versionString(raw manifest.Raw) (string, bool) {
	if s, ok := raw["version"].(string); ok {
		return s, true
	}
	if meta, ok := raw["metadata"].(map[string]any); ok {
		if _, present := raw["version"]; !present {
			s, ok := meta["version"].(string)
			return s, ok
		}
	}
	return "", false
}
