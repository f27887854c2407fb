package migrate

import "github.com/user/cartograph/packages/manifest"

// Migration upgrades a manifest to a single target version.
//
// InterestedBy must only return true for versions strictly below Target, and Migrate's
// output must carry Target as its version. Migrate must be a pure function of its inputs:
// the chain hands it private copies and retries must be safe.
type Migration interface {
	Name() string
	Target() manifest.Version
	InterestedBy(v manifest.Version) bool
	Migrate(m manifest.Raw, files manifest.Files) (manifest.Raw, manifest.Files, error)
}

// Step is a Migration built from a transformation function.
// Apply may modify its arguments in place and return them; it need not set the version.
type Step struct {
	StepName string
	To       manifest.Version
	Apply    func(m manifest.Raw, files manifest.Files) (manifest.Raw, manifest.Files, error)
}

func (s Step) Name() string { return s.StepName }

func (s Step) Target() manifest.Version { return s.To }

// InterestedBy reports whether v is older than the step's target.
func (s Step) InterestedBy(v manifest.Version) bool {
	return v.Less(s.To)
}

// Migrate runs Apply and stamps the target version on the result.
func (s Step) Migrate(m manifest.Raw, files manifest.Files) (manifest.Raw, manifest.Files, error) {
	out, outFiles, err := s.Apply(m, files)
	if err != nil {
		return nil, nil, err
	}
	if out == nil {
		out = manifest.Raw{}
	}
	manifest.SetVersion(out, s.To)
	return out, outFiles, nil
}
