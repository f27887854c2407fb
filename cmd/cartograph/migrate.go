package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/cartograph"
	"github.com/user/cartograph/packages/manifest"
	"github.com/user/cartograph/packages/migrate"
	"github.com/user/cartograph/packages/store"
)

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List the manifest versions this build reads",
	RunE:  runVersions,
}

var planCmd = &cobra.Command{
	Use:   "plan <manifest.json>",
	Short: "Show the migration steps a manifest needs",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlan,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate <glob>...",
	Short: "Migrate project directories to the current version in place",
	Long: `Migrate finds project directories (directories holding a manifest.json) matching the
given globs, which may use ** to descend, and rewrites each one at the current version.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMigrate,
}

var (
	dryRun      bool
	migrateJobs int
)

func init() {
	migrateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print a manifest diff instead of writing")
	migrateCmd.Flags().IntVar(&migrateJobs, "jobs", 4, "Projects migrated in parallel")
}

func runVersions(cmd *cobra.Command, args []string) error {
	chain := migrate.Default()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\tbase\n", chain.Base())
	for _, m := range chain.Steps() {
		fmt.Fprintf(out, "%s\t%s\n", m.Target(), m.Name())
	}
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	raw, err := manifest.Parse(data)
	if err != nil {
		return err
	}
	from, steps, err := migrate.Default().Plan(raw)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(steps) == 0 {
		fmt.Fprintf(out, "%s is current\n", from)
		return nil
	}
	fmt.Fprintf(out, "%s -> %s (%d steps)\n", from, manifest.Current, len(steps))
	at := from
	for _, m := range steps {
		fmt.Fprintf(out, "  %s: %s -> %s\n", m.Name(), at, m.Target())
		at = m.Target()
	}
	return nil
}

// migrateOutcome is one project's result in a batch.
type migrateOutcome struct {
	dir   string
	from  manifest.Version
	steps []string
	diff  string
	err   error
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	dirs, err := findProjects(args)
	if err != nil {
		return err
	}
	if len(dirs) == 0 {
		return fmt.Errorf("no project directories match %s", strings.Join(args, " "))
	}

	var (
		mu       sync.Mutex
		outcomes []migrateOutcome
	)
	g, ctx := errgroup.WithContext(cmd.Context())
	if migrateJobs > 0 {
		g.SetLimit(migrateJobs)
	}
	for _, dir := range dirs {
		g.Go(func() error {
			o := migrateProject(ctx, dir, dryRun)
			if o.err != nil {
				logger.Warn("migration failed", "dir", dir, "error", o.err)
			}
			mu.Lock()
			outcomes = append(outcomes, o)
			mu.Unlock()
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].dir < outcomes[j].dir })
	return reportMigrations(cmd.OutOrStdout(), outcomes)
}

func reportMigrations(w io.Writer, outcomes []migrateOutcome) error {
	failed := 0
	for _, o := range outcomes {
		switch {
		case o.err != nil:
			failed++
			fmt.Fprintf(w, "FAIL %s: %v\n", o.dir, o.err)
		case len(o.steps) == 0:
			fmt.Fprintf(w, "ok   %s: already %s\n", o.dir, o.from)
		default:
			fmt.Fprintf(w, "ok   %s: %s -> %s (%s)\n", o.dir, o.from, manifest.Current, strings.Join(o.steps, ", "))
			if o.diff != "" {
				fmt.Fprint(w, o.diff)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d projects failed", failed, len(outcomes))
	}
	return nil
}

// findProjects expands the patterns into sorted, de-duplicated project directories.
// A match may be the directory itself or its manifest.json.
func findProjects(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var dirs []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			dir := m
			if filepath.Base(m) == store.ManifestFile {
				dir = filepath.Dir(m)
			}
			if _, err := os.Stat(filepath.Join(dir, store.ManifestFile)); err != nil {
				continue
			}
			if !seen[dir] {
				seen[dir] = true
				dirs = append(dirs, dir)
			}
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// migrateProject loads dir through a session, which migrates and validates it, and
// writes the current-version encoding back with an atomic directory swap.
func migrateProject(ctx context.Context, dir string, dry bool) migrateOutcome {
	o := migrateOutcome{dir: dir}
	rec, err := store.ReadProjectDir(dir)
	if err != nil {
		o.err = err
		return o
	}

	s := cartograph.NewSession(nil, nil)
	snap, err := s.Install(ctx, filepath.Base(dir), rec)
	if err != nil {
		o.err = err
		return o
	}
	o.from, o.steps = snap.SourceVersion(), snap.Steps()
	if len(o.steps) == 0 {
		return o
	}
	out, err := s.Record()
	if err != nil {
		o.err = err
		return o
	}

	if dry {
		o.diff = manifestDiff(string(rec.Manifest), string(out.Manifest))
		return o
	}
	parent, err := store.NewDir(filepath.Dir(dir))
	if err != nil {
		o.err = err
		return o
	}
	o.err = parent.Save(ctx, filepath.Base(dir), out)
	return o
}

// manifestDiff renders a line diff of before and after with +/- prefixes.
func manifestDiff(before, after string) string {
	dmp := diffmatchpatch.New()
	chars1, chars2, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(chars1, chars2, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var b strings.Builder
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffEqual:
			continue
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			b.WriteString(prefix)
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
