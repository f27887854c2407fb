package cartograph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/cartograph/packages/logging"
	"github.com/user/cartograph/packages/manifest"
	"github.com/user/cartograph/packages/migrate"
	"github.com/user/cartograph/packages/store"
	"github.com/user/cartograph/packages/telemetry"
)

// NotificationKind says what a Notification reports.
type NotificationKind int

const (
	Loaded NotificationKind = iota
	Saved
	Created
)

func (k NotificationKind) String() string {
	switch k {
	case Loaded:
		return "loaded"
	case Saved:
		return "saved"
	case Created:
		return "created"
	default:
		return "unknown"
	}
}

// Notification is sent to observers after a load, save or new project.
type Notification struct {
	Kind      NotificationKind
	ProjectID string
	// Version is the document's schema version, always manifest.Current.
	Version manifest.Version
	// SourceVersion and Steps describe the migration of a load.
	SourceVersion manifest.Version
	Steps         []string
}

// Observer receives notifications. It is called without the session lock held, so it may
// call back into the session.
type Observer func(Notification)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records session activity.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithCache shares a snapshot cache between sessions.
func WithCache(c *SnapshotCache) Option {
	return func(s *Session) { s.cache = c }
}

// WithHistoryDepth limits undo depth; 0 is unlimited.
func WithHistoryDepth(n int) Option {
	return func(s *Session) { s.depth = n }
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// Session coordinates one open project: loading through the migration chain, saving,
// and the edit history. All operations are serialized.
// ロード・保存・編集は1つのmutexで直列化し、通知はロック解放後に送る。
type Session struct {
	mu sync.Mutex

	store     store.Store
	chain     *migrate.Chain
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	cache     *SnapshotCache
	depth     int
	observers []Observer

	id      string
	history *History
	source  manifest.Version
	steps   []string
}

// NewSession returns a session with no project open. A nil chain uses migrate.Default().
func NewSession(st store.Store, chain *migrate.Chain, opts ...Option) *Session {
	if chain == nil {
		chain = migrate.Default()
	}
	s := &Session{
		store:  st,
		chain:  chain,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open loads project id from the store. On failure the open project, if any, is kept.
func (s *Session) Open(ctx context.Context, id string) (*Snapshot, error) {
	s.mu.Lock()
	rec, err := s.store.Load(ctx, id)
	if err != nil {
		s.mu.Unlock()
		s.metrics.RecordLoad(0, nil, err)
		return nil, fmt.Errorf("open %s: %w", id, err)
	}
	snap, n, err := s.install(ctx, id, rec)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.notify(n)
	return snap, nil
}

// Install loads rec as project id without reading the store. Used for imports and for
// inspecting manifests that were never saved. On failure the open project is kept.
func (s *Session) Install(ctx context.Context, id string, rec *store.Record) (*Snapshot, error) {
	s.mu.Lock()
	snap, n, err := s.install(ctx, id, rec)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.notify(n)
	return snap, nil
}

func (s *Session) install(ctx context.Context, id string, rec *store.Record) (*Snapshot, Notification, error) {
	start := time.Now()
	snap, ran, err := s.decode(ctx, rec)
	s.metrics.RecordLoad(time.Since(start), ran, err)
	if err != nil {
		if !s.logViolation(err) {
			s.logger.Warn("load failed", "project", id, "error", err)
		}
		return nil, Notification{}, fmt.Errorf("load %s: %w", id, err)
	}

	doc := snap.Document()
	if s.history == nil {
		s.history = NewHistory(doc, s.depth)
	} else {
		s.history.Replace(doc)
	}
	s.id = id
	s.source = snap.SourceVersion()
	s.steps = snap.Steps()

	s.logger.Info("project loaded",
		"project", id,
		"from", string(s.source),
		"steps", len(s.steps),
		"duration", time.Since(start))
	return snap, Notification{
		Kind:          Loaded,
		ProjectID:     id,
		Version:       doc.Metadata().Version,
		SourceVersion: s.source,
		Steps:         cloneStrings(s.steps),
	}, nil
}

// decode turns stored bytes into a validated snapshot. ran names the migration steps
// actually executed, nil on a cache hit.
func (s *Session) decode(ctx context.Context, rec *store.Record) (*Snapshot, []string, error) {
	if rec == nil {
		return nil, nil, errors.New("nil record")
	}
	key, err := manifest.Digest(rec.Manifest, rec.Files)
	if err != nil {
		return nil, nil, err
	}
	if s.cache != nil {
		if snap, ok := s.cache.Get(key); ok {
			s.metrics.RecordCache(true)
			return snap, nil, nil
		}
		s.metrics.RecordCache(false)
	}

	raw, err := manifest.Parse(rec.Manifest)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.chain.Apply(raw, rec.Files)
	if err != nil {
		return nil, nil, err
	}
	for _, step := range res.Steps {
		s.logger.Debug("migration step", "step", step)
	}
	m, err := manifest.Decode(res.Manifest)
	if err != nil {
		return nil, nil, err
	}
	doc, err := DocumentFromManifest(m, res.Files)
	if err != nil {
		return nil, nil, err
	}
	r := Validate(ctx, doc)
	if r.Cancelled {
		return nil, nil, ctx.Err()
	}
	if !r.Valid {
		return nil, nil, &InvariantViolation{Op: "load", Errors: r.Errors}
	}

	snap := SnapshotFromDocument(doc).withOrigin(res.From, res.Steps)
	s.cache.Put(key, snap)
	return snap, res.Steps, nil
}

// NewProject opens an empty project and clears history. It is not stored until Save.
func (s *Session) NewProject(name string) *Snapshot {
	s.mu.Lock()
	doc := NewDocument(name)
	if s.history == nil {
		s.history = NewHistory(doc, s.depth)
	} else {
		s.history.Replace(doc)
	}
	s.id = doc.Metadata().ID
	s.source = ""
	s.steps = nil
	snap := SnapshotFromDocument(doc)
	n := Notification{Kind: Created, ProjectID: s.id, Version: manifest.Current}
	s.mu.Unlock()

	s.logger.Info("project created", "project", n.ProjectID, "name", name)
	s.notify(n)
	return snap
}

// Save writes the open project to the store at the current version.
// History is kept: a save does not end the editing session.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	if s.history == nil {
		s.mu.Unlock()
		return ErrNoDocument
	}
	id := s.id
	err := s.save(ctx, id)
	s.metrics.RecordSave(err)
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("save failed", "project", id, "error", err)
		return err
	}

	s.logger.Info("project saved", "project", id)
	s.notify(Notification{Kind: Saved, ProjectID: id, Version: manifest.Current})
	return nil
}

func (s *Session) save(ctx context.Context, id string) error {
	rec, err := s.record()
	if err != nil {
		return fmt.Errorf("save %s: %w", id, err)
	}
	if err := s.store.Save(ctx, id, rec); err != nil {
		return fmt.Errorf("save %s: %w", id, err)
	}
	return nil
}

func (s *Session) record() (*store.Record, error) {
	m, files, err := EncodeDocument(s.history.Document())
	if err != nil {
		return nil, err
	}
	data, err := manifest.Marshal(m)
	if err != nil {
		return nil, err
	}
	return &store.Record{Manifest: data, Files: files}, nil
}

// Record encodes the open project as it would be saved, without saving it.
func (s *Session) Record() (*store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.history == nil {
		return nil, ErrNoDocument
	}
	return s.record()
}

// Execute applies cs to the open project and records it for undo.
func (s *Session) Execute(cs *Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.history == nil {
		return ErrNoDocument
	}
	err := s.history.PushAndExecute(cs)
	s.historyResult("execute", err)
	if err != nil {
		return err
	}
	s.logger.Debug("change executed", "label", cs.Label, "kind", cs.Change.Kind().String())
	return nil
}

// Edit builds a change against the live document and executes it, under one lock.
// build must only read d; it typically calls one of the New* constructors.
func (s *Session) Edit(label string, build func(d *Document) (Change, error)) (*Changeset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.history == nil {
		return nil, ErrNoDocument
	}
	c, err := build(s.history.Document())
	if err != nil {
		s.historyResult("execute", err)
		return nil, err
	}
	cs := NewChangeset(label, c)
	err = s.history.PushAndExecute(cs)
	s.historyResult("execute", err)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("change executed", "label", cs.Label, "kind", c.Kind().String())
	return cs, nil
}

// Undo reverses the most recent change. ErrNothingToUndo is not a failure.
func (s *Session) Undo() (*Changeset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.history == nil {
		return nil, ErrNoDocument
	}
	cs, err := s.history.Undo()
	s.historyResult("undo", err)
	return cs, err
}

// Redo re-applies the most recently undone change. ErrNothingToRedo is not a failure.
func (s *Session) Redo() (*Changeset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.history == nil {
		return nil, ErrNoDocument
	}
	cs, err := s.history.Redo()
	s.historyResult("redo", err)
	return cs, err
}

// Document returns a snapshot of the open project, or nil if none is open.
func (s *Session) Document() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.history == nil {
		return nil
	}
	return SnapshotFromDocument(s.history.Document()).withOrigin(s.source, s.steps)
}

// ProjectID returns the store id of the open project, empty if none is open.
func (s *Session) ProjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// HistoryState describes the undo and redo stacks.
type HistoryState struct {
	CanUndo bool
	CanRedo bool
	// Applied is most recent last; Undone is most recently undone last.
	Applied []*Changeset
	Undone  []*Changeset
	// MaxDepth is 0 when unlimited.
	MaxDepth int
}

// HistoryState returns the current stacks. The zero value when nothing is open.
func (s *Session) HistoryState() HistoryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.history == nil {
		return HistoryState{MaxDepth: s.depth}
	}
	h := s.history
	return HistoryState{
		CanUndo:  h.CanUndo(),
		CanRedo:  h.CanRedo(),
		Applied:  h.Applied(),
		Undone:   h.Undone(),
		MaxDepth: h.MaxDepth(),
	}
}

// Preview reports what changes would do to the open project without applying them.
func (s *Session) Preview(ctx context.Context, changes ...Change) (*PreviewResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.history == nil {
		return nil, ErrNoDocument
	}
	return Preview(ctx, s.history.Document(), changes...), nil
}

// Verify checks that the recorded history reproduces the open project.
func (s *Session) Verify() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.history == nil {
		return ErrNoDocument
	}
	return s.history.Verify()
}

// historyResult records a history operation in metrics and logs what went wrong.
// Undo or redo with nothing to do is logged at debug level only.
func (s *Session) historyResult(op string, err error) {
	empty := errors.Is(err, ErrNothingToUndo) || errors.Is(err, ErrNothingToRedo)
	s.metrics.RecordHistory(op, empty, err)
	if empty {
		s.logger.Debug("history no-op", "op", op, "reason", err.Error())
		return
	}
	s.logViolation(err)
}

// logViolation logs err at error level if it is an InvariantViolation.
func (s *Session) logViolation(err error) bool {
	var v *InvariantViolation
	if !errors.As(err, &v) {
		return false
	}
	rules := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		rules = append(rules, e.String())
	}
	args := []any{"op", v.Op, "errors", rules}
	if v.Op != "load" {
		args = append(args, "change", v.Change.String())
	}
	s.logger.Error("invariant violated", args...)
	return true
}

func (s *Session) notify(n Notification) {
	s.mu.Lock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()
	for _, o := range observers {
		o(n)
	}
}
