package sampling

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/source"
	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/services/workqueue"
)

// State is the sampler's lifecycle position.
type State string

const (
	StateNew        State = "new"
	StateLoaded     State = "loaded"
	StateGraphBuilt State = "graph_built"
	StateSampling   State = "sampling"
	StateComplete   State = "complete"
	StateFailed     State = "failed"
)

// DatabaseError records a database whose catalog could not be read. The
// run continues without it.
type DatabaseError struct {
	Database string
	Err      error
}

// Sampler drives one sampling run: load catalogs, build the relationship
// graph, then sample every relation with parents before children.
type Sampler struct {
	adapter source.Adapter
	conn    source.Connection
	opts    Options
	logger  *zap.Logger

	mu         sync.Mutex
	state      State
	catalog    *models.Catalog
	plan       *Plan
	loadErrors []DatabaseError
	// blocked relations cannot be sampled because a parent lives in a
	// database that failed to load.
	blocked map[*models.Relation]error
}

// New creates a sampler over an open source connection.
func New(adapter source.Adapter, conn source.Connection, opts Options, logger *zap.Logger) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Sampler{
		adapter: adapter,
		conn:    conn,
		opts:    opts,
		logger:  logger.Named("sampler"),
		state:   StateNew,
		catalog: models.NewCatalog(),
		blocked: make(map[*models.Relation]error),
	}
}

// State returns the current lifecycle state.
func (s *Sampler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Catalog returns the loaded catalog.
func (s *Sampler) Catalog() *models.Catalog {
	return s.catalog
}

// Plan returns the sampling order, or nil before the graph is built.
func (s *Sampler) Plan() *Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

func (s *Sampler) transition(from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return fmt.Errorf("sampler is %s, expected %s", s.state, from)
	}
	s.state = to
	return nil
}

func (s *Sampler) fail() {
	s.mu.Lock()
	s.state = StateFailed
	s.mu.Unlock()
}

// Run loads, builds the graph and samples.
func (s *Sampler) Run(ctx context.Context) (*Report, error) {
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	if err := s.BuildGraph(); err != nil {
		return nil, err
	}
	return s.Sample(ctx)
}

// Load introspects every configured database. A database whose catalog
// cannot be read is recorded and skipped; the run fails only when no
// database loads.
func (s *Sampler) Load(ctx context.Context) error {
	if err := s.transition(StateNew, StateLoaded); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(s.opts.Databases))
	for _, database := range s.opts.Databases {
		if _, dup := seen[strings.ToUpper(database)]; dup {
			continue
		}
		seen[strings.ToUpper(database)] = struct{}{}

		relations, err := s.conn.IntrospectDatabase(ctx, database)
		if err != nil {
			if errors.Is(err, apperrors.ErrCatalog) && ctx.Err() == nil {
				s.logger.Warn("skipping database with unreadable catalog",
					zap.String("database", database),
					zap.Error(err))
				s.loadErrors = append(s.loadErrors, DatabaseError{Database: database, Err: err})
				continue
			}
			s.fail()
			return fmt.Errorf("load database %s: %w", database, err)
		}
		if err := s.catalog.Add(relations...); err != nil {
			s.fail()
			return fmt.Errorf("load database %s: %w", database, err)
		}
		s.logger.Info("loaded catalog",
			zap.String("database", database),
			zap.Int("relations", len(relations)))
	}

	if s.catalog.Len() == 0 && len(s.loadErrors) > 0 {
		s.fail()
		return fmt.Errorf("no database could be loaded: %w", s.loadErrors[0].Err)
	}
	return nil
}

// BuildGraph attaches configured relationships to the catalog and plans the
// sampling order. Unknown relations and attributes are configuration
// errors, except for relations in a database that failed to load.
func (s *Sampler) BuildGraph() error {
	if err := s.transition(StateLoaded, StateGraphBuilt); err != nil {
		return err
	}
	if err := s.buildGraph(); err != nil {
		s.fail()
		return err
	}
	return nil
}

func (s *Sampler) buildGraph() error {
	overrides := make(map[*models.Relation]Settings, len(s.opts.Overrides))
	for _, o := range s.opts.Overrides {
		rel, ok := s.catalog.Lookup(o.Key)
		if !ok {
			if s.databaseFailed(o.Key.Database) {
				continue
			}
			return apperrors.Configurationf("relation %s not found in catalog", o.Key)
		}
		overrides[rel] = o.Settings
	}

	for _, spec := range s.opts.Relationships {
		local, ok := s.catalog.Lookup(spec.Local)
		if !ok {
			if s.databaseFailed(spec.Local.Database) {
				continue
			}
			return apperrors.Configurationf("relation %s not found in catalog", spec.Local)
		}
		remote, ok := s.catalog.Lookup(spec.Remote)
		if !ok {
			if !s.databaseFailed(spec.Remote.Database) {
				return apperrors.Configurationf("relation %s not found in catalog", spec.Remote)
			}
			if spec.Kind == models.RelationshipDependsOn {
				s.blocked[local] = &apperrors.DependencyError{
					Relation:  local.DotNotation(),
					DependsOn: spec.Remote.String(),
					Err:       fmt.Errorf("database %s failed to load", spec.Remote.Database),
				}
			}
			continue
		}
		if err := local.AddRelationship(remote, spec.LocalAttribute, spec.RemoteAttribute, spec.Kind); err != nil {
			return err
		}
	}

	plan := BuildPlan(s.catalog.Relations(), func(rel *models.Relation) Settings {
		if settings, ok := overrides[rel]; ok {
			return settings
		}
		return s.opts.Defaults
	})
	for _, planned := range plan.Order {
		for _, caveat := range planned.Caveats {
			s.logger.Warn("relationship not enforced",
				zap.String("relation", planned.Relation.DotNotation()),
				zap.String("caveat", caveat))
		}
	}

	s.mu.Lock()
	s.plan = plan
	s.mu.Unlock()
	return nil
}

func (s *Sampler) databaseFailed(database string) bool {
	for _, le := range s.loadErrors {
		if strings.EqualFold(le.Database, database) {
			return true
		}
	}
	return false
}

// Sample runs every planned relation through a work queue bounded by the
// configured concurrency. Sample kinds are checked against the adapter
// before any statement is issued. The report is returned even when the
// run fails.
func (s *Sampler) Sample(ctx context.Context) (*Report, error) {
	if err := s.transition(StateGraphBuilt, StateSampling); err != nil {
		return nil, err
	}

	report := &Report{
		RunID:          uuid.New(),
		Analyze:        s.opts.Analyze,
		DatabaseErrors: s.loadErrors,
		StartedAt:      time.Now(),
	}

	for _, planned := range s.plan.Order {
		if err := source.CheckSampleSupported(s.adapter.Info().Type, s.adapter.SupportedSampleTypes(), planned.Settings.Sample); err != nil {
			s.fail()
			report.FinishedAt = time.Now()
			return report, fmt.Errorf("relation %s: %w", planned.Relation.DotNotation(), err)
		}
	}

	queue := workqueue.New(s.logger, workqueue.WithStrategy(workqueue.NewThrottledStrategy(s.opts.Concurrency)))
	queue.SetOnUpdate(func(tasks []workqueue.TaskSnapshot) {
		done := 0
		for _, t := range tasks {
			if t.Status.IsTerminal() {
				done++
			}
		}
		s.logger.Debug("sampling progress", zap.Int("done", done), zap.Int("total", len(tasks)))
	})

	tasks := make([]*relationTask, len(s.plan.Order))
	for i, planned := range s.plan.Order {
		parents := planned.ParentRelations()
		ids := make([]string, len(parents))
		for j, p := range parents {
			ids[j] = p.DotNotation()
		}
		id := planned.Relation.DotNotation()
		tasks[i] = &relationTask{
			BaseTask: workqueue.NewBaseTask(id, id, ids...),
			sampler:  s,
			planned:  planned,
		}
		queue.Enqueue(tasks[i])
	}

	runErr := queue.Wait(ctx)

	snapshots := make(map[string]workqueue.TaskSnapshot, len(tasks))
	for _, snap := range queue.GetTasks() {
		snapshots[snap.ID] = snap
	}
	for _, task := range tasks {
		report.Relations = append(report.Relations, task.result(snapshots[task.ID()]))
	}
	report.FinishedAt = time.Now()

	if runErr != nil {
		s.fail()
		return report, runErr
	}
	if err := s.transition(StateSampling, StateComplete); err != nil {
		return report, err
	}
	s.logger.Info("sampling complete",
		zap.String("run_id", report.RunID.String()),
		zap.Int("relations", len(report.Relations)),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))
	return report, nil
}

// CoreQuery renders the statement a planned relation is sampled with.
// Parents must already be sampled, or hold a core query in analyze mode.
func (s *Sampler) CoreQuery(planned *PlannedRelation) (string, error) {
	rel := planned.Relation
	settings := planned.Settings

	if settings.MaxCount == 0 {
		return source.FilterWrap(s.adapter.UnsampledStatement(rel), []string{source.EmptyConstraint}), nil
	}
	if len(planned.Parents) == 0 {
		return s.adapter.SampledStatement(rel, settings.Sample)
	}

	predicates := make([]string, 0, len(planned.Parents))
	for _, edge := range planned.Parents {
		predicate, err := s.adapter.PredicateConstraintStatement(edge.Remote, s.opts.Analyze, edge.LocalAttribute, edge.RemoteAttribute)
		if err != nil {
			return "", err
		}
		predicates = append(predicates, predicate)
	}
	constrained := source.FilterWrap(s.adapter.UnsampledStatement(rel), predicates)
	return s.adapter.DirectionalWrapStatement(constrained, settings.Sample)
}

// relationTask samples one relation.
type relationTask struct {
	workqueue.BaseTask
	sampler *Sampler
	planned *PlannedRelation

	sampleSize     int64
	populationSize int64
}

func (t *relationTask) Execute(ctx context.Context) error {
	s := t.sampler
	rel := t.planned.Relation

	if err, ok := s.blocked[rel]; ok {
		return err
	}

	// A retried attempt reuses the statement from the first attempt.
	core := rel.CoreQuery()
	if core == "" {
		var err error
		core, err = s.CoreQuery(t.planned)
		if err != nil {
			return fmt.Errorf("relation %s: %w", rel.DotNotation(), err)
		}
		if err := rel.SetCoreQuery(core); err != nil {
			return err
		}
	}

	if s.opts.Analyze {
		return t.analyze(ctx, core)
	}

	if t.planned.Settings.MaxCount == 0 {
		return t.record(emptySample(rel))
	}
	rows, err := s.conn.SafeExecute(ctx, core, t.planned.Settings.MaxCount)
	if err != nil {
		return fmt.Errorf("relation %s: %w", rel.DotNotation(), err)
	}
	return t.record(rows)
}

func (t *relationTask) record(rows *models.RowSet) error {
	rel := t.planned.Relation
	if err := rel.SetSample(rows); err != nil {
		return err
	}
	t.sampleSize = int64(rows.Len())
	t.sampler.logger.Info("sampled relation",
		zap.String("relation", rel.DotNotation()),
		zap.Int64("rows", t.sampleSize))
	return nil
}

func (t *relationTask) analyze(ctx context.Context, core string) error {
	rel := t.planned.Relation
	rows, err := t.sampler.conn.Query(ctx, t.sampler.adapter.AnalyzeWrapStatement(core, rel))
	if err != nil {
		return fmt.Errorf("analyze %s: %w", rel.DotNotation(), err)
	}
	if rows.Len() != 1 {
		return fmt.Errorf("analyze %s: expected one row, got %d", rel.DotNotation(), rows.Len())
	}
	if t.sampleSize, err = countColumn(rows, "sample_size"); err != nil {
		return fmt.Errorf("analyze %s: %w", rel.DotNotation(), err)
	}
	if t.populationSize, err = countColumn(rows, "population_size"); err != nil {
		return fmt.Errorf("analyze %s: %w", rel.DotNotation(), err)
	}
	return nil
}

func (t *relationTask) result(snap workqueue.TaskSnapshot) RelationReport {
	rr := RelationReport{
		Relation:       t.planned.Relation.DotNotation(),
		Status:         snap.Status,
		SampleSize:     t.sampleSize,
		PopulationSize: -1,
		Duration:       snap.Duration(),
		Caveats:        t.planned.Caveats,
		Err:            snap.Err,
	}
	if t.sampler.opts.Analyze && snap.Status == workqueue.TaskStatusCompleted {
		rr.PopulationSize = t.populationSize
	}
	return rr
}

func emptySample(rel *models.Relation) *models.RowSet {
	attrs := rel.Attributes()
	columns := make([]string, len(attrs))
	for i, a := range attrs {
		columns[i] = a.Name()
	}
	return &models.RowSet{Columns: columns, Rows: [][]any{}}
}

func countColumn(rows *models.RowSet, column string) (int64, error) {
	values, err := rows.Values(column)
	if err != nil {
		return 0, err
	}
	switch v := values[0].(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64)
	}
	return 0, fmt.Errorf("column %s: unexpected %T", column, values[0])
}
