package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-worker/constants"
	"github.com/joseph-ayodele/receipts-worker/internal/common"
	"github.com/joseph-ayodele/receipts-worker/internal/entity"
	"github.com/joseph-ayodele/receipts-worker/internal/ingest"
	"github.com/joseph-ayodele/receipts-worker/internal/parser"
	"github.com/joseph-ayodele/receipts-worker/internal/repository"
	"github.com/joseph-ayodele/receipts-worker/internal/status"
)

const store = "lidl"

func fp(v float64) *float64 { return &v }
func sp(v string) *string   { return &v }
func bp(v bool) *bool       { return &v }

// stubParser reads a tiny line format:
//
//	fail            -> TOTAL_NOT_FOUND
//	boom            -> transient error
//	nototal         -> receipt without a total, no error
//	total=<n>       -> receipt total (default 10)
//	warn            -> adds missing_timestamp
//	item=<name>[:nonfood]
func stubParser() parser.Parser {
	return parser.ParserFunc(func(_ context.Context, in parser.Input) (*entity.Receipt, error) {
		rec := entity.NewReceipt(in.Store, in.FileName, in.RelBase)
		rec.Timestamp = entity.NewTimestamp(time.Date(2025, 3, 15, 18, 42, 7, 0, time.UTC))
		total := 10.0
		noTotal := false
		for _, line := range strings.Split(string(in.Data), "\n") {
			line = strings.TrimSpace(line)
			switch {
			case line == "fail":
				rec.Processing.Status = constants.StatusFail
				return rec, parser.NewParseError(parser.CodeTotalNotFound, "no total", rec)
			case line == "boom":
				return nil, errors.New("ocr tool crashed")
			case line == "nototal":
				noTotal = true
			case line == "warn":
				rec.AddWarning(constants.WarnMissingTimestamp, "no DATA line found")
			case strings.HasPrefix(line, "total="):
				if v, err := strconv.ParseFloat(strings.TrimPrefix(line, "total="), 64); err == nil {
					total = v
				}
			case strings.HasPrefix(line, "item="):
				name := strings.TrimPrefix(line, "item=")
				it := entity.ReceiptItem{Quantity: fp(1), Unit: sp("BUC"), UnitPrice: fp(1), PaidAmount: fp(1)}
				if n, ok := strings.CutSuffix(name, ":nonfood"); ok {
					name = n
					it.IsFood = bp(false)
				}
				it.Name = name
				rec.Items = append(rec.Items, it)
			}
		}
		if !noTotal {
			rec.Total = &total
		}
		return rec, nil
	})
}

type env struct {
	root   string
	layout ingest.Layout
	db     *repository.DB
	repo   repository.ReceiptRepository
	apps   repository.AppStatusRepository
	owner  uuid.UUID
	reg    *parser.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, common.DatabaseConfig{Driver: repository.DriverSQLite, DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	reg := parser.NewRegistry()
	require.NoError(t, reg.Register(store, stubParser()))

	root := t.TempDir()
	layout := ingest.NewLayout(root)
	require.NoError(t, layout.EnsureStoreDirs(store))
	return &env{
		root:   root,
		layout: layout,
		db:     db,
		repo:   repository.NewReceiptRepository(db, nil),
		apps:   repository.NewAppStatusRepository(db, nil),
		owner:  uuid.New(),
		reg:    reg,
	}
}

func (e *env) options() Options {
	return Options{OwnerID: e.owner, DBWrites: true, Moves: true, Artifacts: true, ParseAttempts: 2, RetryDelay: time.Millisecond}
}

func (e *env) processor(opts Options, archiver Archiver) *Processor {
	var st ReceiptStore
	if opts.DBWrites {
		st = e.repo
	}
	return NewProcessor(e.layout, e.reg, st, archiver, opts, nil)
}

func (e *env) drop(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(e.layout.Inbox(store), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func (e *env) count(t *testing.T) int {
	t.Helper()
	n, err := e.repo.CountReceipts(context.Background(), e.owner)
	require.NoError(t, err)
	return n
}

func readJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(b, &doc))
	return doc
}

func inboxNames(t *testing.T, e *env) []string {
	t.Helper()
	entries, err := os.ReadDir(e.layout.Inbox(store))
	require.NoError(t, err)
	var out []string
	for _, en := range entries {
		out = append(out, en.Name())
	}
	return out
}

func TestProcessFile_Processed(t *testing.T) {
	e := newEnv(t)
	p := e.processor(e.options(), nil)
	src := e.drop(t, "IMG_1.txt", "item=LAPTE\nitem=PUNGA:nonfood\ntotal=17.74")

	res := p.ProcessFile(context.Background(), store, src)

	assert.Equal(t, constants.OutcomeProcessedOK, res.Outcome)
	assert.Equal(t, constants.DispositionProcessed, res.Disposition)
	assert.Equal(t, filepath.Join(e.layout.Processed(store), "IMG_1.txt"), res.FinalPath)
	assert.Equal(t, 2, res.Items)
	assert.Equal(t, 17.74, res.Total)
	assert.False(t, res.Duplicate)
	assert.Len(t, res.Hash, 64)
	assert.NoFileExists(t, src)
	assert.Empty(t, inboxNames(t, e))
	assert.Equal(t, 1, e.count(t))

	require.Equal(t, res.FinalPath+".json", res.ArtifactPath)
	doc := readJSON(t, res.ArtifactPath)
	assert.Equal(t, 17.74, doc["total"])
	disp := doc["disposition"].(map[string]any)
	assert.Equal(t, "processed", disp["location"])
	assert.Equal(t, "processed/lidl/IMG_1.txt", disp["path"])
	assert.Equal(t, res.Hash, disp["source_hash"])
}

func TestProcessFile_RenamedCopyIsDuplicate(t *testing.T) {
	e := newEnv(t)
	p := e.processor(e.options(), nil)
	ctx := context.Background()

	first := p.ProcessFile(ctx, store, e.drop(t, "a.txt", "item=LAPTE"))
	second := p.ProcessFile(ctx, store, e.drop(t, "b.txt", "item=LAPTE"))

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, constants.OutcomeProcessedOK, second.Outcome)
	assert.Equal(t, constants.DispositionProcessed, second.Disposition)
	assert.Equal(t, 1, e.count(t))
}

func TestProcessFile_DuplicateTotalMismatchWarns(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.processor(e.options(), nil)
	p.ProcessFile(ctx, store, e.drop(t, "a.txt", "item=LAPTE"))

	// same bytes, parser now disagrees about the total
	calls := 0
	reg := parser.NewRegistry()
	require.NoError(t, reg.Register(store, parser.ParserFunc(func(ctx context.Context, in parser.Input) (*entity.Receipt, error) {
		calls++
		rec, err := stubParser().Parse(ctx, in)
		if rec != nil {
			rec.Total = fp(12.5)
		}
		return rec, err
	})))
	e.reg = reg
	res := e.processor(e.options(), nil).ProcessFile(ctx, store, e.drop(t, "a.txt", "item=LAPTE"))

	assert.Equal(t, 1, calls)
	assert.True(t, res.Duplicate)
	assert.Equal(t, constants.OutcomeProcessedWarn, res.Outcome)
	assert.Equal(t, filepath.Join(e.layout.Processed(store), "a-1.txt"), res.FinalPath)

	doc := readJSON(t, res.ArtifactPath)
	warnings := doc["processing"].(map[string]any)["warnings"].([]any)
	require.Len(t, warnings, 1)
	assert.Equal(t, "duplicate_content_mismatch", warnings[0].(map[string]any)["code"])
	assert.Equal(t, 1, e.count(t))
}

func TestProcessFile_ParseFailure(t *testing.T) {
	e := newEnv(t)
	p := e.processor(e.options(), nil)
	src := e.drop(t, "bad.txt", "fail")

	res := p.ProcessFile(context.Background(), store, src)

	assert.Equal(t, constants.OutcomeFailed, res.Outcome)
	assert.Equal(t, constants.ErrorKindParse, res.ErrorKind)
	assert.Equal(t, constants.DispositionFailed, res.Disposition)
	assert.Equal(t, filepath.Join(e.layout.Failed(store), "bad.txt"), res.FinalPath)
	assert.Zero(t, e.count(t))

	require.Equal(t, res.FinalPath+".error.json", res.ArtifactPath)
	doc := readJSON(t, res.ArtifactPath)
	rerr := doc["runner_error"].(map[string]any)
	assert.Equal(t, "PARSER_FAIL", rerr["code"])
	assert.Equal(t, "parse", rerr["kind"])
	assert.Contains(t, rerr["message"], "TOTAL_NOT_FOUND")
	data := doc["data"].(map[string]any)
	assert.Equal(t, "fail", data["processing"].(map[string]any)["status"])
}

func TestProcessFile_TransientErrorsExhausted(t *testing.T) {
	e := newEnv(t)
	p := e.processor(e.options(), nil)

	res := p.ProcessFile(context.Background(), store, e.drop(t, "x.txt", "boom"))

	assert.Equal(t, constants.OutcomeFailed, res.Outcome)
	assert.Equal(t, constants.ErrorKindParse, res.ErrorKind)
	assert.Contains(t, res.Message, "ocr tool crashed")
	doc := readJSON(t, res.ArtifactPath)
	assert.Nil(t, doc["data"])
}

func TestProcessFile_SchemaFailure(t *testing.T) {
	e := newEnv(t)
	p := e.processor(e.options(), nil)

	res := p.ProcessFile(context.Background(), store, e.drop(t, "x.txt", "nototal"))

	assert.Equal(t, constants.OutcomeFailed, res.Outcome)
	assert.Equal(t, constants.ErrorKindSchema, res.ErrorKind)
	assert.Equal(t, constants.DispositionFailed, res.Disposition)
	doc := readJSON(t, res.ArtifactPath)
	assert.Equal(t, "SCHEMA_INVALID", doc["runner_error"].(map[string]any)["code"])
	assert.NotNil(t, doc["data"])
}

func TestProcessFile_ReadErrorLeavesFile(t *testing.T) {
	e := newEnv(t)
	p := e.processor(e.options(), nil)
	missing := filepath.Join(e.layout.Inbox(store), "gone.txt")

	res := p.ProcessFile(context.Background(), store, missing)

	assert.Equal(t, constants.OutcomeFailed, res.Outcome)
	assert.Equal(t, constants.ErrorKindRead, res.ErrorKind)
	assert.Equal(t, constants.DispositionInbox, res.Disposition)
	assert.Equal(t, missing, res.FinalPath)
	assert.FileExists(t, missing+".error.json")
	doc := readJSON(t, missing+".error.json")
	assert.Equal(t, "READ_ERROR", doc["runner_error"].(map[string]any)["code"])
}

func TestProcessFile_PersistFailureRoutesToFailed(t *testing.T) {
	e := newEnv(t)
	p := e.processor(e.options(), nil)
	require.NoError(t, e.db.Close())

	res := p.ProcessFile(context.Background(), store, e.drop(t, "a.txt", "item=LAPTE"))

	assert.Equal(t, constants.OutcomeFailed, res.Outcome)
	assert.Equal(t, constants.ErrorKindPersist, res.ErrorKind)
	assert.Equal(t, constants.DispositionFailed, res.Disposition)
	doc := readJSON(t, res.ArtifactPath)
	assert.Equal(t, "DB_ERROR", doc["runner_error"].(map[string]any)["code"])
}

func TestProcessFile_RouteCollisionGetsSuffix(t *testing.T) {
	e := newEnv(t)
	p := e.processor(e.options(), nil)
	taken := filepath.Join(e.layout.Processed(store), "IMG_1.txt")
	require.NoError(t, os.WriteFile(taken, []byte("older"), 0o644))

	res := p.ProcessFile(context.Background(), store, e.drop(t, "IMG_1.txt", "item=LAPTE"))

	assert.Equal(t, constants.OutcomeProcessedOK, res.Outcome)
	assert.Equal(t, filepath.Join(e.layout.Processed(store), "IMG_1-1.txt"), res.FinalPath)
	older, err := os.ReadFile(taken)
	require.NoError(t, err)
	assert.Equal(t, "older", string(older))
}

func TestProcessFile_DryRun(t *testing.T) {
	e := newEnv(t)
	opts := e.options()
	opts.DryRun, opts.DBWrites, opts.Moves = true, false, false
	src := e.drop(t, "a.txt", "item=LAPTE")

	res := e.processor(opts, nil).ProcessFile(context.Background(), store, src)

	assert.Equal(t, constants.OutcomeProcessedOK, res.Outcome)
	assert.Equal(t, constants.DispositionInbox, res.Disposition)
	assert.FileExists(t, src)
	assert.Zero(t, e.count(t))
	require.Equal(t, src+".json", res.ArtifactPath)
	disp := readJSON(t, res.ArtifactPath)["disposition"].(map[string]any)
	assert.Equal(t, true, disp["dry_run"])
	assert.Equal(t, "inbox", disp["location"])

	// a real run afterwards cleans the inbox
	live := e.processor(e.options(), nil).ProcessFile(context.Background(), store, src)
	assert.Equal(t, constants.DispositionProcessed, live.Disposition)
	assert.Empty(t, inboxNames(t, e))
}

func TestProcessFile_NoMoveNoJSON(t *testing.T) {
	e := newEnv(t)
	opts := e.options()
	opts.Moves, opts.Artifacts = false, false
	src := e.drop(t, "a.txt", "item=LAPTE")

	res := e.processor(opts, nil).ProcessFile(context.Background(), store, src)

	assert.Equal(t, constants.OutcomeProcessedOK, res.Outcome)
	assert.Equal(t, constants.DispositionInbox, res.Disposition)
	assert.Empty(t, res.ArtifactPath)
	assert.Equal(t, []string{"a.txt"}, inboxNames(t, e))
	assert.Equal(t, 1, e.count(t))
}

func TestProcessFile_FoodHintsFromHistory(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.processor(e.options(), nil)

	p.ProcessFile(ctx, store, e.drop(t, "a.txt", "item=Punga Mare:nonfood\ntotal=1"))
	res := p.ProcessFile(ctx, store, e.drop(t, "b.txt", "item=PUNGA MARE\ntotal=2"))
	require.Equal(t, constants.OutcomeProcessedOK, res.Outcome)

	items := readJSON(t, res.ArtifactPath)["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, false, items[0].(map[string]any)["is_food"])
}

type fakeArchiver struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (f *fakeArchiver) Archive(_ context.Context, _ string, _ time.Time, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.paths = append(f.paths, localPath)
	return nil
}

func TestProcessFile_Archive(t *testing.T) {
	t.Run("uploads file and artifact", func(t *testing.T) {
		e := newEnv(t)
		arch := &fakeArchiver{}
		res := e.processor(e.options(), arch).ProcessFile(context.Background(), store, e.drop(t, "a.txt", "item=LAPTE"))

		assert.Equal(t, constants.OutcomeProcessedOK, res.Outcome)
		assert.Equal(t, []string{res.FinalPath, res.ArtifactPath}, arch.paths)
	})

	t.Run("failure keeps the outcome", func(t *testing.T) {
		e := newEnv(t)
		arch := &fakeArchiver{err: errors.New("bucket unreachable")}
		res := e.processor(e.options(), arch).ProcessFile(context.Background(), store, e.drop(t, "a.txt", "item=LAPTE"))

		assert.Equal(t, constants.OutcomeProcessedOK, res.Outcome)
		assert.Equal(t, 1, res.Warnings)
		warnings := readJSON(t, res.ArtifactPath)["processing"].(map[string]any)["warnings"].([]any)
		require.Len(t, warnings, 1)
		assert.Equal(t, "archive_failed", warnings[0].(map[string]any)["code"])
	})

	t.Run("skipped on failure", func(t *testing.T) {
		e := newEnv(t)
		arch := &fakeArchiver{}
		e.processor(e.options(), arch).ProcessFile(context.Background(), store, e.drop(t, "a.txt", "fail"))
		assert.Empty(t, arch.paths)
	})
}

func TestOptionsFromConfig(t *testing.T) {
	owner := uuid.NewString()

	opts, err := OptionsFromConfig(common.ReceiptsConfig{OwnerID: owner, ParseAttempts: 3})
	require.NoError(t, err)
	assert.True(t, opts.DBWrites)
	assert.True(t, opts.Moves)
	assert.True(t, opts.Artifacts)
	assert.Equal(t, owner, opts.OwnerID.String())

	opts, err = OptionsFromConfig(common.ReceiptsConfig{DryRun: true})
	require.NoError(t, err)
	assert.False(t, opts.DBWrites)
	assert.False(t, opts.Moves)
	assert.True(t, opts.Artifacts)
	assert.Equal(t, 1, opts.ParseAttempts)

	_, err = OptionsFromConfig(common.ReceiptsConfig{})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = OptionsFromConfig(common.ReceiptsConfig{OwnerID: "nope", NoDB: true})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

type memorySink struct {
	mu      sync.Mutex
	reports []status.StoreReport
}

func (m *memorySink) Report(_ context.Context, r status.StoreReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return nil
}

func (e *env) runner(sink status.Sink, opts RunnerOptions) *Runner {
	return NewRunner(e.layout, e.processor(e.options(), nil), sink, opts, nil)
}

func TestRunner_IsolatesFailures(t *testing.T) {
	e := newEnv(t)
	e.drop(t, "1.txt", "item=A\ntotal=1")
	e.drop(t, "2.txt", "fail")
	e.drop(t, "3.txt", "item=C\nwarn\ntotal=3")
	e.drop(t, ".hidden.txt", "item=H")
	e.drop(t, "notes.md", "item=N")
	sink := &memorySink{}

	report := e.runner(sink, RunnerOptions{}).Run(context.Background(), []string{store})

	require.Len(t, report.Stores, 1)
	run := report.Stores[0]
	require.NoError(t, run.Err)
	assert.Equal(t, 3, run.Metrics.Seen)
	assert.Equal(t, 1, run.Metrics.OK)
	assert.Equal(t, 1, run.Metrics.Warn)
	assert.Equal(t, 1, run.Metrics.Failed)
	assert.Equal(t, 4.0, run.Metrics.TotalValue)
	assert.Equal(t, 1, report.ExitCode())
	assert.Equal(t, 2, e.count(t))
	assert.ElementsMatch(t, []string{".hidden.txt", "notes.md"}, inboxNames(t, e))

	require.Len(t, sink.reports, 1)
	rep := sink.reports[0]
	assert.Equal(t, constants.AppStatusFail, rep.Status)
	assert.Contains(t, rep.LastError, "2.txt")
	assert.Equal(t, "seen=3 ok=1 warn=1 fail=1 dup=0 items=2 total=4.00", rep.Description)
	assert.NoFileExists(t, filepath.Join(e.layout.Locks(), store+".lock"))
}

func TestRunner_SecondRunIsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.drop(t, "1.txt", "item=A")
	r := e.runner(nil, RunnerOptions{})

	first := r.Run(context.Background(), []string{store})
	second := r.Run(context.Background(), []string{store})

	assert.Equal(t, 0, first.ExitCode())
	assert.Equal(t, 1, first.Totals().OK)
	assert.Zero(t, second.Totals().Seen)
	assert.Equal(t, 0, second.ExitCode())
	assert.Equal(t, 1, e.count(t))
}

func TestRunner_BatchSizeCaps(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 10; i++ {
		e.drop(t, string(rune('a'+i))+".txt", "item=X\ntotal="+string(rune('1'+i%9)))
	}
	r := e.runner(nil, RunnerOptions{BatchSize: 3})

	first := r.Run(context.Background(), []string{store})
	assert.Equal(t, 3, first.Totals().Seen)
	assert.Equal(t, 7, first.Totals().Remaining)
	assert.Equal(t, []string{"d.txt", "e.txt", "f.txt", "g.txt", "h.txt", "i.txt", "j.txt"}, inboxNames(t, e))

	second := r.Run(context.Background(), []string{store})
	assert.Equal(t, 3, second.Totals().Seen)
	assert.Equal(t, 4, second.Totals().Remaining)
	assert.Equal(t, []string{"g.txt", "h.txt", "i.txt", "j.txt"}, inboxNames(t, e))
	var handled []string
	for _, f := range second.Stores[0].Files {
		handled = append(handled, f.File)
	}
	assert.Equal(t, []string{"d.txt", "e.txt", "f.txt"}, handled)
}

func TestRunner_StoreErrorDoesNotStopSiblings(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.reg.Register("kaufland", stubParser()))
	e.drop(t, "1.txt", "item=A\ntotal=1")
	lock, err := ingest.AcquireLock(e.layout.Locks(), "kaufland", time.Hour, nil)
	require.NoError(t, err)
	defer func() { _ = lock.Release() }()
	sink := &memorySink{}

	report := e.runner(sink, RunnerOptions{LockStaleAfter: time.Hour}).Run(context.Background(), []string{"kaufland", store})

	require.Len(t, report.Stores, 2)
	assert.Equal(t, "kaufland", report.Stores[0].Store)
	assert.ErrorIs(t, report.Stores[0].Err, common.ErrStoreLocked)

	lidl := report.Stores[1]
	require.NoError(t, lidl.Err)
	assert.Equal(t, 1, lidl.Metrics.OK)
	assert.FileExists(t, filepath.Join(e.layout.Processed(store), "1.txt"))
	assert.Equal(t, 1, e.count(t))
	assert.Equal(t, 1, report.ExitCode())

	require.Len(t, sink.reports, 2)
	assert.Equal(t, constants.AppStatusFail, sink.reports[0].Status)
	assert.Equal(t, constants.AppStatusOK, sink.reports[1].Status)
}

func TestRunner_LockedStore(t *testing.T) {
	e := newEnv(t)
	e.drop(t, "1.txt", "item=A")
	lock, err := ingest.AcquireLock(e.layout.Locks(), store, time.Hour, nil)
	require.NoError(t, err)
	defer func() { _ = lock.Release() }()
	sink := &memorySink{}

	report := e.runner(sink, RunnerOptions{LockStaleAfter: time.Hour}).Run(context.Background(), []string{store})

	require.Len(t, report.Stores, 1)
	assert.ErrorIs(t, report.Stores[0].Err, common.ErrStoreLocked)
	assert.Equal(t, 1, report.ExitCode())
	assert.Equal(t, []string{"1.txt"}, inboxNames(t, e))
	require.Len(t, sink.reports, 1)
	assert.Equal(t, constants.AppStatusFail, sink.reports[0].Status)
}

func TestRunner_MissingRoot(t *testing.T) {
	e := newEnv(t)
	e.layout = ingest.NewLayout(filepath.Join(e.root, "nope"))

	report := e.runner(nil, RunnerOptions{}).Run(context.Background(), []string{store})

	require.Len(t, report.Stores, 1)
	assert.ErrorIs(t, report.Stores[0].Err, common.ErrRootMissing)
	assert.Equal(t, 1, report.ExitCode())
}

func TestRunner_StopsWhenCancelled(t *testing.T) {
	e := newEnv(t)
	e.drop(t, "1.txt", "item=A")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := e.runner(nil, RunnerOptions{}).Run(ctx, []string{store, "kaufland"})

	assert.Empty(t, report.Stores)
	assert.Equal(t, []string{"1.txt"}, inboxNames(t, e))
}

func TestRunMetrics_AppStatus(t *testing.T) {
	assert.Equal(t, constants.AppStatusOK, RunMetrics{OK: 2}.AppStatus(nil))
	assert.Equal(t, constants.AppStatusWarn, RunMetrics{OK: 1, Warn: 1}.AppStatus(nil))
	assert.Equal(t, constants.AppStatusFail, RunMetrics{Warn: 1, Failed: 1}.AppStatus(nil))
	assert.Equal(t, constants.AppStatusFail, RunMetrics{}.AppStatus(errors.New("locked")))
}

func TestRunner_WritesAppStatusRow(t *testing.T) {
	e := newEnv(t)
	e.drop(t, "1.txt", "item=A\nwarn")
	sink := status.NewDBSink(e.apps, nil)

	e.runner(sink, RunnerOptions{}).Run(context.Background(), []string{store})

	row, err := e.apps.Get(context.Background(), status.AppSlug(store))
	require.NoError(t, err)
	assert.Equal(t, constants.AppStatusWarn, row.Status)
	assert.Empty(t, row.LastError)
}
