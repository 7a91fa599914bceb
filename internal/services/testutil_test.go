package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/daybrief-backend/internal/locks"
	"github.com/yungbote/daybrief-backend/internal/logger"
	"github.com/yungbote/daybrief-backend/internal/repos"
	"github.com/yungbote/daybrief-backend/internal/types"
)

var (
	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func testLogger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

func testDB(tb testing.TB) *gorm.DB {
	tb.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	// A single connection keeps every session on the same in-memory db.
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("unwrap sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&types.ImportBatch{},
		&types.Atom{},
		&types.AtomLabel{},
		&types.SummaryRun{},
		&types.RunBatch{},
		&types.DayJob{},
		&types.DayOutput{},
		&types.ClassifyRun{},
	); err != nil {
		tb.Fatalf("auto migrate: %v", err)
	}
	return db
}

// fakeLockManager grants every acquire, or none when busy is set. It
// records releases so tests can assert lock hygiene.
type fakeLockManager struct {
	mu       sync.Mutex
	busy     bool
	acquired int
	released int
}

type fakeLockHandle struct {
	mgr *fakeLockManager
}

func (m *fakeLockManager) TryAcquire(ctx context.Context, key string) (locks.Handle, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return nil, false, nil
	}
	m.acquired++
	return &fakeLockHandle{mgr: m}, true, nil
}

func (m *fakeLockManager) Close() {}

func (h *fakeLockHandle) Release(ctx context.Context) {
	h.mgr.mu.Lock()
	h.mgr.released++
	h.mgr.mu.Unlock()
}

// fakeSummarizer answers from a canned per-day table. Days listed in
// failures raise a CollabError instead.
type fakeSummarizer struct {
	mu       sync.Mutex
	calls    []SummaryContext
	failures map[string]*CollabError
}

func (f *fakeSummarizer) Summarize(ctx context.Context, bundleText string, sc SummaryContext) (*SummaryResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sc)
	f.mu.Unlock()
	if f.failures != nil {
		if collab, ok := f.failures[sc.DayDate]; ok {
			return nil, collab
		}
	}
	return &SummaryResult{
		Text:      "summary for " + sc.DayDate,
		TokensIn:  100,
		TokensOut: 40,
		CostUSD:   0.005,
	}, nil
}

func (f *fakeSummarizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeClassifier maps atom text to a category verbatim; unknown text raises
// the configured error or falls through to garbage output.
type fakeClassifier struct {
	byText map[string]string
	errAt  string
	err    *CollabError
}

func (f *fakeClassifier) Classify(ctx context.Context, atomText string, categories []string, promptVersionID string) (*ClassifyResult, error) {
	if f.errAt != "" && atomText == f.errAt {
		return nil, f.err
	}
	category, ok := f.byText[atomText]
	if !ok {
		category = "not-a-category"
	}
	return &ClassifyResult{Category: category, TokensIn: 10, TokensOut: 2, CostUSD: 0.001}, nil
}

func seedBatch(tb testing.TB, db *gorm.DB, name, timezone string, createdAt time.Time) *types.ImportBatch {
	tb.Helper()
	b := &types.ImportBatch{
		ID:        uuid.New(),
		Name:      name,
		Timezone:  timezone,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if err := db.Create(b).Error; err != nil {
		tb.Fatalf("seed batch: %v", err)
	}
	return b
}

func seedAtom(tb testing.TB, db *gorm.DB, batchID uuid.UUID, role, source, text string, ts time.Time) *types.Atom {
	tb.Helper()
	a := &types.Atom{
		ID:        uuid.New(),
		BatchID:   batchID,
		Source:    source,
		Role:      role,
		Timestamp: ts.UTC(),
		Text:      text,
		CreatedAt: ts.UTC(),
	}
	if err := db.Create(a).Error; err != nil {
		tb.Fatalf("seed atom: %v", err)
	}
	return a
}

type testEnv struct {
	db         *gorm.DB
	lockMgr    *fakeLockManager
	summarizer *fakeSummarizer
	classifier *fakeClassifier
	runs       RunService
	tick       TickService
	classify   ClassifyService
}

func newTestEnv(tb testing.TB) *testEnv {
	tb.Helper()
	db := testDB(tb)
	log := testLogger(tb)
	lockMgr := &fakeLockManager{}
	summarizer := &fakeSummarizer{}
	classifier := &fakeClassifier{}

	batchRepo := repos.NewImportBatchRepo(db, log)
	atomRepo := repos.NewAtomRepo(db, log)
	labelRepo := repos.NewAtomLabelRepo(db, log)
	runRepo := repos.NewSummaryRunRepo(db, log)
	runBatchRepo := repos.NewRunBatchRepo(db, log)
	jobRepo := repos.NewDayJobRepo(db, log)
	outRepo := repos.NewDayOutputRepo(db, log)
	classifyRunRepo := repos.NewClassifyRunRepo(db, log)

	return &testEnv{
		db:         db,
		lockMgr:    lockMgr,
		summarizer: summarizer,
		classifier: classifier,
		runs:       NewRunService(db, log, lockMgr, runRepo, runBatchRepo, jobRepo, outRepo, batchRepo, atomRepo, labelRepo),
		tick:       NewTickService(db, log, lockMgr, summarizer, runRepo, jobRepo, outRepo, atomRepo, labelRepo),
		classify:   NewClassifyService(db, log, classifier, classifyRunRepo, batchRepo, atomRepo, labelRepo),
	}
}

func utcTime(tb testing.TB, value string) time.Time {
	tb.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		tb.Fatalf("parse time %q: %v", value, err)
	}
	return ts.UTC()
}
