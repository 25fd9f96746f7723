package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"lifeline/internal/types"
)

var retentionNow = time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC)

// ============================================================
// Mock: purge stores
// ============================================================

type mockPurger struct {
	count     int64
	err       error
	gotCutoff time.Time
	calls     int
}

func (m *mockPurger) purge(cutoff time.Time) (int64, error) {
	m.calls++
	m.gotCutoff = cutoff
	if m.err != nil {
		return 0, m.err
	}
	return m.count, nil
}

type mockRetentionSwitches struct{ mockPurger }

func (m *mockRetentionSwitches) PurgeSoftDeleted(_ context.Context, cutoff time.Time) (int64, error) {
	return m.purge(cutoff)
}

type mockRetentionMessages struct{ mockPurger }

func (m *mockRetentionMessages) PurgeSoftDeleted(_ context.Context, cutoff time.Time) (int64, error) {
	return m.purge(cutoff)
}

type mockCheckInPurger struct{ mockPurger }

func (m *mockCheckInPurger) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	return m.purge(cutoff)
}

type mockJobLockPurger struct{ mockPurger }

func (m *mockJobLockPurger) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	return m.purge(now)
}

type mockJobHistoryPurger struct{ mockPurger }

func (m *mockJobHistoryPurger) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	return m.purge(cutoff)
}

// ============================================================
// Mock: AuditArchiveStore
// ============================================================

type mockAuditArchive struct {
	mu sync.Mutex

	// batches are returned from ListBefore in order; after they run out,
	// ListBefore returns empty.
	batches   [][]*types.AuditEntry
	listErr   error
	deleteErr error

	deletedIDs [][]int64
	appended   []*types.AuditEntry
}

func (m *mockAuditArchive) ListBefore(_ context.Context, _ time.Time, _ int) ([]*types.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	if len(m.batches) == 0 {
		return nil, nil
	}
	batch := m.batches[0]
	m.batches = m.batches[1:]
	return batch, nil
}

func (m *mockAuditArchive) DeleteByIDs(_ context.Context, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	m.deletedIDs = append(m.deletedIDs, ids)
	return int64(len(ids)), nil
}

func (m *mockAuditArchive) Append(_ context.Context, entry *types.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended = append(m.appended, entry)
	return nil
}

// ============================================================
// Mock: ArchiveUploader
// ============================================================

type uploadedArchive struct {
	key  string
	data []byte
}

type mockUploader struct {
	uploads   []uploadedArchive
	uploadErr error
}

func (m *mockUploader) UploadArchive(_ context.Context, key string, data []byte) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	m.uploads = append(m.uploads, uploadedArchive{key: key, data: data})
	return nil
}

// ============================================================
// Retention fixture
// ============================================================

type retentionFixture struct {
	switches   *mockRetentionSwitches
	messages   *mockRetentionMessages
	checkIns   *mockCheckInPurger
	audit      *mockAuditArchive
	jobLocks   *mockJobLockPurger
	jobHistory *mockJobHistoryPurger
	uploader   *mockUploader
	metrics    *mockMetrics
}

func newRetentionFixture() *retentionFixture {
	return &retentionFixture{
		switches:   &mockRetentionSwitches{},
		messages:   &mockRetentionMessages{},
		checkIns:   &mockCheckInPurger{},
		audit:      &mockAuditArchive{},
		jobLocks:   &mockJobLockPurger{},
		jobHistory: &mockJobHistoryPurger{},
		uploader:   &mockUploader{},
		metrics:    newMockMetrics(),
	}
}

func (f *retentionFixture) service(batchSize int) *RetentionService {
	return NewRetentionService(RetentionConfig{
		Switches:       f.switches,
		Messages:       f.messages,
		CheckIns:       f.checkIns,
		Audit:          f.audit,
		JobLocks:       f.jobLocks,
		JobHistory:     f.jobHistory,
		Archiver:       f.uploader,
		Metrics:        f.metrics,
		Logger:         schedulerTestLogger(),
		AuditBatchSize: batchSize,
	})
}

func auditEntry(id int64) *types.AuditEntry {
	return &types.AuditEntry{
		ID:         id,
		EventType:  types.AuditSwitchTriggered,
		EntityID:   "sw_1",
		Actor:      "check-switches-scanner",
		Details:    json.RawMessage(`{"reason":"grace_period_expired"}`),
		OccurredAt: retentionNow.Add(-120 * 24 * time.Hour),
	}
}

// ============================================================
// Tests
// ============================================================

func TestRetentionRun_PurgesAllEntities(t *testing.T) {
	f := newRetentionFixture()
	f.switches.count = 3
	f.messages.count = 7
	f.checkIns.count = 230
	f.jobLocks.count = 4
	f.jobHistory.count = 12
	f.audit.batches = [][]*types.AuditEntry{{auditEntry(1), auditEntry(2)}}

	total, err := f.service(500).Run(context.Background(), retentionNow)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if total != 3+7+230+4+12+2 {
		t.Fatalf("total = %d, want %d", total, 3+7+230+4+12+2)
	}

	// Cutoffs honor the windows: nothing inside a window is eligible.
	wantSoftDelete := retentionNow.Add(-DefaultSoftDeleteRetention)
	if !f.switches.gotCutoff.Equal(wantSoftDelete) {
		t.Errorf("switch cutoff = %v, want %v", f.switches.gotCutoff, wantSoftDelete)
	}
	if !f.messages.gotCutoff.Equal(wantSoftDelete) {
		t.Errorf("message cutoff = %v, want %v", f.messages.gotCutoff, wantSoftDelete)
	}
	wantCheckIn := retentionNow.Add(-DefaultCheckInRetention)
	if !f.checkIns.gotCutoff.Equal(wantCheckIn) {
		t.Errorf("check-in cutoff = %v, want %v", f.checkIns.gotCutoff, wantCheckIn)
	}
	if !f.jobLocks.gotCutoff.Equal(retentionNow) {
		t.Errorf("job lock cutoff = %v, want %v", f.jobLocks.gotCutoff, retentionNow)
	}

	if dims := f.metrics.dims[types.MetricRetentionPurged]; dims[types.DimEntity] == "" {
		t.Errorf("purge metric missing entity dimension: %v", dims)
	}
	if got := f.metrics.count(types.MetricRetentionPurged); got != float64(total) {
		t.Errorf("purge metric total = %v, want %d", got, total)
	}

	// The cycle itself lands in the audit trail with per-entity counts.
	if len(f.audit.appended) != 1 {
		t.Fatalf("audit appends = %d, want 1", len(f.audit.appended))
	}
	if f.audit.appended[0].EventType != types.AuditRetentionPurge {
		t.Errorf("audit event = %s, want %s", f.audit.appended[0].EventType, types.AuditRetentionPurge)
	}
	if !strings.Contains(string(f.audit.appended[0].Details), `"check_ins":230`) {
		t.Errorf("audit details %s missing check-in count", f.audit.appended[0].Details)
	}
}

func TestRetentionRun_StepFailureContinues(t *testing.T) {
	f := newRetentionFixture()
	f.switches.err = types.NewAppError(types.ErrCodeInternalDB, "deadlock", nil)
	f.messages.count = 5
	f.checkIns.count = 10

	total, err := f.service(500).Run(context.Background(), retentionNow)
	if err == nil {
		t.Fatal("expected joined step error")
	}
	if total != 15 {
		t.Fatalf("total = %d, want 15 from the surviving steps", total)
	}
	if f.messages.calls != 1 || f.checkIns.calls != 1 || f.jobLocks.calls != 1 {
		t.Error("later steps must still run after an earlier step fails")
	}
	if !strings.Contains(err.Error(), "switches") {
		t.Errorf("error %q does not name the failed step", err)
	}
}

func TestRetentionRun_ArchivesBeforeDeleting(t *testing.T) {
	f := newRetentionFixture()
	f.audit.batches = [][]*types.AuditEntry{{auditEntry(10), auditEntry(11), auditEntry(12)}}

	if _, err := f.service(500).Run(context.Background(), retentionNow); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(f.uploader.uploads) != 1 {
		t.Fatalf("uploads = %d, want 1", len(f.uploader.uploads))
	}
	up := f.uploader.uploads[0]
	if !strings.HasPrefix(up.key, "audit/") || !strings.HasSuffix(up.key, ".jsonl.gz") {
		t.Errorf("archive key = %s", up.key)
	}

	// The archive is valid gzip JSONL with one line per entry.
	zr, err := gzip.NewReader(bytes.NewReader(up.data))
	if err != nil {
		t.Fatalf("archive is not gzip: %v", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 3 {
		t.Fatalf("archive lines = %d, want 3", len(lines))
	}
	var first types.AuditEntry
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("archive line is not JSON: %v", err)
	}
	if first.ID != 10 {
		t.Errorf("first archived id = %d, want 10", first.ID)
	}

	if len(f.audit.deletedIDs) != 1 {
		t.Fatalf("delete calls = %d, want 1", len(f.audit.deletedIDs))
	}
	if got := f.audit.deletedIDs[0]; len(got) != 3 || got[0] != 10 || got[2] != 12 {
		t.Errorf("deleted ids = %v, want [10 11 12]", got)
	}
}

func TestRetentionRun_ArchivePagination(t *testing.T) {
	f := newRetentionFixture()
	// Full first page forces a second fetch; the short second page ends
	// the loop.
	f.audit.batches = [][]*types.AuditEntry{
		{auditEntry(1), auditEntry(2)},
		{auditEntry(3)},
	}

	total, err := f.service(2).Run(context.Background(), retentionNow)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if len(f.uploader.uploads) != 2 {
		t.Errorf("uploads = %d, want 2", len(f.uploader.uploads))
	}
	if len(f.audit.deletedIDs) != 2 {
		t.Errorf("delete calls = %d, want 2", len(f.audit.deletedIDs))
	}
}

func TestRetentionRun_UploadFailureKeepsRows(t *testing.T) {
	f := newRetentionFixture()
	f.audit.batches = [][]*types.AuditEntry{{auditEntry(1)}}
	f.uploader.uploadErr = errors.New("s3 unavailable")

	_, err := f.service(500).Run(context.Background(), retentionNow)
	if err == nil {
		t.Fatal("expected error from failed upload")
	}
	if len(f.audit.deletedIDs) != 0 {
		t.Errorf("rows deleted despite failed upload: %v", f.audit.deletedIDs)
	}
}

func TestRetentionRun_NoArchiverSkipsAuditStep(t *testing.T) {
	f := newRetentionFixture()
	f.audit.batches = [][]*types.AuditEntry{{auditEntry(1)}}

	svc := NewRetentionService(RetentionConfig{
		Switches:   f.switches,
		Messages:   f.messages,
		CheckIns:   f.checkIns,
		Audit:      f.audit,
		JobLocks:   f.jobLocks,
		JobHistory: f.jobHistory,
		Archiver:   nil,
		Metrics:    f.metrics,
		Logger:     schedulerTestLogger(),
	})

	total, err := svc.Run(context.Background(), retentionNow)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if total != 0 {
		t.Fatalf("total = %d, want 0", total)
	}
	if len(f.audit.deletedIDs) != 0 {
		t.Errorf("audit rows deleted without an archiver: %v", f.audit.deletedIDs)
	}
}

func TestNewRetentionService_Defaults(t *testing.T) {
	svc := NewRetentionService(RetentionConfig{Logger: schedulerTestLogger()})

	if svc.softDeleteRetention != DefaultSoftDeleteRetention {
		t.Errorf("soft delete retention = %v", svc.softDeleteRetention)
	}
	if svc.checkInRetention != DefaultCheckInRetention {
		t.Errorf("check-in retention = %v", svc.checkInRetention)
	}
	if svc.auditRetention != DefaultAuditRetention {
		t.Errorf("audit retention = %v", svc.auditRetention)
	}
	if svc.jobHistoryRetention != DefaultJobHistoryRetention {
		t.Errorf("job history retention = %v", svc.jobHistoryRetention)
	}
	if svc.auditBatchSize != DefaultAuditArchiveBatchSize {
		t.Errorf("audit batch size = %d", svc.auditBatchSize)
	}
}
