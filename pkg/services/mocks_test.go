package services

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/piculi-bot/piculi-engine/pkg/apperrors"
	"github.com/piculi-bot/piculi-engine/pkg/fetcher"
	"github.com/piculi-bot/piculi-engine/pkg/models"
)

// mockFetcher serves listing pages by URL and documents by URL, applying the
// same hash gate as the real fetcher against an in-memory ledger.
type mockFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	docs   map[string][]byte
	ledger *mockFileRepo
	calls  []string
}

func newMockFetcher(ledger *mockFileRepo) *mockFetcher {
	return &mockFetcher{pages: map[string]string{}, docs: map[string][]byte{}, ledger: ledger}
}

func (m *mockFetcher) Text(_ context.Context, url string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, url)
	page, ok := m.pages[url]
	if !ok {
		return "", errFetch
	}
	return page, nil
}

func (m *mockFetcher) Fetch(ctx context.Context, url, filename, artifactPath string) fetcher.Result {
	m.mu.Lock()
	m.calls = append(m.calls, url)
	body, ok := m.docs[url]
	m.mu.Unlock()
	if !ok {
		return fetcher.Result{Outcome: fetcher.FetchFailed, Err: errFetch}
	}
	hash := fetcher.Hash(body)
	if prev, err := m.ledger.GetHash(ctx, filename); err == nil && prev == hash {
		if _, err := os.Stat(artifactPath); artifactPath == "" || err == nil {
			return fetcher.Result{Outcome: fetcher.Unchanged, Body: body, Hash: hash}
		}
	}
	return fetcher.Result{Outcome: fetcher.Updated, Body: body, Hash: hash}
}

type mockGroupRepo struct {
	mu     sync.Mutex
	groups map[string]bool
	err    error
}

func newMockGroupRepo() *mockGroupRepo {
	return &mockGroupRepo{groups: map[string]bool{}}
}

func (m *mockGroupRepo) InsertUntracked(_ context.Context, names []string) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, name := range names {
		if _, ok := m.groups[name]; !ok {
			m.groups[name] = false
			n++
		}
	}
	return n, nil
}

func (m *mockGroupRepo) UpsertTracked(_ context.Context, names []string) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		m.groups[name] = true
	}
	return nil
}

func (m *mockGroupRepo) ListTracked(_ context.Context) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for name, tracked := range m.groups {
		if tracked {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *mockGroupRepo) SetTracked(_ context.Context, name string, tracked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[name]; !ok {
		return apperrors.ErrNotFound
	}
	m.groups[name] = tracked
	return nil
}

func (m *mockGroupRepo) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.groups), nil
}

func (m *mockGroupRepo) List(_ context.Context) ([]models.TrackedGroup, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TrackedGroup
	for name, tracked := range m.groups {
		out = append(out, models.TrackedGroup{GroupName: name, IsTracked: tracked})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupName < out[j].GroupName })
	return out, nil
}

type mockFileRepo struct {
	mu        sync.Mutex
	hashes    map[string]string
	types     map[string]models.FileType
	upsertErr error
}

func newMockFileRepo() *mockFileRepo {
	return &mockFileRepo{hashes: map[string]string{}, types: map[string]models.FileType{}}
}

func (m *mockFileRepo) GetHash(_ context.Context, filename string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[filename]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return h, nil
}

func (m *mockFileRepo) Upsert(_ context.Context, filename, hash string, fileType models.FileType) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashes[filename] = hash
	m.types[filename] = fileType
	return nil
}

func (m *mockFileRepo) Delete(_ context.Context, fileType models.FileType) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for name, t := range m.types {
		if fileType == "" || t == fileType {
			delete(m.hashes, name)
			delete(m.types, name)
			n++
		}
	}
	return n, nil
}

func (m *mockFileRepo) Count(_ context.Context) (map[models.FileType]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[models.FileType]int{}
	for _, t := range m.types {
		out[t]++
	}
	return out, nil
}

type mockLessonRepo struct {
	mu          sync.Mutex
	lessons     []models.Lesson
	frequencies []models.PairFrequency
	groupNames  []string
	insertErr   error
	deleted     time.Time
}

func (m *mockLessonRepo) InsertBatch(_ context.Context, lessons []models.Lesson) (int64, error) {
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lessons = append(m.lessons, lessons...)
	return int64(len(lessons)), nil
}

func (m *mockLessonRepo) ListForDate(_ context.Context, group string, date time.Time) ([]models.Lesson, error) {
	return m.ListForGroupsOnDate(context.Background(), []string{group}, date)
}

func (m *mockLessonRepo) ListForGroupsOnDate(_ context.Context, groups []string, date time.Time) ([]models.Lesson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[string]bool{}
	for _, g := range groups {
		want[g] = true
	}
	var out []models.Lesson
	for _, l := range m.lessons {
		if want[l.GroupName] && l.Date.Equal(date) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockLessonRepo) PredictFrequencies(_ context.Context, _ string, _ time.Time) ([]models.PairFrequency, error) {
	return m.frequencies, nil
}

func (m *mockLessonRepo) ListGroupNames(_ context.Context) ([]string, error) {
	return m.groupNames, nil
}

func (m *mockLessonRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.deleted = cutoff
	return 3, nil
}

type mockOccupancyRepo struct {
	mu       sync.Mutex
	replaced map[string][]models.Occupancy
	order    []string
	rooms    []string
	occupied []string
	err      error
}

func newMockOccupancyRepo() *mockOccupancyRepo {
	return &mockOccupancyRepo{replaced: map[string][]models.Occupancy{}}
}

func (m *mockOccupancyRepo) ReplaceRange(_ context.Context, building string, records []models.Occupancy) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaced[building] = append(m.replaced[building], records...)
	m.order = append(m.order, building)
	return int64(len(records)), nil
}

func (m *mockOccupancyRepo) ListRooms(_ context.Context, _ string) ([]string, error) {
	return m.rooms, m.err
}

func (m *mockOccupancyRepo) ListOccupiedRooms(_ context.Context, _ time.Time, _ int, _ string) ([]string, error) {
	return m.occupied, m.err
}

func (m *mockOccupancyRepo) ListBuildings(_ context.Context) ([]string, error) {
	out := []string{"2", "15", "ФОК"}
	return out, m.err
}

type mockSettingRepo struct {
	mu       sync.Mutex
	settings map[string]string
	err      error
}

func newMockSettingRepo() *mockSettingRepo {
	return &mockSettingRepo{settings: map[string]string{}}
}

func (m *mockSettingRepo) EnsureDefaults(_ context.Context, defaults map[string]string) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range defaults {
		if _, ok := m.settings[k]; !ok {
			m.settings[k] = v
		}
	}
	return nil
}

func (m *mockSettingRepo) GetAll(_ context.Context) (map[string]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.settings))
	for k, v := range m.settings {
		out[k] = v
	}
	return out, nil
}

func (m *mockSettingRepo) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

type mockActionLogRepo struct {
	deleted time.Time
	err     error
}

func (m *mockActionLogRepo) Log(_ context.Context, _ *models.ActionLog) error { return m.err }

func (m *mockActionLogRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.deleted = cutoff
	return 7, m.err
}

func (m *mockActionLogRepo) CountSince(_ context.Context, _ time.Time) (map[string]int, error) {
	return map[string]int{}, m.err
}

// mockTx runs fn directly; there is no database behind the mocks.
type mockTx struct {
	calls int
}

func (m *mockTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	return fn(ctx)
}

// recordingSink keeps every report in order.
type recordingSink struct {
	mu        sync.Mutex
	messages  []string
	fractions []float64
	err       error
}

func (s *recordingSink) Report(_ context.Context, message string, fraction *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	if fraction != nil {
		s.fractions = append(s.fractions, *fraction)
	}
	return s.err
}

func (s *recordingSink) contains(prefix string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

type panickingSink struct{}

func (panickingSink) Report(context.Context, string, *float64) error { panic("sink exploded") }

// mockPipeline counts runs; run overrides the result when set.
type mockPipeline struct {
	mu    sync.Mutex
	calls int
	run   func(ctx context.Context) (*models.PipelineResult, error)
}

func (m *mockPipeline) RunPipeline(ctx context.Context, _ []string, _ ProgressSink) (*models.PipelineResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.run != nil {
		return m.run(ctx)
	}
	return &models.PipelineResult{RunID: "run-1"}, nil
}

func (m *mockPipeline) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockDirectorySync struct{ calls int }

func (m *mockDirectorySync) Sync(context.Context) (*DirectorySyncResult, error) {
	m.calls++
	return &DirectorySyncResult{Synced: true}, nil
}

type mockMaintenance struct{ calls int }

func (m *mockMaintenance) Run(context.Context) *MaintenanceReport {
	m.calls++
	return &MaintenanceReport{}
}

type mockDownloader struct {
	docs []DownloadedDocument
	err  error
}

func (m *mockDownloader) Download(context.Context, []string, ProgressSink) ([]DownloadedDocument, error) {
	return m.docs, m.err
}

type mockOccupancySync struct {
	summary *OccupancySummary
	err     error
	calls   int
}

func (m *mockOccupancySync) Refresh(context.Context) (*OccupancySummary, error) {
	m.calls++
	if m.summary == nil {
		return &OccupancySummary{}, m.err
	}
	return m.summary, m.err
}

type mockLock struct {
	err      error
	released int
}

func (m *mockLock) TryAcquire(context.Context) (func(), error) {
	if m.err != nil {
		return nil, m.err
	}
	return func() { m.released++ }, nil
}

var errFetch = errors.New("connection refused")
