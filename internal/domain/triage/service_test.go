package triage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// -- Mock Repository --

type mockRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record
	failErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{records: make(map[uuid.UUID]*Record)}
}

func (m *mockRepo) Create(_ context.Context, r *Record) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	m.records[r.ID] = r
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *mockRepo) all() []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Record
	for _, r := range m.records {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result
}

func paginate(items []*Record, limit, offset int) []*Record {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (m *mockRepo) List(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	return m.Search(ctx, nil, limit, offset)
}

func (m *mockRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	return m.Search(ctx, map[string]string{"patient_id": patientID.String()}, limit, offset)
}

func (m *mockRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Record, int, error) {
	var result []*Record
	for _, r := range m.all() {
		if p, ok := params["patient_id"]; ok && r.PatientID.String() != p {
			continue
		}
		if p, ok := params["priority_level"]; ok && string(r.PriorityLevel) != p {
			continue
		}
		result = append(result, r)
	}
	return paginate(result, limit, offset), len(result), nil
}

func (m *mockRepo) Queue(_ context.Context, limit, offset int) ([]*Record, int, error) {
	items := m.all()
	SortByPriority(items)
	return paginate(items, limit, offset), len(items), nil
}

// -- Recording Alerter --

type recordingAlerter struct {
	mu      sync.Mutex
	alerted []uuid.UUID
	err     error
}

func (a *recordingAlerter) AlertHighPriority(_ context.Context, rec *Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerted = append(a.alerted, rec.ID)
	return a.err
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerted)
}

func newTestService() *Service {
	return NewService(newMockRepo())
}

// -- Tests --

func TestService_Assess_StoresResult(t *testing.T) {
	svc := newTestService()
	rec := &Record{PatientID: uuid.New(), Input: inputWithFactors(5)}
	if err := svc.Assess(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if rec.PriorityLevel != PriorityMedium || rec.RiskFactorCount != 5 {
		t.Errorf("unexpected result: %+v", rec.Result)
	}

	got, err := svc.GetRecord(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Input != rec.Input || got.Result != rec.Result {
		t.Error("stored record differs from assessed record")
	}
}

func TestService_Assess_MissingPatient(t *testing.T) {
	svc := newTestService()
	err := svc.Assess(context.Background(), &Record{Input: benignInput()})
	if err == nil {
		t.Fatal("expected error for missing patient_id")
	}
}

func TestService_Assess_InvalidInputNotStored(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	in := benignInput()
	in.Age = 0
	in.HDL = 5
	err := svc.Assess(context.Background(), &Record{PatientID: uuid.New(), Input: in})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(ve.Fields) != 2 {
		t.Errorf("expected 2 violations, got %+v", ve.Fields)
	}
	if len(repo.records) != 0 {
		t.Error("invalid input must not be stored")
	}
}

func TestService_Assess_RepoError(t *testing.T) {
	repo := newMockRepo()
	repo.failErr = errors.New("connection refused")
	svc := NewService(repo)
	err := svc.Assess(context.Background(), &Record{PatientID: uuid.New(), Input: benignInput()})
	if err == nil || !errors.Is(err, repo.failErr) {
		t.Fatalf("expected wrapped repo error, got %v", err)
	}
}

func TestService_Assess_AlertsOnHighPriority(t *testing.T) {
	svc := newTestService()
	alerter := &recordingAlerter{}
	svc.SetAlerter(alerter)

	high := &Record{PatientID: uuid.New(), Input: inputWithFactors(8)}
	if err := svc.Assess(context.Background(), high); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	low := &Record{PatientID: uuid.New(), Input: inputWithFactors(2)}
	if err := svc.Assess(context.Background(), low); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if alerter.count() != 1 || alerter.alerted[0] != high.ID {
		t.Errorf("expected one alert for %s, got %v", high.ID, alerter.alerted)
	}
}

func TestService_Assess_AlertFailureDoesNotFail(t *testing.T) {
	svc := newTestService()
	svc.SetAlerter(&recordingAlerter{err: errors.New("gateway down")})
	rec := &Record{PatientID: uuid.New(), Input: inputWithFactors(MaxRiskFactors)}
	if err := svc.Assess(context.Background(), rec); err != nil {
		t.Fatalf("alert failure must not fail assessment: %v", err)
	}
	if _, err := svc.GetRecord(context.Background(), rec.ID); err != nil {
		t.Errorf("record should be stored: %v", err)
	}
}

func TestService_Preview(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	res, err := svc.Preview(inputWithFactors(7))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PriorityLevel != PriorityHigh {
		t.Errorf("priority = %s, want HIGH", res.PriorityLevel)
	}
	if len(repo.records) != 0 {
		t.Error("preview must not persist")
	}
}

func TestService_SearchRecords_InvalidPriority(t *testing.T) {
	svc := newTestService()
	_, _, err := svc.SearchRecords(context.Background(), map[string]string{"priority_level": "URGENT"}, 10, 0)
	if err == nil {
		t.Fatal("expected error for unknown priority")
	}
}

func TestService_ListRecordsByPatient(t *testing.T) {
	svc := newTestService()
	patient := uuid.New()
	for i := 0; i < 3; i++ {
		if err := svc.Assess(context.Background(), &Record{PatientID: patient, Input: inputWithFactors(i)}); err != nil {
			t.Fatalf("assess: %v", err)
		}
	}
	if err := svc.Assess(context.Background(), &Record{PatientID: uuid.New(), Input: benignInput()}); err != nil {
		t.Fatalf("assess: %v", err)
	}
	items, total, err := svc.ListRecordsByPatient(context.Background(), patient, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 || len(items) != 3 {
		t.Errorf("expected 3 records, got %d (total %d)", len(items), total)
	}
}

func TestService_Queue(t *testing.T) {
	svc := newTestService()
	for _, n := range []int{1, 8, 5, 10, 4} {
		if err := svc.Assess(context.Background(), &Record{PatientID: uuid.New(), Input: inputWithFactors(n)}); err != nil {
			t.Fatalf("assess: %v", err)
		}
	}
	items, total, err := svc.Queue(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
	want := []int{10, 8, 5, 4, 1}
	for i, r := range items {
		if r.RiskFactorCount != want[i] {
			t.Errorf("position %d: count = %d, want %d", i, r.RiskFactorCount, want[i])
		}
	}
}

func TestService_DeleteRecord(t *testing.T) {
	svc := newTestService()
	rec := &Record{PatientID: uuid.New(), Input: benignInput()}
	if err := svc.Assess(context.Background(), rec); err != nil {
		t.Fatalf("assess: %v", err)
	}
	if err := svc.DeleteRecord(context.Background(), rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetRecord(context.Background(), rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSortByPriority(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	records := []*Record{
		{Result: Result{PriorityLevel: PriorityLow, RiskFactorCount: 2}, CreatedAt: base},
		{Result: Result{PriorityLevel: PriorityHigh, RiskFactorCount: 7}, CreatedAt: base.Add(2 * time.Minute)},
		{Result: Result{PriorityLevel: PriorityMedium, RiskFactorCount: 4}, CreatedAt: base.Add(time.Minute)},
		{Result: Result{PriorityLevel: PriorityHigh, RiskFactorCount: 7}, CreatedAt: base.Add(time.Minute)},
		{Result: Result{PriorityLevel: PriorityHigh, RiskFactorCount: 9}, CreatedAt: base.Add(3 * time.Minute)},
	}
	SortByPriority(records)

	if records[0].RiskFactorCount != 9 {
		t.Errorf("first should be the 9-factor HIGH record, got %d", records[0].RiskFactorCount)
	}
	if !records[1].CreatedAt.Equal(base.Add(time.Minute)) || !records[2].CreatedAt.Equal(base.Add(2*time.Minute)) {
		t.Error("equal HIGH records should be ordered oldest first")
	}
	if records[3].PriorityLevel != PriorityMedium || records[4].PriorityLevel != PriorityLow {
		t.Errorf("unexpected tail order: %s, %s", records[3].PriorityLevel, records[4].PriorityLevel)
	}
}

func TestPriority_Rank(t *testing.T) {
	if !(PriorityLow.Rank() < PriorityMedium.Rank() && PriorityMedium.Rank() < PriorityHigh.Rank()) {
		t.Error("expected LOW < MEDIUM < HIGH")
	}
	if Priority("URGENT").Valid() {
		t.Error("unknown priority should not be valid")
	}
}
