package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/claimwise/voicepipe/internal/models"
	"github.com/claimwise/voicepipe/internal/providers/crm"
	"github.com/claimwise/voicepipe/internal/providers/genai"
	pgrepo "github.com/claimwise/voicepipe/internal/repositories/postgres"
	"github.com/claimwise/voicepipe/internal/utils"
)

type mockVoice struct {
	mu sync.Mutex

	createResp *models.CallResponse
	createErr  error

	statuses    []models.CallStatus
	provider    models.CallProvider
	transcript  string
	statusErr   error
	statusCalls int

	downloadBody  []byte
	downloadType  string
	downloadErr   error
	downloadCalls int
}

func (m *mockVoice) CreateOutboundCall(ctx context.Context, req models.CallRequest) (*models.CallResponse, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	return m.createResp, nil
}

func (m *mockVoice) GetCallStatus(ctx context.Context, callID string) (*models.CallResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	i := m.statusCalls
	m.statusCalls++
	if i >= len(m.statuses) {
		i = len(m.statuses) - 1
	}
	return &models.CallResponse{
		CallID:     callID,
		Status:     m.statuses[i],
		Provider:   m.provider,
		CreatedAt:  time.Now().UTC(),
		Transcript: m.transcript,
	}, nil
}

func (m *mockVoice) DownloadRecording(ctx context.Context, url string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloadCalls++
	if m.downloadErr != nil {
		return nil, "", m.downloadErr
	}
	ct := m.downloadType
	if ct == "" {
		ct = "audio/mpeg"
	}
	return m.downloadBody, ct, nil
}

func (m *mockVoice) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCalls
}

type mockAI struct {
	mu sync.Mutex

	uploadErr   error
	generateErr error
	deleteErr   error
	analysis    *models.AnalysisData

	uploadCalls   int
	generateCalls int
	deleteCalls   int
}

func (m *mockAI) UploadFile(ctx context.Context, path, mimeType string) (*genai.RemoteFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadCalls++
	if m.uploadErr != nil {
		return nil, m.uploadErr
	}
	return &genai.RemoteFile{ID: "remote-1", URI: "gs://bucket/remote-1", MIMEType: mimeType}, nil
}

func (m *mockAI) GenerateStructuredContent(ctx context.Context, prompt string, files []genai.RemoteFile) (*models.AnalysisData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generateCalls++
	if m.generateErr != nil {
		return nil, m.generateErr
	}
	return m.analysis, nil
}

func (m *mockAI) DeleteFile(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	if m.deleteErr != nil {
		return false, m.deleteErr
	}
	return true, nil
}

func (m *mockAI) Close() error { return nil }

type noteCall struct {
	entityID   string
	entityType string
	text       string
	pinToTop   bool
}

type mockCRM struct {
	mu    sync.Mutex
	err   error
	notes []noteCall
}

func (m *mockCRM) AddNote(ctx context.Context, entityID, entityType, text string, pinToTop bool) (*crm.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, noteCall{entityID, entityType, text, pinToTop})
	if m.err != nil {
		return nil, m.err
	}
	return &crm.Note{ID: "n-1", EntityID: entityID, EntityType: entityType, Text: text, PinnedToTop: pinToTop}, nil
}

func (m *mockCRM) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notes)
}

// mockStore is the shared backing state across every session the factory
// hands out, so the monitor's session sees the request session's commits.
type mockStore struct {
	mu      sync.Mutex
	records map[string]*models.CallRecord

	// recording_url appears after this many reads, simulating the webhook
	// worker writing it from another session
	recordingURL        string
	recordingAfterReads int
	reads               int

	expireCalls int
	createErr   error
}

type mockFactory struct {
	store    *mockStore
	sessions int
	mu       sync.Mutex
}

func newMockFactory() *mockFactory {
	return &mockFactory{store: &mockStore{records: map[string]*models.CallRecord{}}}
}

func (f *mockFactory) NewSession() pgrepo.CallRepository {
	f.mu.Lock()
	f.sessions++
	f.mu.Unlock()
	return &mockSession{store: f.store}
}

type mockSession struct {
	store   *mockStore
	commits int
}

func (s *mockSession) CreateCall(ctx context.Context, rec *models.CallRecord) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if s.store.createErr != nil {
		return s.store.createErr
	}
	cp := *rec
	s.store.records[rec.CallID] = &cp
	return nil
}

func (s *mockSession) UpdateCallStatus(ctx context.Context, callID string, status models.CallStatus, providerData datatypes.JSON) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	rec, ok := s.store.records[callID]
	if !ok {
		return utils.ErrNotFound
	}
	rec.Status = status
	return nil
}

func (s *mockSession) EndCall(ctx context.Context, callID string, final models.CallStatus, endedAt time.Time, providerData, analysisData datatypes.JSON, transcript string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	rec, ok := s.store.records[callID]
	if !ok {
		return utils.ErrNotFound
	}
	rec.Status = final
	rec.EndedAt = &endedAt
	if len(analysisData) > 0 {
		rec.AnalysisData = analysisData
	}
	if transcript != "" {
		rec.Transcript = transcript
	}
	return nil
}

func (s *mockSession) GetCallByCallID(ctx context.Context, callID string) (*models.CallRecord, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	rec, ok := s.store.records[callID]
	if !ok {
		return nil, utils.ErrNotFound
	}
	s.store.reads++
	if s.store.recordingURL != "" && s.store.reads >= s.store.recordingAfterReads {
		url := s.store.recordingURL
		rec.RecordingURL = &url
	}
	cp := *rec
	return &cp, nil
}

func (s *mockSession) Commit() error   { s.commits++; return nil }
func (s *mockSession) Rollback() error { return nil }

func (s *mockSession) ExpireAll(ctx context.Context) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.expireCalls++
	return nil
}

// fakeClock drives the wall-clock ceiling without waiting for it.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestService(v *mockVoice, ai *mockAI, c *mockCRM, f *mockFactory, cfg CallServiceConfig) *CallService {
	s := NewCallService(v, ai, c, nil, f, cfg, quietLogger())
	clock := newFakeClock()
	s.now = clock.Now
	s.sleep = clock.Sleep
	return s
}

func defaultAnalysis() *models.AnalysisData {
	return &models.AnalysisData{
		Summary: "Spoke with the adjuster; claim is approved and payment is queued.",
		StructuredData: &models.StructuredData{
			CallOutcome: "success",
			ClaimStatus: "approved",
		},
	}
}

func TestCallAndWriteReturnsProviderResponse(t *testing.T) {
	v := &mockVoice{
		createResp: &models.CallResponse{CallID: "CA100", Status: models.CallStatusQueued, Provider: models.ProviderTwilio, CreatedAt: time.Now().UTC()},
		statuses:   []models.CallStatus{models.CallStatusEnded},
		provider:   models.ProviderTwilio,
	}
	ai := &mockAI{analysis: defaultAnalysis()}
	f := newMockFactory()
	s := newTestService(v, ai, &mockCRM{}, f, CallServiceConfig{})

	resp, err := s.CallAndWriteResultsToCRM(context.Background(), models.CallRequest{PhoneNumber: "+15551234567", JobID: "J-1"}, "u-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if resp.CallID != "CA100" || resp.Status != models.CallStatusQueued {
		t.Fatalf("response does not match provider: %+v", resp)
	}

	s.wg.Wait()

	f.store.mu.Lock()
	rec := f.store.records["CA100"]
	f.store.mu.Unlock()
	if rec == nil {
		t.Fatal("call record was not persisted")
	}
}

func TestProviderErrorPassesThroughUnchanged(t *testing.T) {
	sentinel := errors.New("twilio: number unreachable")
	v := &mockVoice{createErr: sentinel}
	f := newMockFactory()
	s := newTestService(v, &mockAI{}, &mockCRM{}, f, CallServiceConfig{})

	_, err := s.CallAndWriteResultsToCRM(context.Background(), models.CallRequest{PhoneNumber: "+15551234567"}, "u-1")
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected the provider error unchanged, got %v", err)
	}

	s.wg.Wait()
	if f.sessions != 0 {
		t.Fatalf("no persistence session should be opened on provider error, got %d", f.sessions)
	}
	if len(f.store.records) != 0 {
		t.Fatal("no record should be persisted on provider error")
	}
}

func TestPersistFailureDoesNotFailCaller(t *testing.T) {
	v := &mockVoice{
		createResp: &models.CallResponse{CallID: "CA101", Status: models.CallStatusQueued, Provider: models.ProviderRetell, CreatedAt: time.Now().UTC()},
		statuses:   []models.CallStatus{models.CallStatusEnded},
		provider:   models.ProviderRetell,
	}
	f := newMockFactory()
	f.store.createErr = errors.New("db down")
	s := newTestService(v, &mockAI{}, &mockCRM{}, f, CallServiceConfig{})

	resp, err := s.CallAndWriteResultsToCRM(context.Background(), models.CallRequest{PhoneNumber: "+15551234567"}, "u-1")
	if err != nil {
		t.Fatalf("persistence failure must not surface: %v", err)
	}
	if resp.CallID != "CA101" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	s.wg.Wait()
}

func TestNoPollAfterTerminalStatus(t *testing.T) {
	v := &mockVoice{
		statuses: []models.CallStatus{models.CallStatusQueued, models.CallStatusRinging, models.CallStatusEnded},
		provider: models.ProviderRetell, // keep the analysis path quiet
	}
	f := newMockFactory()
	f.store.records["CA102"] = &models.CallRecord{CallID: "CA102", Status: models.CallStatusQueued}
	s := newTestService(v, &mockAI{}, &mockCRM{}, f, CallServiceConfig{})

	s.monitorAndUpdateCRM(context.Background(), "CA102", models.CallRequest{}, "u-1")

	if got := v.calls(); got != 3 {
		t.Fatalf("expected exactly 3 status polls, got %d", got)
	}
}

func TestPollErrorStopsMonitoring(t *testing.T) {
	v := &mockVoice{statusErr: errors.New("provider 500")}
	f := newMockFactory()
	s := newTestService(v, &mockAI{}, &mockCRM{}, f, CallServiceConfig{})

	done := make(chan struct{})
	go func() {
		s.monitorAndUpdateCRM(context.Background(), "CA103", models.CallRequest{}, "u-1")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop after poll error")
	}
}

func TestCeilingAbandonsNeverTerminalCall(t *testing.T) {
	v := &mockVoice{
		statuses: []models.CallStatus{models.CallStatusInProgress},
		provider: models.ProviderTwilio,
	}
	f := newMockFactory()
	f.store.records["CA104"] = &models.CallRecord{CallID: "CA104", Status: models.CallStatusQueued}
	crmMock := &mockCRM{}
	s := newTestService(v, &mockAI{}, crmMock, f, CallServiceConfig{
		EnableCRMWrite:     true,
		PollInterval:       3 * time.Second,
		MaxPollingDuration: 30 * time.Second, // fake clock: ~10 polls
	})

	done := make(chan struct{})
	go func() {
		s.monitorAndUpdateCRM(context.Background(), "CA104", models.CallRequest{JobID: "J-1"}, "u-1")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not honor the polling ceiling")
	}

	if crmMock.count() != 0 {
		t.Fatal("abandoned monitor must not write a crm note")
	}
	f.store.mu.Lock()
	ended := f.store.records["CA104"].EndedAt
	f.store.mu.Unlock()
	if ended != nil {
		t.Fatal("abandoned monitor must not finalize the record")
	}
}

func TestCancellationSwallowedAtOutermostScope(t *testing.T) {
	v := &mockVoice{
		statuses: []models.CallStatus{models.CallStatusInProgress},
		provider: models.ProviderTwilio,
	}
	f := newMockFactory()
	f.store.records["CA105"] = &models.CallRecord{CallID: "CA105", Status: models.CallStatusQueued}
	s := NewCallService(v, &mockAI{}, &mockCRM{}, nil, f, CallServiceConfig{
		PollInterval:       time.Millisecond,
		MaxPollingDuration: time.Hour,
	}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.monitorAndUpdateCRM(ctx, "CA105", models.CallRequest{}, "u-1")
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled monitor did not unwind")
	}
}

func TestAnalysisCleanupRunsOnGenerationFailure(t *testing.T) {
	v := &mockVoice{
		statuses:     []models.CallStatus{models.CallStatusEnded},
		provider:     models.ProviderTwilio,
		downloadBody: []byte("audio-bytes"),
	}
	ai := &mockAI{generateErr: errors.New("model overloaded"), deleteErr: errors.New("delete also fails")}
	f := newMockFactory()
	url := "https://api.twilio.com/rec/CA106"
	f.store.records["CA106"] = &models.CallRecord{CallID: "CA106", Status: models.CallStatusQueued, RecordingURL: &url}
	crmMock := &mockCRM{}
	s := newTestService(v, ai, crmMock, f, CallServiceConfig{EnableCRMWrite: true})

	before := tempRecordingCount(t)
	s.monitorAndUpdateCRM(context.Background(), "CA106", models.CallRequest{JobID: "J-1"}, "u-1")

	if ai.uploadCalls != 1 {
		t.Fatalf("expected 1 upload, got %d", ai.uploadCalls)
	}
	if ai.deleteCalls != 1 {
		t.Fatalf("remote file must be deleted even when generation fails, got %d deletes", ai.deleteCalls)
	}
	if got := tempRecordingCount(t); got != before {
		t.Fatalf("temp recording file leaked: %d -> %d", before, got)
	}

	// no analysis -> no note, but the record is still finalized
	if crmMock.count() != 0 {
		t.Fatal("crm note must not be written without analysis")
	}
	f.store.mu.Lock()
	rec := f.store.records["CA106"]
	f.store.mu.Unlock()
	if rec.Status != models.CallStatusEnded || rec.EndedAt == nil {
		t.Fatalf("terminal state must persist despite analysis failure: %+v", rec)
	}
}

func tempRecordingCount(t *testing.T) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "call-recording-*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return len(matches)
}

func TestAnalysisIsNoOpForNonTwilioProviders(t *testing.T) {
	v := &mockVoice{
		statuses: []models.CallStatus{models.CallStatusEnded},
		provider: models.ProviderRetell,
	}
	ai := &mockAI{}
	f := newMockFactory()
	f.store.records["CA107"] = &models.CallRecord{CallID: "CA107", Status: models.CallStatusQueued}
	s := newTestService(v, ai, &mockCRM{}, f, CallServiceConfig{})

	s.monitorAndUpdateCRM(context.Background(), "CA107", models.CallRequest{}, "u-1")

	if v.downloadCalls != 0 {
		t.Fatalf("non-twilio call must not download recordings, got %d", v.downloadCalls)
	}
	if ai.uploadCalls != 0 {
		t.Fatalf("non-twilio call must not upload files, got %d", ai.uploadCalls)
	}
}

func TestRecordingURLTimeoutSkipsAnalysis(t *testing.T) {
	v := &mockVoice{
		statuses: []models.CallStatus{models.CallStatusEnded},
		provider: models.ProviderTwilio,
	}
	ai := &mockAI{}
	f := newMockFactory()
	f.store.records["CA108"] = &models.CallRecord{CallID: "CA108", Status: models.CallStatusQueued}
	s := newTestService(v, ai, &mockCRM{}, f, CallServiceConfig{RecordingPollAttempts: 4})

	s.monitorAndUpdateCRM(context.Background(), "CA108", models.CallRequest{}, "u-1")

	if v.downloadCalls != 0 || ai.uploadCalls != 0 {
		t.Fatal("missing recording url must abandon analysis, not attempt it")
	}
	if f.store.expireCalls != 4 {
		t.Fatalf("cache must be invalidated before each recording poll, got %d", f.store.expireCalls)
	}
}

func TestCRMWriteGuards(t *testing.T) {
	cases := []struct {
		name string
		resp *models.CallResponse
		req  models.CallRequest
	}{
		{
			name: "analysis absent",
			resp: &models.CallResponse{CallID: "CA1"},
			req:  models.CallRequest{JobID: "J-1"},
		},
		{
			name: "structured data absent",
			resp: &models.CallResponse{CallID: "CA1", Analysis: &models.AnalysisData{Summary: "nothing extracted"}},
			req:  models.CallRequest{JobID: "J-1"},
		},
		{
			name: "job id absent",
			resp: &models.CallResponse{CallID: "CA1", Analysis: defaultAnalysis()},
			req:  models.CallRequest{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			crmMock := &mockCRM{}
			s := newTestService(&mockVoice{}, &mockAI{}, crmMock, newMockFactory(), CallServiceConfig{EnableCRMWrite: true})
			s.updateCRMWithCallResults(context.Background(), tc.resp.CallID, tc.resp, tc.req)
			if crmMock.count() != 0 {
				t.Fatalf("add_note must not be called when %s", tc.name)
			}
		})
	}
}

func TestCRMWriteErrorIsNonFatal(t *testing.T) {
	crmMock := &mockCRM{err: errors.New("crm 503")}
	s := newTestService(&mockVoice{}, &mockAI{}, crmMock, newMockFactory(), CallServiceConfig{EnableCRMWrite: true})

	resp := &models.CallResponse{CallID: "CA1", Analysis: defaultAnalysis()}
	s.updateCRMWithCallResults(context.Background(), "CA1", resp, models.CallRequest{JobID: "J-1"})

	if crmMock.count() != 1 {
		t.Fatalf("add_note should have been attempted once, got %d", crmMock.count())
	}
}

func TestEndToEndTwilioCallWithAnalysisAndNote(t *testing.T) {
	v := &mockVoice{
		createResp: &models.CallResponse{CallID: "CA200", Status: models.CallStatusQueued, Provider: models.ProviderTwilio, CreatedAt: time.Now().UTC()},
		statuses: []models.CallStatus{
			models.CallStatusQueued,
			models.CallStatusRinging,
			models.CallStatusEnded,
		},
		provider:     models.ProviderTwilio,
		downloadBody: []byte("fake-mp3"),
		downloadType: "audio/mpeg",
	}
	ai := &mockAI{analysis: defaultAnalysis()}
	crmMock := &mockCRM{}
	f := newMockFactory()
	f.store.recordingURL = "https://api.twilio.com/rec/CA200"
	f.store.recordingAfterReads = 2
	s := newTestService(v, ai, crmMock, f, CallServiceConfig{EnableCRMWrite: true})

	resp, err := s.CallAndWriteResultsToCRM(context.Background(), models.CallRequest{JobID: "J-1", PhoneNumber: "+15551234567"}, "u-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if resp.CallID != "CA200" {
		t.Fatalf("unexpected call id %q", resp.CallID)
	}

	s.wg.Wait()

	f.store.mu.Lock()
	rec := f.store.records["CA200"]
	f.store.mu.Unlock()
	if rec.Status != models.CallStatusEnded {
		t.Fatalf("final status = %s, want ended", rec.Status)
	}
	if len(rec.AnalysisData) == 0 {
		t.Fatal("analysis_data was not persisted")
	}
	var persisted models.AnalysisData
	if err := json.Unmarshal(rec.AnalysisData, &persisted); err != nil {
		t.Fatalf("persisted analysis is not valid json: %v", err)
	}
	if persisted.StructuredData == nil || persisted.StructuredData.ClaimStatus != "approved" {
		t.Fatalf("unexpected persisted analysis: %+v", persisted)
	}

	if crmMock.count() != 1 {
		t.Fatalf("add_note must be called exactly once, got %d", crmMock.count())
	}
	note := crmMock.notes[0]
	if note.entityID != "J-1" || note.entityType != "job" || !note.pinToTop {
		t.Fatalf("unexpected note call: %+v", note)
	}
	if !strings.Contains(note.text, "Call Outcome: Success") {
		t.Fatalf("note missing outcome line:\n%s", note.text)
	}
	if !strings.Contains(note.text, "Claim Status: approved") {
		t.Fatalf("note missing claim status line:\n%s", note.text)
	}

	if ai.deleteCalls != 1 {
		t.Fatalf("uploaded recording must be cleaned up, got %d deletes", ai.deleteCalls)
	}
}

func TestCRMWriteDisabledSkipsNote(t *testing.T) {
	v := &mockVoice{
		statuses:     []models.CallStatus{models.CallStatusEnded},
		provider:     models.ProviderTwilio,
		downloadBody: []byte("fake-mp3"),
	}
	ai := &mockAI{analysis: defaultAnalysis()}
	crmMock := &mockCRM{}
	f := newMockFactory()
	url := "https://api.twilio.com/rec/CA201"
	f.store.records["CA201"] = &models.CallRecord{CallID: "CA201", Status: models.CallStatusQueued, RecordingURL: &url}
	s := newTestService(v, ai, crmMock, f, CallServiceConfig{EnableCRMWrite: false})

	s.monitorAndUpdateCRM(context.Background(), "CA201", models.CallRequest{JobID: "J-1"}, "u-1")

	if crmMock.count() != 0 {
		t.Fatal("disabled crm write must skip the note")
	}
	f.store.mu.Lock()
	rec := f.store.records["CA201"]
	f.store.mu.Unlock()
	if len(rec.AnalysisData) == 0 {
		t.Fatal("analysis should still be persisted when crm write is disabled")
	}
}

