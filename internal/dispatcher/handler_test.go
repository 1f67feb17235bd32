package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/domain"
	"github.com/ignite/sparkpost-monitor/internal/fingerprint"
	"github.com/ignite/sparkpost-monitor/internal/queue"
	"github.com/ignite/sparkpost-monitor/internal/wrs"
)

type fakeCampaigns struct{ c *domain.Campaign }

func (f *fakeCampaigns) Get(context.Context, string) (*domain.Campaign, error) { return f.c, nil }

type fakeSuppression struct{ suppressed map[string]bool }

func (f *fakeSuppression) LookupSuppression(email string) domain.EmailStatus {
	if f.suppressed[email] {
		return domain.EmailBounced
	}
	return domain.EmailActive
}

type fakeEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (f *fakeEvents) Append(_ context.Context, e *domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *e)
	return nil
}

type fakeStats struct {
	mu     sync.Mutex
	deltas map[string]int
}

func (f *fakeStats) IncrementStat(_ context.Context, _ string, column string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deltas == nil {
		f.deltas = map[string]int{}
	}
	f.deltas[column] += delta
	return nil
}

// fakeRecords is a minimal in-memory wrs.Store keyed by fingerprint,
// letting each test seed records in whatever status it needs.
type fakeRecords struct {
	mu       sync.Mutex
	records  map[string]*domain.WorkRecord
	released []string
	skipped  []string
}

func newFakeRecords(records ...domain.WorkRecord) *fakeRecords {
	m := map[string]*domain.WorkRecord{}
	for i := range records {
		r := records[i]
		m[r.Fingerprint] = &r
	}
	return &fakeRecords{records: m}
}

func (f *fakeRecords) UpsertPending(context.Context, []wrs.UpsertInput) (int, error) { return 0, nil }

func (f *fakeRecords) ClaimForProcessing(_ context.Context, fp, workerID string, _ time.Duration) (*domain.WorkRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[fp]
	if !ok {
		return nil, wrs.ErrAlreadyClaimed
	}
	if r.IsTerminal() || r.Status == domain.WorkSending {
		return nil, wrs.ErrAlreadyClaimed
	}
	r.Status = domain.WorkSending
	r.LockedBy = workerID
	return r, nil
}

func (f *fakeRecords) MarkSent(_ context.Context, fp, _, providerMessageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[fp].Status = domain.WorkSent
	f.records[fp].ExternalMessageID = providerMessageID
	return nil
}

func (f *fakeRecords) MarkFailed(_ context.Context, fp, _, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[fp].Status = domain.WorkFailed
	f.records[fp].LastError = errMessage
	return nil
}

func (f *fakeRecords) MarkSkipped(_ context.Context, fp, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skipped = append(f.skipped, fp)
	if r, ok := f.records[fp]; ok {
		r.Status = domain.WorkSkipped
	}
	return nil
}

func (f *fakeRecords) Release(_ context.Context, fp, _, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, fp)
	if r, ok := f.records[fp]; ok {
		r.Status = domain.WorkPending
		r.LastError = errMessage
		r.Attempts++
	}
	return nil
}

func (f *fakeRecords) RecoverExpiredLocks(context.Context, time.Duration) (int, error) { return 0, nil }

func (f *fakeRecords) GetCampaignStats(context.Context, string) (domain.CampaignStats, error) {
	return domain.CampaignStats{}, nil
}

type fakeProvider struct {
	mu   sync.Mutex
	err  error
	sent []string
}

func (f *fakeProvider) Send(_ context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, msg.Email)
	return &domain.SendResult{Success: true, ProviderMessageID: "msg-" + msg.Email}, nil
}

func newTestCampaign() *domain.Campaign {
	return &domain.Campaign{ID: "camp-1", FromName: "Acme", FromEmail: "hello@acme.test", Subject: "Hi"}
}

func newTestJob(recipients ...string) queue.Job {
	return queue.Job{ID: "batch_camp-1_0", CampaignID: "camp-1", ChunkIndex: 0, Recipients: recipients}
}

func TestProcessJob_Success(t *testing.T) {
	fp := fingerprintFor(t, "camp-1", "a@example.com")
	records := newFakeRecords(domain.WorkRecord{Fingerprint: fp, CampaignID: "camp-1", Email: "a@example.com", Status: domain.WorkPending, Body: "<html>hi</html>"})
	events := &fakeEvents{}
	stats := &fakeStats{}
	provider := &fakeProvider{}
	h := NewHandler(&fakeCampaigns{c: newTestCampaign()}, &fakeSuppression{}, records, provider, events, stats, nil, 5*time.Minute)

	result := h.ProcessJob(context.Background(), "worker-1", newTestJob("a@example.com"))

	if result.sent != 1 || result.failed != 0 || result.skipped != 0 || result.retryErr != nil {
		t.Fatalf("unexpected result: %+v", result)
	}
	if records.records[fp].Status != domain.WorkSent {
		t.Errorf("record status = %s, want sent", records.records[fp].Status)
	}
	if stats.deltas["sent_count"] != 1 {
		t.Errorf("sent_count delta = %d, want 1", stats.deltas["sent_count"])
	}
	if len(events.events) != 1 || events.events[0].Type != domain.EventSent {
		t.Errorf("events = %+v, want one sent event", events.events)
	}
}

func TestProcessJob_SuppressedSkipsWithoutClaim(t *testing.T) {
	records := newFakeRecords()
	h := NewHandler(&fakeCampaigns{c: newTestCampaign()}, &fakeSuppression{suppressed: map[string]bool{"blocked@example.com": true}}, records, &fakeProvider{}, &fakeEvents{}, &fakeStats{}, nil, 5*time.Minute)

	result := h.ProcessJob(context.Background(), "worker-1", newTestJob("blocked@example.com"))

	if result.skipped != 1 || result.sent != 0 || result.failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(records.skipped) != 1 {
		t.Errorf("expected a MarkSkipped call, got %d", len(records.skipped))
	}
}

func TestProcessJob_FatalMarksFailed(t *testing.T) {
	fp := fingerprintFor(t, "camp-1", "bad@example.com")
	records := newFakeRecords(domain.WorkRecord{Fingerprint: fp, CampaignID: "camp-1", Email: "bad@example.com", Status: domain.WorkPending})
	stats := &fakeStats{}
	events := &fakeEvents{}
	provider := &fakeProvider{err: errors.New("invalid email address rejected")}
	h := NewHandler(&fakeCampaigns{c: newTestCampaign()}, &fakeSuppression{}, records, provider, events, stats, nil, 5*time.Minute)

	result := h.ProcessJob(context.Background(), "worker-1", newTestJob("bad@example.com"))

	if result.failed != 1 || result.retryErr != nil {
		t.Fatalf("unexpected result: %+v", result)
	}
	if records.records[fp].Status != domain.WorkFailed {
		t.Errorf("record status = %s, want failed", records.records[fp].Status)
	}
	if stats.deltas["failed_count"] != 1 {
		t.Errorf("failed_count delta = %d, want 1", stats.deltas["failed_count"])
	}
	if len(events.events) != 1 || events.events[0].Type != domain.EventBounced {
		t.Errorf("events = %+v, want one bounced event", events.events)
	}
}

func TestProcessJob_RetryableAbortsBatchWithoutFailing(t *testing.T) {
	fp1 := fingerprintFor(t, "camp-1", "first@example.com")
	fp2 := fingerprintFor(t, "camp-1", "second@example.com")
	records := newFakeRecords(
		domain.WorkRecord{Fingerprint: fp1, CampaignID: "camp-1", Email: "first@example.com", Status: domain.WorkPending},
		domain.WorkRecord{Fingerprint: fp2, CampaignID: "camp-1", Email: "second@example.com", Status: domain.WorkPending},
	)
	provider := &fakeProvider{err: errors.New("service timeout contacting provider")}
	h := NewHandler(&fakeCampaigns{c: newTestCampaign()}, &fakeSuppression{}, records, provider, &fakeEvents{}, &fakeStats{}, nil, 5*time.Minute)

	result := h.ProcessJob(context.Background(), "worker-1", newTestJob("first@example.com", "second@example.com"))

	if result.retryErr == nil {
		t.Fatal("expected a retry error to abort the batch")
	}
	if result.failed != 0 {
		t.Errorf("failed = %d, want 0 (retryable errors never mark failed)", result.failed)
	}
	if records.records[fp1].Status != domain.WorkPending {
		t.Errorf("first record status = %s, want pending (released)", records.records[fp1].Status)
	}
	if records.records[fp2].Status != domain.WorkPending {
		t.Errorf("second record should never have been claimed, status = %s", records.records[fp2].Status)
	}
}

func TestProcessJob_AlreadyClaimedIsNoOp(t *testing.T) {
	records := newFakeRecords()
	h := NewHandler(&fakeCampaigns{c: newTestCampaign()}, &fakeSuppression{}, records, &fakeProvider{}, &fakeEvents{}, &fakeStats{}, nil, 5*time.Minute)

	result := h.ProcessJob(context.Background(), "worker-1", newTestJob("missing@example.com"))

	if result.sent != 0 || result.failed != 0 || result.skipped != 0 || result.retryErr != nil {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func fingerprintFor(t *testing.T, campaignID, email string) string {
	t.Helper()
	return fingerprint.Recipient(campaignID, email)
}
