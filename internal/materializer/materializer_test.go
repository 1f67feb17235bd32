package materializer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/domain"
	"github.com/ignite/sparkpost-monitor/internal/queue"
	"github.com/ignite/sparkpost-monitor/internal/wrs"
)

func TestParamsForCount(t *testing.T) {
	cases := []struct {
		n    int
		want batchParams
	}{
		{100, batchParams{500, 1000, 5000}},
		{10000, batchParams{500, 500, 3000}},
		{100000, batchParams{300, 300, 2000}},
		{500000, batchParams{100, 100, 1000}},
	}
	for _, c := range cases {
		got := paramsForCount(c.n)
		if got != c.want {
			t.Errorf("paramsForCount(%d) = %+v, want %+v", c.n, got, c.want)
		}
	}
}

type fakeCampaignStore struct {
	c           *domain.Campaign
	totalSeeded int
	sendErr     string
}

func (f *fakeCampaignStore) Get(_ context.Context, id string) (*domain.Campaign, error) {
	return f.c, nil
}
func (f *fakeCampaignStore) SetTotalRecipients(_ context.Context, id string, total int) error {
	f.totalSeeded = total
	return nil
}
func (f *fakeCampaignStore) RecordSendError(_ context.Context, id, errMsg string) error {
	f.sendErr = errMsg
	return nil
}

type fakeRecipients struct {
	subs []domain.Subscriber
}

func (f *fakeRecipients) Count(_ context.Context, listID string) (int, error) {
	return len(f.subs), nil
}
func (f *fakeRecipients) Stream(_ context.Context, listID string, _ int, fn func(domain.Subscriber) error) error {
	for _, s := range f.subs {
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

type fakeSuppression struct {
	suppressed map[string]bool
}

func (f *fakeSuppression) LookupSuppression(email string) domain.EmailStatus {
	if f.suppressed[email] {
		return domain.EmailBounced
	}
	return domain.EmailActive
}

type fakeWRS struct {
	mu      sync.Mutex
	upserts []wrs.UpsertInput
}

func (f *fakeWRS) UpsertPending(_ context.Context, inputs []wrs.UpsertInput) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, inputs...)
	return len(inputs), nil
}
func (f *fakeWRS) ClaimForProcessing(context.Context, string, string, time.Duration) (*domain.WorkRecord, error) {
	return nil, nil
}
func (f *fakeWRS) MarkSent(context.Context, string, string, string) error    { return nil }
func (f *fakeWRS) MarkFailed(context.Context, string, string, string) error { return nil }
func (f *fakeWRS) MarkSkipped(context.Context, string, string) error        { return nil }
func (f *fakeWRS) Release(context.Context, string, string, string) error    { return nil }
func (f *fakeWRS) RecoverExpiredLocks(context.Context, time.Duration) (int, error) {
	return 0, nil
}
func (f *fakeWRS) GetCampaignStats(context.Context, string) (domain.CampaignStats, error) {
	return domain.CampaignStats{}, nil
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
}

func (f *fakeQueue) Enqueue(_ context.Context, job queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

func TestMaterialize_FiltersDuplicatesAndSuppressed(t *testing.T) {
	listID := "list-1"
	campaignStore := &fakeCampaignStore{c: &domain.Campaign{
		ID: "camp-1", ListID: &listID, HTMLContent: "<html><body>hi {{first_name}}</body></html>",
	}}
	recipients := &fakeRecipients{subs: []domain.Subscriber{
		{ID: "sub-1", Email: "a@example.com", FirstName: "A"},
		{ID: "sub-1", Email: "A@Example.com "}, // duplicate after normalization
		{ID: "sub-2", Email: "suppressed@example.com"},
		{ID: "sub-3", Email: "c@example.com", FirstName: "C"},
	}}
	suppression := &fakeSuppression{suppressed: map[string]bool{"suppressed@example.com": true}}
	records := &fakeWRS{}
	q := &fakeQueue{}

	m := &Materializer{
		campaigns:   campaignStore,
		recipients:  recipients,
		suppression: suppression,
		records:     records,
		queue:       q,
		tracker:     tracker{baseURL: "https://track.example.com", secret: "s3cr3t"},
	}

	if err := m.Materialize(context.Background(), "camp-1"); err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	if campaignStore.totalSeeded != 4 {
		t.Errorf("totalSeeded = %d, want 4", campaignStore.totalSeeded)
	}
	if len(records.upserts) != 2 {
		t.Fatalf("upserts = %d, want 2 (a@example.com, c@example.com)", len(records.upserts))
	}
	for _, u := range records.upserts {
		if u.Email == "suppressed@example.com" {
			t.Error("suppressed recipient should not have been upserted")
		}
	}

	var totalRecipients int
	for _, j := range q.jobs {
		totalRecipients += len(j.Recipients)
	}
	if totalRecipients != 2 {
		t.Errorf("enqueued recipients = %d, want 2", totalRecipients)
	}
}

func TestMaterialize_ZeroRecipientsFails(t *testing.T) {
	listID := "empty-list"
	campaignStore := &fakeCampaignStore{c: &domain.Campaign{ID: "camp-2", ListID: &listID}}
	m := &Materializer{
		campaigns:   campaignStore,
		recipients:  &fakeRecipients{},
		suppression: &fakeSuppression{},
		records:     &fakeWRS{},
		queue:       &fakeQueue{},
	}

	if err := m.Materialize(context.Background(), "camp-2"); err == nil {
		t.Error("expected error for a list with no recipients")
	}
}
