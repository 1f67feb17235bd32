package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/sparkpost-monitor/internal/domain"
	"github.com/ignite/sparkpost-monitor/internal/queue"
	svccampaign "github.com/ignite/sparkpost-monitor/internal/service/campaign"
	svcsuppression "github.com/ignite/sparkpost-monitor/internal/service/suppression"
)

// fakeCampaigns is an in-memory CampaignService for exercising the admin
// handlers without a database.
type fakeCampaigns struct {
	campaigns map[string]*domain.Campaign
	sendErr   error
	sent      []string
}

func newFakeCampaigns() *fakeCampaigns {
	return &fakeCampaigns{campaigns: map[string]*domain.Campaign{}}
}

func (f *fakeCampaigns) Get(_ context.Context, id string) (*domain.Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, svccampaign.ErrNotFound
	}
	return c, nil
}

func (f *fakeCampaigns) List(_ context.Context, _ svccampaign.ListFilter) ([]domain.Campaign, int, error) {
	out := make([]domain.Campaign, 0, len(f.campaigns))
	for _, c := range f.campaigns {
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (f *fakeCampaigns) Create(_ context.Context, input svccampaign.CreateInput) (*domain.Campaign, error) {
	c := &domain.Campaign{ID: "new-id", Name: input.Name, Subject: input.Subject, Status: domain.CampaignDraft}
	f.campaigns[c.ID] = c
	return c, nil
}

func (f *fakeCampaigns) Update(_ context.Context, id string, _ svccampaign.UpdateFields) error {
	if _, ok := f.campaigns[id]; !ok {
		return svccampaign.ErrNotFound
	}
	return nil
}

func (f *fakeCampaigns) Delete(_ context.Context, id string) error {
	if _, ok := f.campaigns[id]; !ok {
		return svccampaign.ErrNotFound
	}
	delete(f.campaigns, id)
	return nil
}

func (f *fakeCampaigns) Send(_ context.Context, id string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, id)
	return nil
}

type fakeSuppression struct {
	entries map[string]*domain.Suppression
}

func newFakeSuppression() *fakeSuppression {
	return &fakeSuppression{entries: map[string]*domain.Suppression{}}
}

func (f *fakeSuppression) Suppress(_ context.Context, email string, reason domain.SuppressionReason, source domain.SuppressionSource, _, _, _ string) error {
	f.entries[email] = &domain.Suppression{Email: email, Reason: reason, Source: source}
	return nil
}

func (f *fakeSuppression) Remove(_ context.Context, email string) error {
	delete(f.entries, email)
	return nil
}

func (f *fakeSuppression) Get(_ context.Context, email string) (*domain.Suppression, error) {
	return f.entries[email], nil
}

func (f *fakeSuppression) List(_ context.Context, _ svcsuppression.ListFilter) ([]domain.Suppression, int, error) {
	out := make([]domain.Suppression, 0, len(f.entries))
	for _, s := range f.entries {
		out = append(out, *s)
	}
	return out, len(out), nil
}

func (f *fakeSuppression) GetStats(_ context.Context) (*svcsuppression.Stats, error) {
	return &svcsuppression.Stats{Total: len(f.entries)}, nil
}

type fakeRecipients struct {
	count int
	err   error
}

func (f *fakeRecipients) Count(_ context.Context, _ string) (int, error) {
	return f.count, f.err
}

type fakeQueue struct {
	counts  queue.Counts
	err     error
	paused  bool
	cleaned bool
}

func (f *fakeQueue) Inspect(_ context.Context) (queue.Counts, error) { return f.counts, f.err }
func (f *fakeQueue) Pause(_ context.Context) error                  { f.paused = true; return nil }
func (f *fakeQueue) Resume(_ context.Context) error                 { f.paused = false; return nil }
func (f *fakeQueue) Clean(_ context.Context) error                  { f.cleaned = true; return nil }

type fakeRecords struct{}

func (fakeRecords) GetCampaignStats(_ context.Context, _ string) (domain.CampaignStats, error) {
	return domain.CampaignStats{Sent: 10, Delivered: 9}, nil
}

type fakeEvents struct{}

func (fakeEvents) UniqueCount(_ context.Context, _ string, _ domain.EventType) (int, error) {
	return 1, nil
}

type fakeChecker struct{ done bool }

func (f fakeChecker) Check(_ context.Context, _ string) (bool, error) { return f.done, nil }

type fakeInFlight struct{ ids []string }

func (f fakeInFlight) ListSending(_ context.Context) ([]string, error) { return f.ids, nil }

func setupTestHandlers(t *testing.T) (*Handlers, *fakeCampaigns, *fakeSuppression, *fakeRecipients, *fakeQueue) {
	t.Helper()
	campaigns := newFakeCampaigns()
	suppression := newFakeSuppression()
	recipients := &fakeRecipients{count: 100}
	q := &fakeQueue{counts: queue.Counts{Waiting: 5}}

	h := NewHandlers(campaigns, suppression, recipients, q, fakeRecords{}, fakeEvents{}, fakeChecker{done: true}, fakeInFlight{}, 10)
	return h, campaigns, suppression, recipients, q
}

func TestHandleCreateAndGetCampaign(t *testing.T) {
	h, _, _, _, _ := setupTestHandlers(t)
	router := SetupRoutes(h, NewHealthChecker(nil, nil, nil, nil))

	body := bytes.NewBufferString(`{"name":"Spring Sale","subject":"Save big"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/campaigns/", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)

	var created domain.Campaign
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "new-id", created.ID)

	req = httptest.NewRequest(http.MethodGet, "/api/campaigns/new-id", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleGetCampaign_NotFound(t *testing.T) {
	h, _, _, _, _ := setupTestHandlers(t)
	router := SetupRoutes(h, NewHealthChecker(nil, nil, nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/campaigns/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSendCampaign(t *testing.T) {
	h, campaigns, _, _, _ := setupTestHandlers(t)
	listID := "list1"
	campaigns.campaigns["c1"] = &domain.Campaign{ID: "c1", ListID: &listID, Status: domain.CampaignDraft}

	router := SetupRoutes(h, NewHealthChecker(nil, nil, nil, nil))

	req := httptest.NewRequest(http.MethodPost, "/api/campaigns/c1/send", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sending", resp["status"])
	assert.Equal(t, float64(100), resp["totalRecipients"])
	assert.Contains(t, campaigns.sent, "c1")
}

func TestHandleSendCampaign_AlreadySending(t *testing.T) {
	h, campaigns, _, _, _ := setupTestHandlers(t)
	listID := "list1"
	campaigns.campaigns["c1"] = &domain.Campaign{ID: "c1", ListID: &listID, Status: domain.CampaignSending}

	router := SetupRoutes(h, NewHealthChecker(nil, nil, nil, nil))

	req := httptest.NewRequest(http.MethodPost, "/api/campaigns/c1/send", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSendCampaign_EmptyList(t *testing.T) {
	h, campaigns, _, recipients, _ := setupTestHandlers(t)
	listID := "list1"
	campaigns.campaigns["c1"] = &domain.Campaign{ID: "c1", ListID: &listID, Status: domain.CampaignDraft}
	recipients.count = 0

	router := SetupRoutes(h, NewHealthChecker(nil, nil, nil, nil))

	req := httptest.NewRequest(http.MethodPost, "/api/campaigns/c1/send", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCampaignStats(t *testing.T) {
	h, campaigns, _, _, _ := setupTestHandlers(t)
	campaigns.campaigns["c1"] = &domain.Campaign{ID: "c1", Status: domain.CampaignSent}

	router := SetupRoutes(h, NewHealthChecker(nil, nil, nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/campaigns/c1/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp, "uniqueEngagement")
	assert.Contains(t, resp, "workRecordStats")
}

func TestHandleCheckCampaigns(t *testing.T) {
	h, _, _, _, _ := setupTestHandlers(t)
	router := SetupRoutes(h, NewHealthChecker(nil, nil, nil, nil))

	body := bytes.NewBufferString(`{"campaignId":"c1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/campaigns/check", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	finalized, ok := resp["finalized"].([]interface{})
	require.True(t, ok)
	assert.Contains(t, finalized, "c1")
}

func TestHandleQueueInspectAndControl(t *testing.T) {
	h, _, _, _, q := setupTestHandlers(t)
	router := SetupRoutes(h, NewHealthChecker(nil, nil, nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/queue/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/queue/pause", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, q.paused)

	req = httptest.NewRequest(http.MethodPost, "/api/queue/clean", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, q.cleaned)
}

func TestHandleSuppressionLifecycle(t *testing.T) {
	h, _, suppression, _, _ := setupTestHandlers(t)
	router := SetupRoutes(h, NewHealthChecker(nil, nil, nil, nil))

	body := bytes.NewBufferString(`{"email":"bad@example.com","reason":"hard_bounce"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/suppressions/", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, suppression.entries, "bad@example.com")

	req = httptest.NewRequest(http.MethodGet, "/api/suppressions/bad@example.com", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/suppressions/bad@example.com", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, suppression.entries, "bad@example.com")
}

func TestHandleCreateSuppression_MissingEmail(t *testing.T) {
	h, _, _, _, _ := setupTestHandlers(t)
	router := SetupRoutes(h, NewHealthChecker(nil, nil, nil, nil))

	body := bytes.NewBufferString(`{"reason":"hard_bounce"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/suppressions/", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
