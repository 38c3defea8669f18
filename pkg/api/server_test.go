package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	config "drapo/configs"
	"drapo/pkg/api"
	"drapo/pkg/api/middleware"
	"drapo/pkg/auth"
	"drapo/pkg/coordination"
	"drapo/pkg/models"
	"drapo/pkg/scheduler"
)

type fakeScheduler struct {
	triggered []string
	next      map[string]time.Time
	pushErr   error
}

func (f *fakeScheduler) Enqueue(_ context.Context, name string, source models.TriggerSource) (*models.Trigger, error) {
	if name != "nightly" && name != "adhoc" {
		return nil, fmt.Errorf("%w: %s", scheduler.ErrUnknownFlow, name)
	}
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	f.triggered = append(f.triggered, name)
	return models.NewTrigger(name, source), nil
}

func (f *fakeScheduler) Next(name string) (time.Time, bool) {
	t, ok := f.next[name]
	return t, ok
}

const (
	operatorKey = "op-key"
	secret      = "jwt-secret"
)

func newServer(t *testing.T, sched *fakeScheduler, election coordination.Election) (*api.Server, *auth.JWTService) {
	t.Helper()
	jwtSvc, err := auth.NewJWTService(auth.JWTConfig{SecretKey: secret, Issuer: "drapo"})
	require.NoError(t, err)

	set := &config.FlowSet{
		Jobs: models.JobTable{
			"gate":    {Name: "gate", Type: models.JobTypeConnection, Host: "db", Port: 5432},
			"extract": {Name: "extract", Type: models.JobTypeScript, ScriptPath: "/srv/extract.py"},
		},
		Flows: []models.Flow{
			{Name: "nightly", Steps: []string{"gate", "extract"}, Schedule: models.Schedule{Cadence: models.CadenceDaily, At: "02:00"}},
			{Name: "adhoc", Steps: []string{"gate"}},
		},
	}
	srv := api.NewServer(api.Config{
		Flows:     set,
		Scheduler: sched,
		Election:  election,
		Auth: middleware.AuthConfig{
			JWTService:  jwtSvc,
			APIKeyStore: auth.NewStaticKeyStore(operatorKey, auth.RoleOperator),
		},
		Log: zap.NewNop(),
	})
	return srv, jwtSvc
}

func do(srv *api.Server, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth_NoAuth(t *testing.T) {
	election := coordination.NewLocal().NewElection("scheduler")
	require.NoError(t, election.Campaign(context.Background(), "host-a"))
	srv, _ := newServer(t, &fakeScheduler{}, election)

	rec := do(srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(2), body["flows"])
	assert.Equal(t, "host-a", body["leader"])
}

func TestAPI_RequiresAuth(t *testing.T) {
	srv, _ := newServer(t, &fakeScheduler{}, nil)

	assert.Equal(t, http.StatusUnauthorized, do(srv, http.MethodGet, "/api/v1/flows", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(srv, http.MethodGet, "/api/v1/flows", map[string]string{"X-API-Key": "nope"}).Code)
	assert.Equal(t, http.StatusUnauthorized, do(srv, http.MethodGet, "/api/v1/flows", map[string]string{"Authorization": "Bearer garbage"}).Code)
}

func TestListFlows(t *testing.T) {
	next := time.Date(2026, 1, 2, 2, 0, 0, 0, time.UTC)
	srv, _ := newServer(t, &fakeScheduler{next: map[string]time.Time{"nightly": next}}, nil)

	rec := do(srv, http.MethodGet, "/api/v1/flows", map[string]string{"X-API-Key": operatorKey})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Flows []api.FlowResponse `json:"flows"`
		Count int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "nightly", body.Flows[0].Name)
	assert.Equal(t, "gate", body.Flows[0].Gate)
	require.NotNil(t, body.Flows[0].NextRunAt)
	assert.True(t, next.Equal(*body.Flows[0].NextRunAt))
	assert.Equal(t, "manual", body.Flows[1].Schedule)
	assert.Nil(t, body.Flows[1].NextRunAt)

	assert.Equal(t, http.StatusNotFound, do(srv, http.MethodGet, "/api/v1/flows/missing", map[string]string{"X-API-Key": operatorKey}).Code)
}

func TestListJobs(t *testing.T) {
	srv, _ := newServer(t, &fakeScheduler{}, nil)

	rec := do(srv, http.MethodGet, "/api/v1/jobs", map[string]string{"X-API-Key": operatorKey})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Jobs []models.Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Jobs, 2)
	assert.Equal(t, "extract", body.Jobs[0].Name)

	rec = do(srv, http.MethodGet, "/api/v1/jobs/gate", map[string]string{"X-API-Key": operatorKey})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"port":5432`)
}

func TestTriggerFlow(t *testing.T) {
	sched := &fakeScheduler{}
	srv, _ := newServer(t, sched, nil)

	rec := do(srv, http.MethodPost, "/api/v1/flows/adhoc/trigger", map[string]string{"X-API-Key": operatorKey})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "trigger_id")
	assert.Equal(t, []string{"adhoc"}, sched.triggered)

	rec = do(srv, http.MethodPost, "/api/v1/flows/missing/trigger", map[string]string{"X-API-Key": operatorKey})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	sched.pushErr = errors.New("redis down")
	rec = do(srv, http.MethodPost, "/api/v1/flows/adhoc/trigger", map[string]string{"X-API-Key": operatorKey})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTriggerFlow_ViewerForbidden(t *testing.T) {
	sched := &fakeScheduler{}
	srv, jwtSvc := newServer(t, sched, nil)

	viewer, err := jwtSvc.GenerateToken("dashboard", auth.RoleViewer)
	require.NoError(t, err)
	headers := map[string]string{"Authorization": "Bearer " + viewer}

	assert.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/api/v1/flows", headers).Code)
	assert.Equal(t, http.StatusForbidden, do(srv, http.MethodPost, "/api/v1/flows/adhoc/trigger", headers).Code)
	assert.Empty(t, sched.triggered)

	operator, err := jwtSvc.GenerateToken("ci", auth.RoleOperator)
	require.NoError(t, err)
	rec := do(srv, http.MethodPost, "/api/v1/flows/nightly/trigger", map[string]string{"Authorization": "Bearer " + operator})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestGetLeader(t *testing.T) {
	election := coordination.NewLocal().NewElection("scheduler")
	srv, _ := newServer(t, &fakeScheduler{}, election)
	headers := map[string]string{"X-API-Key": operatorKey}

	rec := do(srv, http.MethodGet, "/api/v1/cluster/leader", headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"leader":null}`, rec.Body.String())

	require.NoError(t, election.Campaign(context.Background(), "host-a"))
	rec = do(srv, http.MethodGet, "/api/v1/cluster/leader", headers)
	assert.JSONEq(t, `{"leader":"host-a"}`, rec.Body.String())
}
