package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/medcare-hms/medcare/internal/shared"
	"github.com/medcare-hms/medcare/jobs"
)

type stubEnqueuer struct {
	tasks  []*asynq.Task
	closed bool
}

func (s *stubEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (s *stubEnqueuer) Close() error {
	s.closed = true
	return nil
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }
func (s stubInspector) Close() error                                  { return nil }

func TestTriggerKnownJobs(t *testing.T) {
	client := &stubEnqueuer{}
	c := &JobsCLI{client: client, now: func() time.Time { return time.Date(2026, 3, 15, 6, 0, 0, 0, time.UTC) }}

	for _, name := range []string{jobs.TaskBillingStatsWarmup, jobs.TaskLowStockScan, jobs.TaskIdempotencyCleanup} {
		info, err := c.Trigger(t.Context(), name)
		require.NoError(t, err, name)
		require.Equal(t, name, info.Type)
	}
	require.Len(t, client.tasks, 3)

	var payload jobs.ScheduledPayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &payload))
	require.Equal(t, 2026, payload.ScheduledFor.Year())
}

func TestTriggerRejectsUnknownJob(t *testing.T) {
	c := &JobsCLI{client: &stubEnqueuer{}, now: time.Now}

	_, err := c.Trigger(t.Context(), jobs.TaskStockChanged)
	require.Error(t, err)

	var empty *JobsCLI
	_, err = empty.Trigger(t.Context(), jobs.TaskLowStockScan)
	require.Error(t, err)
}

func TestInspectQueue(t *testing.T) {
	c := &JobsCLI{inspector: stubInspector{info: &asynq.QueueInfo{Pending: 2, Active: 1, Retry: 4}}}

	stats, err := c.InspectQueue()
	require.NoError(t, err)
	require.Equal(t, QueueStats{Queue: jobs.QueueDefault, Pending: 2, Active: 1, Retry: 4}, stats)

	c = &JobsCLI{inspector: stubInspector{err: errors.New("redis down")}}
	_, err = c.InspectQueue()
	require.Error(t, err)
}

func TestCloseReleasesClient(t *testing.T) {
	client := &stubEnqueuer{}
	c := &JobsCLI{client: client, inspector: stubInspector{}}
	require.NoError(t, c.Close())
	require.True(t, client.closed)
}

type stubIssuer struct {
	got shared.Actor
	ttl time.Duration
}

func (s *stubIssuer) Issue(actor shared.Actor, ttl time.Duration) (string, error) {
	s.got, s.ttl = actor, ttl
	if actor.ID <= 0 {
		return "", errors.New("actor id required")
	}
	return "signed.token.value", nil
}

func TestTokenCommandPlain(t *testing.T) {
	var out bytes.Buffer
	issuer := &stubIssuer{}

	code := TokenCommand(issuer, TokenOptions{ActorID: 7, Role: shared.RoleCashier, Out: &out})
	require.Zero(t, code)
	require.Equal(t, "signed.token.value\n", out.String())
	require.Equal(t, 8*time.Hour, issuer.ttl)
	require.Equal(t, shared.Actor{ID: 7, Role: shared.RoleCashier}, issuer.got)
}

func TestTokenCommandJSON(t *testing.T) {
	var out bytes.Buffer
	code := TokenCommand(&stubIssuer{}, TokenOptions{ActorID: 1, Role: shared.RoleAdmin, TTL: time.Hour, JSON: true, Out: &out})
	require.Zero(t, code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	require.Equal(t, "signed.token.value", body["token"])
	require.EqualValues(t, 3600, body["expires_in"])
}

func TestTokenCommandErrors(t *testing.T) {
	var out bytes.Buffer
	require.Equal(t, 2, TokenCommand(&stubIssuer{}, TokenOptions{ActorID: 1, Role: "nurse", Out: &out}))
	require.True(t, strings.Contains(out.String(), "unknown role"))

	out.Reset()
	require.Equal(t, 1, TokenCommand(&stubIssuer{}, TokenOptions{Role: shared.RoleAdmin, Out: &out}))
}
