//go:build integration

package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/raphaelgruber/resumerank/internal/models"
)

var testDB *Client
var testContainer testcontainers.Container

// TestMain starts one SurrealDB container for all tests in the package.
func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v2.3.7",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// testcontainers may report "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := testDB.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

func wipe(t *testing.T) {
	t.Helper()
	require.NoError(t, testDB.WipeData(context.Background()))
}

func TestInitSchemaIsIdempotent(t *testing.T) {
	require.NoError(t, testDB.InitSchema(context.Background()))
	require.NoError(t, testDB.Ping(context.Background()))
}

func TestRunLifecycle(t *testing.T) {
	wipe(t)
	ctx := context.Background()
	locator := "/data/resumes"

	require.NoError(t, testDB.CreateRun(ctx, "abc123", "Go engineer", &locator, 3))

	run, err := testDB.GetRun(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, string(models.RunStatusCreated), run.Status)
	assert.Equal(t, "Go engineer", run.Description)
	require.NotNil(t, run.Locator)
	assert.Equal(t, locator, *run.Locator)
	assert.Equal(t, 3, run.Total)
	assert.Nil(t, run.CompletedAt)
	assert.False(t, run.StartedAt.IsZero())

	require.NoError(t, testDB.UpdateRunProgress(ctx, "abc123", models.RunStatusRunning, 1))

	outcomes := []models.Outcome{
		{JobID: "j2", Name: "b.pdf", Index: 1, Success: true, Score: &models.ScoreResult{
			Subscores: map[string]float64{"skills": 90}, Strengths: []string{"Go"},
			Improvements: []string{}, TotalScore: 88, Narrative: "strong",
		}},
		{JobID: "j1", Name: "a.pdf", Index: 0, ErrorKind: models.ErrorKindMalformedResponse, Error: "bad json"},
		{JobID: "j3", Name: "c.pdf", Index: 2, ErrorKind: models.ErrorKindAborted, Error: "aborted"},
	}
	require.NoError(t, testDB.CompleteRun(ctx, "abc123", models.RunStatusAborted, outcomes, fmt.Errorf("daily quota exceeded")))

	run, err = testDB.GetRun(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, string(models.RunStatusAborted), run.Status)
	assert.Equal(t, 2, run.Completed)
	require.NotNil(t, run.CompletedAt)
	require.NotNil(t, run.Error)
	assert.Equal(t, "daily quota exceeded", *run.Error)
	require.Len(t, run.Outcomes, 3)
	assert.Equal(t, "j2", run.Outcomes[0].JobID)
	require.NotNil(t, run.Outcomes[0].Score)
	assert.Equal(t, 88.0, run.Outcomes[0].Score.TotalScore)
	assert.Equal(t, models.ErrorKindAborted, run.Outcomes[2].ErrorKind)
}

func TestCreateRunDuplicate(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	require.NoError(t, testDB.CreateRun(ctx, "dup", "x", nil, 1))
	err := testDB.CreateRun(ctx, "dup", "x", nil, 1)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestGetRunNotFound(t *testing.T) {
	_, err := testDB.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func recordID(t *testing.T, id surrealmodels.RecordID) string {
	t.Helper()
	s, err := models.RecordIDString(id)
	require.NoError(t, err)
	return s
}

func TestListRunsMostRecentFirst(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, testDB.CreateRun(ctx, id, "desc", nil, 1))
		time.Sleep(5 * time.Millisecond)
	}

	runs, err := testDB.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "third", recordID(t, runs[0].ID))
	assert.Equal(t, "second", recordID(t, runs[1].ID))
	assert.Empty(t, runs[0].Outcomes)
}

func TestFailInterruptedRuns(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	require.NoError(t, testDB.CreateRun(ctx, "stuck", "d", nil, 2))
	require.NoError(t, testDB.CreateRun(ctx, "done", "d", nil, 1))
	require.NoError(t, testDB.CompleteRun(ctx, "done", models.RunStatusCompleted, nil, nil))

	ids, err := testDB.FailInterruptedRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"stuck"}, ids)

	run, err := testDB.GetRun(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, string(models.RunStatusFailed), run.Status)
}
