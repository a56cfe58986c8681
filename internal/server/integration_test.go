//go:build integration && unix

package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"phobos.org.uk/xbridge/internal/adapter"
	"phobos.org.uk/xbridge/internal/client"
	"phobos.org.uk/xbridge/internal/config"
	"phobos.org.uk/xbridge/internal/history"
	"phobos.org.uk/xbridge/internal/kvstore"
	"phobos.org.uk/xbridge/internal/logging"
	"phobos.org.uk/xbridge/internal/metrics"
	"phobos.org.uk/xbridge/internal/testutil"
	"phobos.org.uk/xbridge/internal/xagent"
)

// startBridge wires the full stack around a fake XAgent checkout running script.
func startBridge(t *testing.T, script string) (string, *kvstore.Badger) {
	t.Helper()

	home := testutil.FakeXAgentHome(t, script)
	cfg := config.Default()
	cfg.Port = testutil.FreePort(t)
	cfg.XAgent.Home = home
	cfg.XAgent.ConfigFile = home + "/config/xagent_config.yaml"
	cfg.XAgent.Interpreter = "/bin/sh"
	cfg.XAgent.Timeout = 10 * time.Second
	cfg.XAgent.Defaults = xagent.Options{{Key: "model", Value: "gpt-4"}}
	cfg.HistoryDir = t.TempDir()

	log := logging.New(logging.Config{Output: io.Discard, Level: logging.LevelDebug, Component: "bridge"})
	hist, err := history.NewStore(cfg.HistoryDir)
	require.NoError(t, err)
	store, err := kvstore.NewBadger(kvstore.BadgerOptions{Dir: t.TempDir()})
	require.NoError(t, err)
	reg := prometheus.NewRegistry()

	x, err := xagent.New(cfg.XAgentSettings(), xagent.Deps{
		Logger:  log,
		History: hist,
		Metrics: metrics.New(reg),
		Status:  store,
	})
	require.NoError(t, err)

	s := New(cfg, "test-version", Deps{
		Agent:    adapter.New(x),
		History:  hist,
		Logger:   log,
		Status:   store,
		Gatherer: reg,
	})

	ln, err := net.Listen("tcp", cfg.Addr())
	require.NoError(t, err)
	go s.Serve(ln)

	url := fmt.Sprintf("http://%s", cfg.Addr())
	testutil.WaitForHealthy(t, url+"/status", 10*time.Second)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
		store.Close()
	})
	return url, store
}

func TestIntegrationRunFlow(t *testing.T) {
	url, store := startBridge(t, `
echo "task=$2" >&2
echo "XAgent booting"
echo "{\"answer\": \"Paris\", \"steps\": [\"search\", \"answer\"]}"
echo "shutting down"
`)
	e := httpexpect.Default(t, url)

	e.GET("/status").
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		HasValue("state", "idle").
		HasValue("version", "test-version").
		HasValue("type", "bridge").
		ContainsKey("uptime_seconds")

	e.POST("/run").
		WithJSON(map[string]any{"input": "capital of France", "options": map[string]any{"max_retry_times": 2}}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		HasValue("output", "Paris").
		HasValue("success", true).
		HasValue("intermediate_steps", []string{"search", "answer"})

	list := e.GET("/history").
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	list.HasValue("total", 1)
	entry := list.Value("entries").Array().Value(0).Object()
	entry.HasValue("state", "completed")
	taskID := entry.Value("task_id").String().Raw()

	e.GET("/history/" + taskID).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		HasValue("answer", "Paris").
		HasValue("structured", true)

	e.GET("/history/" + taskID + "/debug").
		Expect().
		Status(http.StatusOK).
		Body().Contains("shutting down")

	state, err := store.Get(context.Background(), xagent.StatusKey(taskID))
	require.NoError(t, err)
	require.Equal(t, "completed", string(state))

	e.GET("/metrics").
		Expect().
		Status(http.StatusOK).
		Body().Contains(`xbridge_executions_total{status="completed"} 1`)
}

func TestIntegrationAsyncWithClient(t *testing.T) {
	url, _ := startBridge(t, "sleep 0.3\n"+testutil.AnswerScript("done", "plan"))
	c := client.New(url, "")
	c.PollInterval = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id, err := c.Submit(ctx, "slow task", nil)
	require.NoError(t, err)

	_, err = c.Submit(ctx, "second task", nil)
	var statusErr *client.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.True(t, statusErr.Busy())

	status, err := c.Wait(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "completed", status.State)
	require.Equal(t, "done", status.Response.Output)
	require.Equal(t, []string{"plan"}, status.Response.IntermediateSteps)
}

func TestIntegrationFailureIsReported(t *testing.T) {
	url, _ := startBridge(t, testutil.FailScript("ModuleNotFoundError: No module named pinecone", 1))
	e := httpexpect.Default(t, url)

	obj := e.POST("/run").
		WithJSON(map[string]any{"input": "anything"}).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	obj.HasValue("success", false)
	obj.HasValue("error_message", "running xagent: ModuleNotFoundError: No module named pinecone")
	obj.HasValue("output", "Error: running xagent: ModuleNotFoundError: No module named pinecone")
}
