package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockplane/lockshift/database"
	"github.com/lockplane/lockshift/database/gatewaytest"
	"github.com/lockplane/lockshift/internal/config"
	"github.com/lockplane/lockshift/internal/logger"
	"github.com/lockplane/lockshift/internal/state"
)

const ordersDifferences = `{
  "differences": [
    {
      "object_type": "table",
      "schema": "public",
      "object_name": "orders",
      "change_kind": "Added",
      "target_definition": "CREATE TABLE public.orders (id bigint PRIMARY KEY);"
    }
  ]
}`

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// testApp wires every command to gw and keeps state in a temp directory.
func testApp(t *testing.T, gw database.Gateway) *app {
	t.Helper()
	a := newApp()
	a.cfg = config.Default()
	a.log = logger.Nop()
	a.registry = prometheus.NewRegistry()
	a.workDir = t.TempDir()
	a.connect = func(ctx context.Context, _ *app, envs ...string) (database.Gateway, func(), error) {
		return gw, func() {}, nil
	}
	return a
}

func run(a *app, args ...string) (string, error) {
	root := newRootCommand(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func buildPlanFile(t *testing.T) string {
	t.Helper()
	diffs := writeTemp(t, "diff.json", ordersDifferences)
	path := filepath.Join(t.TempDir(), "plan.json")

	if _, err := run(testApp(t, gatewaytest.New()), "plan", "-d", diffs, "--source", "live", "--target", "reference", "-o", path); err != nil {
		t.Fatalf("Failed to build plan: %v", err)
	}
	return path
}

func TestCommandsRegistered(t *testing.T) {
	root := newRootCommand(newApp())
	assert.Equal(t, "lockshift", root.Use)

	registered := map[string]bool{}
	for _, c := range root.Commands() {
		registered[c.Name()] = true
	}
	for _, name := range []string{"plan", "apply", "rollback", "impact", "validate", "version"} {
		assert.True(t, registered[name], "expected command %q to be registered", name)
	}
}

func TestPlanCommand(t *testing.T) {
	diffs := writeTemp(t, "diff.json", ordersDifferences)
	a := testApp(t, gatewaytest.New())

	out, err := run(a, "plan", "-d", diffs, "--source", "live", "--target", "reference", "--json")
	if err != nil {
		t.Fatalf("Failed to run plan: %v", err)
	}

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "live", doc["source_connection"])
	assert.Len(t, doc["steps"], 1)

	out, err = run(testApp(t, gatewaytest.New()), "plan", "-d", diffs, "--source", "live", "--target", "reference")
	require.NoError(t, err)
	assert.Contains(t, out, "Migration plan")
	assert.Contains(t, out, "Rollback: complete")
}

func TestPlanCommandRejectsSameEnvironment(t *testing.T) {
	diffs := writeTemp(t, "diff.json", ordersDifferences)
	_, err := run(testApp(t, gatewaytest.New()), "plan", "-d", diffs, "--source", "live", "--target", "live")
	assert.Error(t, err)
}

func TestApplyAndRollback(t *testing.T) {
	planPath := buildPlanFile(t)
	gw := gatewaytest.New().Scalar("", 0)
	a := testApp(t, gw)

	out, err := run(a, "apply", "-p", planPath)
	if err != nil {
		t.Fatalf("Failed to apply plan: %v\n%s", err, out)
	}
	assert.Contains(t, out, "completed")
	assert.Len(t, gw.Executed("CREATE TABLE public.orders"), 1)

	st, err := state.Load(a.workDir)
	require.NoError(t, err)
	require.NotNil(t, st.LastExecution)
	assert.Equal(t, "completed", st.LastExecution.Status)
	assert.Equal(t, "live", st.LastExecution.Connection)
	assert.Equal(t, planPath, st.LastExecution.PlanPath)

	out, err = run(a, "rollback")
	if err != nil {
		t.Fatalf("Failed to roll back: %v\n%s", err, out)
	}
	assert.Len(t, gw.Executed("DROP TABLE"), 1)

	st, err = state.Load(a.workDir)
	require.NoError(t, err)
	assert.True(t, st.LastExecution.Rollback)
	assert.Equal(t, "completed", st.LastExecution.Status)
}

func TestApplyFailureReturnsError(t *testing.T) {
	planPath := buildPlanFile(t)
	gw := gatewaytest.New().
		Fail("CREATE TABLE", errors.New("relation already exists")).
		Scalar("", 0)
	a := testApp(t, gw)

	out, err := run(a, "apply", "-p", planPath)
	require.Error(t, err)
	assert.Contains(t, out, "failed")

	st, err := state.Load(a.workDir)
	require.NoError(t, err)
	assert.Equal(t, "failed", st.LastExecution.Status)
	assert.Equal(t, 1, st.LastExecution.FailedSteps)
}

func TestApplyDryRunIsNotJournaled(t *testing.T) {
	planPath := buildPlanFile(t)
	gw := gatewaytest.New().Scalar("", 0)
	a := testApp(t, gw)

	out, err := run(a, "apply", "-p", planPath, "--dry-run", "--json")
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, true, result["dry_run"])
	assert.Empty(t, gw.Executed("CREATE TABLE"))

	_, statErr := os.Stat(filepath.Join(a.workDir, state.StateFile))
	assert.True(t, os.IsNotExist(statErr))
}

func TestApplyDefaultsFromConfig(t *testing.T) {
	planPath := buildPlanFile(t)
	gw := gatewaytest.New().Scalar("", 0)
	a := testApp(t, gw)
	a.cfg.Execution.DryRun = true

	_, err := run(a, "apply", "-p", planPath)
	require.NoError(t, err)
	assert.Empty(t, gw.Executed("CREATE TABLE"))

	_, err = run(a, "apply", "-p", planPath, "--dry-run=false")
	require.NoError(t, err)
	assert.Len(t, gw.Executed("CREATE TABLE"), 1)
}

func TestApplyRefusesWhileRunning(t *testing.T) {
	planPath := buildPlanFile(t)
	a := testApp(t, gatewaytest.New().Scalar("", 0))

	st, err := state.Load(a.workDir)
	require.NoError(t, err)
	require.NoError(t, st.Begin(state.Execution{ScriptID: "other", Connection: "live"}, false))

	_, err = run(a, "apply", "-p", planPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still marked running")

	_, err = run(a, "apply", "-p", planPath, "--force")
	assert.NoError(t, err)
}

func TestApplyValidateOnly(t *testing.T) {
	planPath := buildPlanFile(t)
	gw := gatewaytest.New().Scalar("", 1)

	out, err := run(testApp(t, gw), "apply", "-p", planPath, "--validate-only")
	if err != nil {
		t.Fatalf("Failed to validate plan: %v\n%s", err, out)
	}
	assert.Contains(t, out, "probes passed")
	assert.Contains(t, out, "Rules:")
	assert.Empty(t, gw.Executed("CREATE TABLE public.orders (id"))
}

func TestRollbackWithoutStateNeedsPlan(t *testing.T) {
	_, err := run(testApp(t, gatewaytest.New()), "rollback")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--plan is required")
}

func TestImpactCommand(t *testing.T) {
	diffs := writeTemp(t, "diff.json", ordersDifferences)

	out, err := run(testApp(t, nil), "impact", "-d", diffs, "--json")
	require.NoError(t, err)
	var basic map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &basic))
	assert.EqualValues(t, 1, basic["total_changes"])

	out, err = run(testApp(t, nil), "impact", "-d", diffs, "--advanced")
	require.NoError(t, err)
	assert.Contains(t, out, "Migration path:")
	assert.Contains(t, out, "Phase 1")
}

func TestImpactCommandProbesConnection(t *testing.T) {
	diffs := writeTemp(t, "diff.yaml", `differences:
  - object_type: column
    schema: public
    object_name: users.email
    change_kind: Removed
`)
	gw := gatewaytest.New().Respond("reltuples", []string{"estimate"}, []any{int64(5_000_000)})

	out, err := run(testApp(t, gw), "impact", "-d", diffs, "-c", "live")
	require.NoError(t, err)
	assert.Contains(t, out, "~5000000 rows")
	assert.Len(t, gw.Executed("reltuples"), 1)
}

func TestValidateCommands(t *testing.T) {
	diffs := writeTemp(t, "diff.json", ordersDifferences)
	out, err := run(testApp(t, nil), "validate", "differences", diffs)
	require.NoError(t, err)
	assert.Contains(t, out, "1 differences")

	bad := writeTemp(t, "bad.json", `{"differences": [{"object_type": "table"}]}`)
	_, err = run(testApp(t, nil), "validate", "differences", bad)
	assert.Error(t, err)

	planPath := buildPlanFile(t)
	out, err = run(testApp(t, nil), "validate", "plan", planPath)
	if err != nil {
		t.Fatalf("Failed to validate plan: %v\n%s", err, out)
	}
	assert.Contains(t, out, "is valid")

	broken := writeTemp(t, "plan.json", `{"id": "x"}`)
	out, err = run(testApp(t, nil), "validate", "plan", broken)
	require.Error(t, err)
	assert.True(t, strings.Contains(out, "source_connection"), out)
}

func TestFormatVersion(t *testing.T) {
	info := &debug.BuildInfo{
		Main: debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.modified", Value: "true"},
			{Key: "vcs.time", Value: "2026-03-01T12:00:00Z"},
		},
	}
	assert.Equal(t, "dev (0123456 modified) built 2026-03-01T12:00:00Z", formatVersion(info))

	out, err := run(testApp(t, nil), "version")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))
}
