package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func testdata(name string) string {
	return filepath.Join("testdata", name)
}

func TestVerifyCommand(t *testing.T) {
	out, err := execute(t, "verify", testdata("verify.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "verify-kitchen (verify, run ")
	assert.Contains(t, out, "found flaws=0 plan=[stir(pot1) boil(pot1) pour(pot1)]")

	out, err = execute(t, "verify", "--tree", testdata("verify.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "prep(pot1) [prep-stir]")
}

func TestVerifyCommand_NotFound(t *testing.T) {
	out, err := execute(t, "verify", testdata("reject.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "reject-kitchen (verify, run ")
	assert.Contains(t, out, "not found")
}

func TestRecognizeCommand(t *testing.T) {
	out, err := execute(t, "recognize", testdata("recognize.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "plan=[stir(pot2) boil(pot2) pour(pot2)]")
}

func TestRepairCommand(t *testing.T) {
	out, err := execute(t, "repair", testdata("repair.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "found flaws=2 plan=[stir(pot1) boil(pot1) pour(pot1)]")
	assert.Contains(t, out, "inserted 1, deleted 1")

	// flags override the problem options
	out, err = execute(t, "repair", "--delete=false", testdata("repair.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "not found")

	_, err = execute(t, "repair", "--max-flaws", "1", testdata("repair.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search limit reached")
}

func TestPlanCommand(t *testing.T) {
	out, err := execute(t, "plan", "--metrics", testdata("plan.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "found flaws=2 plan=[boil(pot1) pour(pot1)]")
	assert.Contains(t, out, `htn_runs_total{mode="plan",outcome="found"} 1`)
	assert.Contains(t, out, `htn_engine_events_total{event="planner",mode="plan"} 1`)
}

func TestBatchCommand(t *testing.T) {
	out, err := execute(t, "batch", "-w", "2",
		testdata("verify.yaml"), testdata("reject.yaml"), testdata("plan.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "verify-kitchen\tverify\tfound flaws=0")
	assert.Contains(t, out, "reject-kitchen\tverify\tnot found")
	assert.Contains(t, out, "plan-kitchen\tplan\tfound flaws=2")

	out, err = execute(t, "batch", testdata("verify.yaml"), testdata("missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 problems failed")
	assert.Contains(t, out, "error\treading problem")
}

func TestRunCommand_BadFile(t *testing.T) {
	_, err := execute(t, "verify", testdata("missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading problem")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "htnground 0.3.0")
}
