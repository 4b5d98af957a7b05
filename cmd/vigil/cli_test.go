package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/adapter/history"
	"vigil/internal/domain"
	"vigil/internal/infra/config"
	"vigil/internal/infra/logger"
	"vigil/internal/usecase/cronjob"
)

func TestVersion(t *testing.T) {
	stdout, _, err := executeCLI(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "vigil dev\n", stdout)
}

func TestChecklistParse(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfigFixture(t, dir)
	writeChecklist(t, dir, "# Daily\n- CRON[0 8 * * *]: Send morning briefing\nTRIGON[0 8 * * *]: brief\n")

	stdout, _, err := executeCLI(t, "", "--config", cfgPath, "checklist", "parse")
	require.NoError(t, err)
	assert.Contains(t, stdout, domain.JobID("Send morning briefing"))
	assert.Contains(t, stdout, "Send morning briefing")
	assert.NotContains(t, stdout, "brief\n", "misspelled keyword must not be extracted")
}

func TestChecklistParseInvalidTrigger(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfigFixture(t, dir)
	writeChecklist(t, dir, "CRON[99 * * * *]: broken\n")

	stdout, _, err := executeCLI(t, "", "--config", cfgPath, "checklist", "parse")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid trigger")
	assert.Contains(t, stdout, "no")
}

func TestChecklistParseMissing(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfigFixture(t, dir)

	stdout, _, err := executeCLI(t, "", "--config", cfgPath, "checklist", "parse")
	require.NoError(t, err)
	assert.Contains(t, stdout, "No directives")
}

func TestJobsList(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfigFixture(t, dir)

	stdout, _, err := executeCLI(t, "", "--config", cfgPath, "jobs", "list")
	require.NoError(t, err)
	assert.Equal(t, "No jobs.\n", stdout)

	store, err := cronjob.NewFileStore(filepath.Join(dir, "data"), logger.Discard())
	require.NoError(t, err)
	job := domain.CronJob{
		ID:             domain.JobID("check disks"),
		Name:           "check disks",
		Trigger:        "*/5 * * * *",
		Task:           "check disks",
		CreatedAt:      time.Now(),
		DisabledReason: domain.DisabledReasonOrphaned,
	}
	require.NoError(t, store.Save(context.Background(), job))

	stdout, _, err = executeCLI(t, "", "--config", cfgPath, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, job.ID)
	assert.Contains(t, stdout, "no (absent_from_checklist)")
	assert.Contains(t, stdout, "never")
}

func TestHistoryTail(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfigFixture(t, dir)

	h, err := history.NewFileStore(filepath.Join(dir, "data", "history.json"), 100, logger.Discard())
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, h.Append(ctx, domain.NewTurn(domain.RoleUser, fmt.Sprintf("msg-%d", i), "42", "")))
	}

	stdout, _, err := executeCLI(t, "", "--config", cfgPath, "history", "tail", "-n", "2")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "msg-2")
	assert.Contains(t, stdout, "msg-3")
	assert.Contains(t, stdout, "msg-4")
	assert.Contains(t, stdout, "conv=42")
}

func TestSecretEncrypt(t *testing.T) {
	t.Setenv("VIGIL_CONFIG_KEY", "passphrase")

	stdout, _, err := executeCLI(t, "123:bot-token\n", "secret", "encrypt")
	require.NoError(t, err)
	line := strings.TrimSpace(stdout)
	require.True(t, strings.HasPrefix(line, "enc:"), line)

	plain, err := config.DecryptValue(strings.TrimPrefix(line, "enc:"), "passphrase")
	require.NoError(t, err)
	assert.Equal(t, "123:bot-token", plain)
}

func TestSecretEncryptRequiresKey(t *testing.T) {
	t.Setenv("VIGIL_CONFIG_KEY", "")
	_, _, err := executeCLI(t, "x\n", "secret", "encrypt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VIGIL_CONFIG_KEY")
}

func TestRunRequiresRuntimeConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfigFixture(t, dir)
	t.Setenv("VIGIL_TELEGRAM_TOKEN", "")

	_, _, err := executeCLI(t, "", "--config", cfgPath, "run")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "telegram.token")
}

func executeCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeConfigFixture(t *testing.T, dir string) string {
	t.Helper()
	cfg := fmt.Sprintf(`data_dir: %s
agent:
  working_dir: %s
logger:
  level: error
`, filepath.Join(dir, "data"), dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func writeChecklist(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "HEARTBEAT.md"), []byte(content), 0o600))
}
