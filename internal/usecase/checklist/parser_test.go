package checklist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleChecklist = `# Heartbeat checklist

- Check that the backup job finished overnight.
- If disk usage is above 90%, write an alert.

## Recurring
CRON[0 8 * * *]: Send morning briefing
- [ ] TRIGGER[*/30 9-17 * * 1-5]: Check the build dashboard
* [x] CRON[0 18 * * 5]:   Summarize the week
TRIGON[0 8 * * *]: brief
cron[0 8 * * *]: lowercase is not a directive
CRON[0 9 * * *]:
CRON 0 9 * * *: missing brackets
`

func TestParse(t *testing.T) {
	got := NewParser().Parse(sampleChecklist)

	require.Len(t, got, 3)
	assert.Equal(t, Directive{Trigger: "0 8 * * *", Task: "Send morning briefing", Line: 7}, got[0])
	assert.Equal(t, Directive{Trigger: "*/30 9-17 * * 1-5", Task: "Check the build dashboard", Line: 8}, got[1])
	assert.Equal(t, Directive{Trigger: "0 18 * * 5", Task: "Summarize the week", Line: 9}, got[2])
}

func TestParseIsIdempotent(t *testing.T) {
	p := NewParser()
	assert.Equal(t, p.Parse(sampleChecklist), p.Parse(sampleChecklist))
}

func TestParseCustomKeywords(t *testing.T) {
	p := NewParser("EVERY")
	got := p.Parse("EVERY[@daily]: rotate logs\nCRON[0 8 * * *]: ignored")
	require.Len(t, got, 1)
	assert.Equal(t, "@daily", got[0].Trigger)
	assert.Equal(t, "rotate logs", got[0].Task)
}

func TestParseCRLFAndWhitespaceInTrigger(t *testing.T) {
	got := NewParser().Parse("CRON[ 0  8 * * * ]: tidy\r\n")
	require.Len(t, got, 1)
	assert.Equal(t, "0 8 * * *", got[0].Trigger)
	assert.Equal(t, "tidy", got[0].Task)
}

func TestParseEmpty(t *testing.T) {
	assert.Empty(t, NewParser().Parse(""))
}

func TestRead(t *testing.T) {
	dir := t.TempDir()

	text, err := Read(filepath.Join(dir, "missing.md"))
	require.NoError(t, err)
	assert.Empty(t, text)

	path := filepath.Join(dir, "HEARTBEAT.md")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))
	text, err = Read(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	_, err = Read(dir)
	assert.Error(t, err, "reading a directory should fail")
}
