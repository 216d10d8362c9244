package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/bugflow/internal/models"
)

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &UI{Out: out, ErrOut: errOut}, out, errOut
}

func TestInfo(t *testing.T) {
	u, out, _ := newTestUI()
	u.Info("hello %s", "world")
	assert.Contains(t, out.String(), "hello world")
}

func TestSuccess(t *testing.T) {
	u, out, _ := newTestUI()
	u.Success("done %d", 42)
	assert.Contains(t, out.String(), "done 42")
}

func TestWarning(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Warning("careful %s", "now")
	assert.Contains(t, errOut.String(), "careful now")
}

func TestError(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Error("failed %s", "badly")
	assert.Contains(t, errOut.String(), "failed badly")
}

func TestVerboseLog_Enabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = true
	u.VerboseLog("detail %d", 1)
	assert.Contains(t, out.String(), "detail 1")
}

func TestVerboseLog_Disabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = false
	u.VerboseLog("detail %d", 1)
	assert.Empty(t, out.String())
}

func TestDryRunMsg_Enabled(t *testing.T) {
	u, _, errOut := newTestUI()
	u.DryRun = true
	u.DryRunMsg("would create %s", "file")
	assert.Contains(t, errOut.String(), "[DRY-RUN]")
	assert.Contains(t, errOut.String(), "would create file")
}

func TestDryRunMsg_Disabled(t *testing.T) {
	u, _, errOut := newTestUI()
	u.DryRun = false
	u.DryRunMsg("would create %s", "file")
	assert.Empty(t, errOut.String())
}

func TestColorHelpers(t *testing.T) {
	// Color helpers should return non-empty strings
	assert.NotEmpty(t, Cyan("test"))
	assert.NotEmpty(t, Green("test"))
	assert.NotEmpty(t, Yellow("test"))
	assert.NotEmpty(t, Red("test"))
}

func TestStatusColor(t *testing.T) {
	for _, st := range models.Statuses {
		assert.Contains(t, StatusColor(string(st)), string(st))
	}
	assert.Equal(t, "unknown", StatusColor("unknown"))
}

func TestPriorityColor(t *testing.T) {
	assert.Contains(t, PriorityColor("Critical"), "Critical")
	assert.Equal(t, "Low", PriorityColor("Low"))
	assert.Equal(t, "Urgent", PriorityColor("Urgent"))
}

func TestAlertColor(t *testing.T) {
	assert.Contains(t, AlertColor("HIGH"), "HIGH")
	assert.Contains(t, AlertColor("LOW"), "LOW")
	assert.Equal(t, "-", AlertColor("NONE"))
}

func TestHoursColor(t *testing.T) {
	assert.Contains(t, HoursColor(7, 6), "7h/6h")
	assert.Contains(t, HoursColor(1, 6), "1h/6h")
}

func TestProgress(t *testing.T) {
	assert.Equal(t, "[--------]", Progress("Open"))
	assert.Equal(t, "[##------]", Progress("Fix In Progress"))
	assert.Equal(t, "[########]", Progress("Closed"))
	assert.Equal(t, "", Progress("Duplicate"))
}

func TestJSON(t *testing.T) {
	u, out, _ := newTestUI()
	require.NoError(t, u.JSON(map[string]string{"bugId": "BUG-1"}))
	assert.Contains(t, out.String(), `"bugId": "BUG-1"`)
}

func TestTable(t *testing.T) {
	u, out, _ := newTestUI()
	table := u.Table([]string{"ID", "Status"})
	require.NotNil(t, table)

	table.Append([]string{"BUG-1", "Open"})
	table.Append([]string{"BUG-2", "Closed"})
	err := table.Render()
	require.NoError(t, err)

	result := out.String()
	assert.True(t, strings.Contains(result, "BUG-1"), "table output should contain bug ids")
	assert.True(t, strings.Contains(result, "BUG-2"), "table output should contain bug ids")
}
