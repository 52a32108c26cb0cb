package forensic

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func replayFixture(t *testing.T) *Replay {
	t.Helper()
	session, events := sealedSession(t, 5)
	for _, e := range events {
		e.RawCommand = "22 F1 90"
		e.RawResponse = "62 F1 90 01"
	}
	session.IntegrityHash = IntegrityHash(session, events)
	return NewReplay(session, events)
}

func TestReplayCursor(t *testing.T) {
	r := replayFixture(t)

	assert.Equal(t, 5, r.Len())
	assert.Equal(t, 0, r.Position())
	assert.Equal(t, 1, r.Current().Sequence)

	assert.Equal(t, 2, r.Next().Sequence)
	assert.Equal(t, 3, r.Next().Sequence)
	assert.Equal(t, 2, r.Prev().Sequence)

	// Boundaries hold position and return nil.
	require.True(t, r.Seek(4))
	assert.Nil(t, r.Next())
	assert.Equal(t, 4, r.Position())

	require.True(t, r.Seek(0))
	assert.Nil(t, r.Prev())
	assert.Equal(t, 0, r.Position())

	assert.False(t, r.Seek(-1))
	assert.False(t, r.Seek(5))
}

func TestReplayEmptySession(t *testing.T) {
	r := NewReplay(&Session{ID: "empty"}, nil)
	assert.Nil(t, r.Current())
	assert.Nil(t, r.Next())
	assert.Nil(t, r.Prev())
	before, current, after := r.Context(2)
	assert.Nil(t, before)
	assert.Nil(t, current)
	assert.Nil(t, after)
}

func TestReplayContext(t *testing.T) {
	r := replayFixture(t)
	require.True(t, r.Seek(2))

	before, current, after := r.Context(1)
	require.Len(t, before, 1)
	require.Len(t, current, 1)
	require.Len(t, after, 1)
	assert.Equal(t, 2, before[0].Sequence)
	assert.Equal(t, 3, current[0].Sequence)
	assert.Equal(t, 4, after[0].Sequence)

	// Window clamped at the edges.
	require.True(t, r.Seek(0))
	before, _, after = r.Context(3)
	assert.Empty(t, before)
	assert.Len(t, after, 3)
}

func TestExportRedactsByDefault(t *testing.T) {
	r := replayFixture(t)

	out, err := r.Export(FormatStructured, ExportOptions{})
	require.NoError(t, err)
	assert.Contains(t, string(out), Redacted)
	assert.NotContains(t, string(out), "62 F1 90 01")

	// Redaction works on copies; the replayed events keep their payloads.
	assert.Equal(t, "62 F1 90 01", r.Current().RawResponse)

	out, err = r.Export(FormatStructured, ExportOptions{Unredacted: true})
	require.NoError(t, err)
	assert.Contains(t, string(out), "62 F1 90 01")
}

func TestExportStructuredRoundTrips(t *testing.T) {
	r := replayFixture(t)

	out, err := r.Export(FormatStructured, ExportOptions{})
	require.NoError(t, err)

	var decoded struct {
		Session *Session `yaml:"session"`
		Events  []*Event `yaml:"events"`
	}
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Equal(t, r.Session().ID, decoded.Session.ID)
	assert.Len(t, decoded.Events, r.Len())
}

func TestExportCSV(t *testing.T) {
	r := replayFixture(t)

	out, err := r.Export(FormatCSV, ExportOptions{})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 6, "header plus five events")
	assert.True(t, strings.HasPrefix(lines[0], "sequence,timestamp,type"))
	assert.True(t, strings.HasPrefix(lines[1], "1,"))
}

func TestExportReport(t *testing.T) {
	r := replayFixture(t)

	out, err := r.Export(FormatReport, ExportOptions{})
	require.NoError(t, err)

	report := string(out)
	assert.Contains(t, report, "Forensic Session Report")
	assert.Contains(t, report, r.Session().ID)
	assert.Contains(t, report, "COMMAND_EXECUTED")
}

func TestExportUnknownFormat(t *testing.T) {
	r := replayFixture(t)
	_, err := r.Export(Format("pdf"), ExportOptions{})
	assert.Error(t, err)
}
