package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/xref/internal/pipeline"
	"github.com/Aman-CERP/xref/internal/query"
	"github.com/Aman-CERP/xref/internal/refgraph"
)

func answer() query.Answer {
	return query.Answer{
		Target: refgraph.Target{Name: "greet", Qualified: "com.acme.Greeter.greet"},
		Path:   query.PathDirect,
		Results: query.ResultSet{
			{File: "app/a.py", QualifiedName: "app.a", Line: 1, Column: 3, Snippet: "x.greet()"},
			{File: "app/b.py", QualifiedName: "app.b", Line: 4, Column: 9, Enclosing: "run", Snippet: "greet()"},
		},
	}
}

func TestWriter_StatusLines(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Success("Index complete!")
	w.Warningf("%d failed", 2)
	w.Error("boom")
	w.Status("", "indented")

	assert.Equal(t, "✅ Index complete!\n⚠️  2 failed\n❌ boom\n   indented\n", buf.String())
}

func TestWriter_Usages(t *testing.T) {
	// Given: an answer with two results
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing them
	w.Usages(answer(), 0)

	// Then: each result has a location line and a snippet line
	assert.Equal(t, "app/a.py:1:3\n    x.greet()\napp/b.py:4:9 (run)\n    greet()\n", buf.String())
}

func TestWriter_UsagesLimitedAndIncomplete(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)
	a := answer()
	a.Outcome = &pipeline.Outcome{Status: pipeline.StatusCancelled}

	w.Usages(a, 1)

	out := buf.String()
	assert.Contains(t, out, "app/a.py:1:3")
	assert.NotContains(t, out, "app/b.py")
	assert.Contains(t, out, "... 1 more")
	assert.Contains(t, out, "low memory, results may be incomplete")
}

func TestWriter_UsagesEmpty(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Usages(query.Answer{Target: refgraph.Target{Name: "nothing"}}, 10)

	assert.Contains(t, buf.String(), "No usages of nothing")
}

func TestNewUsagesJSON(t *testing.T) {
	a := answer()
	a.Err = errors.New("decode failed")
	a.Outcome = &pipeline.Outcome{Status: pipeline.StatusFailed}

	buf := &bytes.Buffer{}
	require.NoError(t, New(buf).JSON(NewUsagesJSON(a, 1)))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "com.acme.Greeter.greet", got["target"])
	assert.Equal(t, "failed", got["status"])
	assert.Equal(t, float64(2), got["total"])
	assert.Equal(t, float64(1), got["truncated"])
	assert.Equal(t, "decode failed", got["error"])
	assert.Len(t, got["usages"], 1)
}

func TestAnswerStatus(t *testing.T) {
	assert.Equal(t, "completed", AnswerStatus(query.Answer{}))
	assert.Equal(t, "failed", AnswerStatus(query.Answer{Err: errors.New("x")}))
	assert.Equal(t, "cancelled_by_resource_pressure",
		AnswerStatus(query.Answer{Outcome: &pipeline.Outcome{Status: pipeline.StatusCancelled}}))
}

func TestLimit(t *testing.T) {
	rs, dropped := Limit(nil, 5)
	assert.NotNil(t, rs)
	assert.Zero(t, dropped)

	rs, dropped = Limit(answer().Results, 1)
	assert.Len(t, rs, 1)
	assert.Equal(t, 1, dropped)
}
