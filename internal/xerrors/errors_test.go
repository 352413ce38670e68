package xerrors

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFastPathNoTelemetry(t *testing.T) {
	t.Parallel()

	SetTelemetryReporter(nil)
	ClearErrorHooks()

	err := fmt.Errorf("test error")
	ee := New(err).Build()

	require.Equal(t, "test error", ee.Err.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
}

func TestBuilderCategoryAndComponentOverride(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("boom")).
		Component("chunker").
		Category(CategoryChunking).
		Context("job_id", "job-123").
		Build()

	assert.Equal(t, "chunker", ee.GetComponent())
	assert.Equal(t, CategoryChunking, ee.Category)
	assert.Equal(t, "job-123", ee.GetContext()["job_id"])
}

func TestJobContext(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("failed")).JobContext("job-1", "chunk-9").Build()

	ctx := ee.GetContext()
	assert.Equal(t, "job-1", ctx["job_id"])
	assert.Equal(t, "chunk-9", ctx["chunk_id"])
}

func TestIsCategory(t *testing.T) {
	t.Parallel()

	err := New(fmt.Errorf("no speaker match")).Category(CategoryDiarization).Build()
	assert.True(t, IsCategory(err, CategoryDiarization))
	assert.False(t, IsCategory(err, CategoryMerging))
}

func TestRegexPrecompilation(t *testing.T) {
	t.Parallel()

	testMessage1 := "Error at https://api.example.com?api_key=secret123&token=abc"
	scrubbed1 := basicURLScrub(testMessage1)
	assert.Equal(t, "Error at https://api.example.com?[REDACTED]", scrubbed1)

	testMessage2 := "Config error: api_key=secret123 is invalid"
	scrubbed2 := basicURLScrub(testMessage2)
	assert.Contains(t, scrubbed2, "[API_KEY_REDACTED]")

	testMessage3 := "Auth failed with token=abc123 and auth=xyz789"
	scrubbed3 := basicURLScrub(testMessage3)
	assert.False(t, strings.Contains(scrubbed3, "abc123"))
	assert.False(t, strings.Contains(scrubbed3, "xyz789"))
}

func TestPriorityValidation(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("x")).Priority("bogus").Build()
	assert.Equal(t, PriorityMedium, ee.GetPriority())

	ee2 := New(fmt.Errorf("x")).Priority(PriorityCritical).Build()
	assert.Equal(t, PriorityCritical, ee2.GetPriority())
}
