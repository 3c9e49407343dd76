package nats

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "quantree.jobs.submit", SubmitSubject())
	assert.Equal(t, "quantree.jobs.progress.abc", ProgressSubject("abc"))
	assert.Equal(t, "quantree.jobs.result.abc", ResultSubject("abc"))
	assert.Equal(t, "quantree.jobs.cancel.*", CancelSubject("*"))

	action, id, err := ParseSubject("quantree.jobs.progress.abc")
	require.NoError(t, err)
	assert.Equal(t, ActionJobProgress, action)
	assert.Equal(t, "abc", id)

	action, id, err = ParseSubject(SubmitSubject())
	require.NoError(t, err)
	assert.Equal(t, ActionJobSubmit, action)
	assert.Empty(t, id)

	_, _, err = ParseSubject("orders.create")
	assert.Error(t, err)
}

func TestSubjectMatches(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"quantree.jobs.result.*", "quantree.jobs.result.abc", true},
		{"quantree.jobs.result.*", "quantree.jobs.result", false},
		{"quantree.jobs.result.*", "quantree.jobs.progress.abc", false},
		{"quantree.>", "quantree.jobs.submit", true},
		{"quantree.>", "quantree", false},
		{"quantree.jobs.submit", "quantree.jobs.submit", true},
		{"quantree.jobs", "quantree.jobs.submit", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.want, SubjectMatches(tt.pattern, tt.subject))
		})
	}
}

func TestEnvelope(t *testing.T) {
	type progress struct {
		Completed int `json:"completed"`
	}
	env, err := NewEnvelope(MessageTypeProgress, "job-1", progress{Completed: 4})
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	parsed, err := ParseEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, "job-1", parsed.JobID)

	var got progress
	require.NoError(t, parsed.Decode(&got))
	assert.Equal(t, 4, got.Completed)

	empty, err := NewEnvelope(MessageTypeCancel, "job-1", nil)
	require.NoError(t, err)
	assert.Error(t, empty.Decode(&got))

	_, err = ParseEnvelope([]byte(`{"job_id":"x"}`))
	assert.Error(t, err)
	_, err = ParseEnvelope([]byte(`not json`))
	assert.Error(t, err)
}

func TestNewClient_Unreachable(t *testing.T) {
	_, err := NewClient(&Config{URL: "nats://127.0.0.1:1", ClientID: "test"})
	assert.Error(t, err)
}
