package evaluator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teilomillet/extractopt/internal/logging"
	"github.com/teilomillet/extractopt/providers"
)

func TestParseCritique(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Critique
		wantErr bool
	}{
		{
			name: "plain",
			raw:  `{"score": 7, "critique": "good", "missing_info": "casualties"}`,
			want: Critique{Score: 7, Critique: "good", MissingInfo: "casualties"},
		},
		{
			name: "fenced with prose",
			raw:  "Here you go:\n```json\n{\"score\": 10, \"critique\": \"\", \"missing_info\": \"\"}\n```",
			want: Critique{Score: 10},
		},
		{
			name: "whole number written as float",
			raw:  `{"score": 7.0, "critique": "ok", "missing_info": ""}`,
			want: Critique{Score: 7, Critique: "ok"},
		},
		{name: "fractional score", raw: `{"score": 7.5, "critique": "", "missing_info": ""}`, wantErr: true},
		{name: "missing field", raw: `{"score": 7, "critique": "good"}`, wantErr: true},
		{name: "score too high", raw: `{"score": 11, "critique": "", "missing_info": ""}`, wantErr: true},
		{name: "score zero", raw: `{"score": 0, "critique": "", "missing_info": ""}`, wantErr: true},
		{name: "score not integer", raw: `{"score": "seven", "critique": "", "missing_info": ""}`, wantErr: true},
		{name: "not json", raw: "I would give this a 7", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCritique(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformed)
				assert.Zero(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseStopDecision(t *testing.T) {
	d, err := ParseStopDecision(`{"stop_optimization": true, "reasoning": "plateau"}`)
	require.NoError(t, err)
	assert.True(t, d.Stop)
	assert.Equal(t, "plateau", d.Reasoning)

	d, err = ParseStopDecision(`{"stop_optimization": true}`)
	require.NoError(t, err)
	assert.True(t, d.Stop)
	assert.Empty(t, d.Reasoning)

	_, err = ParseStopDecision(`{"reasoning": "no verdict"}`)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ParseStopDecision(`{"stop_optimization": "yes", "reasoning": ""}`)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseExtraction(t *testing.T) {
	e, err := ParseExtraction(`{"events":[{"event":"Dam collapse","location":"Brazil","severity":"Critical","status":"Ongoing"}]}`)
	require.NoError(t, err)
	require.Len(t, e.Events, 1)
	assert.Equal(t, "Brazil", e.Events[0].Location)

	_, err = ParseExtraction(`{"events":[{"event":"Strike","location":"Germany","severity":"Severe","status":"Ongoing"}]}`)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ParseExtraction(`{"items":[]}`)
	assert.ErrorIs(t, err, ErrMalformed)

	e, err = ParseExtraction(`{"events":[]}`)
	require.NoError(t, err)
	assert.Empty(t, e.Events)
}

func TestNormalizePrompt(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"  Extract events.  ", "Extract events."},
		{"System Prompt: Extract events.", "Extract events."},
		{"New Prompt:\n\"Extract events.\"", "Extract events."},
		{"Updated Prompt: Use \"severity\" enums", "Use severity enums"},
		{"```\nExtract events.\n```", "Extract events."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePrompt(tt.raw), "input %q", tt.raw)
	}
}

func TestCleanJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, CleanJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, CleanJSON("```json {\"a\":1}```"))
	assert.Equal(t, `{"a":{"b":2}}`, CleanJSON(`Sure! {"a":{"b":2}} Hope that helps.`))
	assert.Equal(t, "no json here", CleanJSON("no json here"))
}

func TestSchemas(t *testing.T) {
	c := CritiqueSchema()
	assert.Equal(t, "object", c.Type)
	assert.Empty(t, c.Version)
	assert.ElementsMatch(t, []string{"score", "critique", "missing_info"}, c.Required)

	s := StopDecisionSchema()
	assert.Equal(t, []string{"stop_optimization"}, s.Required)

	ext := DefaultExtractionSchema()
	events, ok := ext.Properties.Get("events")
	require.True(t, ok)
	assert.Equal(t, "array", events.Type)
	require.NotNil(t, events.Items)
	severity, ok := events.Items.Properties.Get("severity")
	require.True(t, ok)
	assert.Equal(t, []any{"Critical", "High", "Moderate", "Low"}, severity.Enum)
	assert.NotSame(t, ext, DefaultExtractionSchema())

	js, err := SchemaJSON(ext)
	require.NoError(t, err)
	assert.NotContains(t, js, "$ref")
	assert.NotContains(t, js, "$schema")
}

func TestParseSchema(t *testing.T) {
	schema, err := ParseSchema("```json\n{\"type\":\"object\",\"properties\":{\"events\":{\"type\":\"array\"}},\"required\":[\"events\"]}\n```")
	require.NoError(t, err)
	assert.Equal(t, []string{"events"}, schema.Required)

	_, err = ParseSchema(`{"type":"array","items":{"type":"string"}}`)
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = ParseSchema(`{"type":"object"}`)
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = ParseSchema("I cannot help with that")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCloneSchemaIsIndependent(t *testing.T) {
	orig := DefaultExtractionSchema()
	clone := CloneSchema(orig)
	clone.Required = append(clone.Required, "extra")
	clone.Description = "changed"
	assert.Equal(t, []string{"events"}, orig.Required)
	assert.Empty(t, orig.Description)
	assert.Nil(t, CloneSchema(nil))
}

func TestCritiqueBatch(t *testing.T) {
	backend := providers.NewMockBackend(func(call providers.Call, i int, conv providers.Conversation) (string, error) {
		switch i {
		case 0:
			return `{"score": 8, "critique": "fine", "missing_info": ""}`, nil
		case 1:
			return "", errors.New("timeout")
		default:
			return `not json`, nil
		}
	})
	e := New(backend, "teacher", WithTemperature(0.2), WithLogger(logging.NewMockLogger()))

	out := e.Critique(context.Background(), []Submission{
		{Document: "doc A", Output: `{"events":[]}`},
		{Document: "doc B", Output: `{}`},
		{Document: "doc C", Output: `{}`},
	})

	require.Len(t, out, 3)
	require.NoError(t, out[0].Err)
	assert.Equal(t, 8, out[0].Critique.Score)
	assert.EqualError(t, out[1].Err, "timeout")
	assert.ErrorIs(t, out[2].Err, ErrMalformed)
	assert.Equal(t, "not json", out[2].Raw)

	calls := backend.Calls()
	require.Len(t, calls, 1, "critiques must be requested in one batch")
	assert.Equal(t, "teacher", calls[0].Model)
	assert.Same(t, CritiqueSchema(), calls[0].Schema)
	assert.Equal(t, 0.2, calls[0].Temperature)
	conv := calls[0].Conversations[0]
	assert.Equal(t, auditorRole, conv[0].Content)
	assert.Contains(t, conv[1].Content, "doc A")
	assert.Contains(t, conv[1].Content, `{"events":[]}`)
}

func TestCritiqueEmptyDoesNotCallBackend(t *testing.T) {
	backend := providers.NewMockBackend(nil)
	assert.Empty(t, New(backend, "teacher").Critique(context.Background(), nil))
	assert.Empty(t, backend.Calls())
}

func TestShouldStop(t *testing.T) {
	backend := providers.NewMockBackend(nil)
	backend.SetResponses([]string{`{"stop_optimization": true, "reasoning": "done"}`, "maybe?"}, false)
	e := New(backend, "teacher")

	d, err := e.ShouldStop(context.Background(), StopInput{Iteration: 2, Average: 9.6, Threshold: 9.5, Feedback: []string{"Article 1: ok"}})
	require.NoError(t, err)
	assert.True(t, d.Stop)

	prompt := backend.Calls()[0].Conversations[0][0].Content
	assert.Contains(t, prompt, "Iteration 2")
	assert.Contains(t, prompt, "9.60/10")
	assert.Contains(t, prompt, ">= 9.5")
	assert.Contains(t, prompt, `["Article 1: ok"]`)
	assert.Same(t, StopDecisionSchema(), backend.Calls()[0].Schema)

	_, err = e.ShouldStop(context.Background(), StopInput{})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRewritePrompt(t *testing.T) {
	backend := providers.NewMockBackend(nil)
	backend.SetResponses([]string{"System Prompt: \"Extract every event.\"", "  \"\"  "}, false)
	e := New(backend, "teacher", WithMutationTemperature(0.9))

	p, err := e.RewritePrompt(context.Background(), "old", []string{"missed dates"}, 300, "chars")
	require.NoError(t, err)
	assert.Equal(t, "Extract every event.", p)

	call := backend.Calls()[0]
	assert.Nil(t, call.Schema)
	assert.Equal(t, 0.9, call.Temperature)
	assert.Contains(t, call.Conversations[0][0].Content, `"old"`)
	assert.Contains(t, call.Conversations[0][0].Content, "300 characters")

	_, err = e.RewritePrompt(context.Background(), "old", nil, 300, "tokens")
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.Contains(t, backend.Calls()[1].Conversations[0][0].Content, "300 tokens")
}

func TestRewriteSchema(t *testing.T) {
	backend := providers.NewMockBackend(nil)
	backend.SetResponses([]string{
		"```json\n{\"type\":\"object\",\"properties\":{\"events\":{\"type\":\"array\",\"description\":\"all events\"}}}\n```",
		"Sorry, here is a list instead",
	}, false)
	e := New(backend, "teacher")

	s, err := e.RewriteSchema(context.Background(), DefaultExtractionSchema(), "Extract events.", []string{"missed"})
	require.NoError(t, err)
	events, ok := s.Properties.Get("events")
	require.True(t, ok)
	assert.Equal(t, "all events", events.Description)
	assert.Contains(t, backend.Calls()[0].Conversations[0][0].Content, `"severity"`)

	_, err = e.RewriteSchema(context.Background(), DefaultExtractionSchema(), "Extract events.", nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestShortenAndSummarize(t *testing.T) {
	backend := providers.NewMockBackend(nil)
	backend.SetResponses([]string{"Short.", "Scores rose when enums were listed."}, false)
	e := New(backend, "teacher", WithTemperature(0.1))

	short, err := e.Shorten(context.Background(), strings.Repeat("long ", 50), 20, "chars")
	require.NoError(t, err)
	assert.Equal(t, "Short.", short)
	assert.Contains(t, backend.Calls()[0].Conversations[0][0].Content, "at most 20 characters")

	summary, err := e.Summarize(context.Background(), []map[string]any{{"iteration": 1, "avg_score": 7.0}})
	require.NoError(t, err)
	assert.Equal(t, "Scores rose when enums were listed.", summary)
	assert.Contains(t, backend.Calls()[1].Conversations[0][0].Content, `"avg_score": 7`)

	_, err = e.Summarize(context.Background(), nil)
	assert.Error(t, err, "mock responses are exhausted")
}
