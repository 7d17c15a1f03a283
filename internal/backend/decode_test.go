package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResponseText(t *testing.T) {
	t.Parallel()

	resp, err := DecodeResponse([]byte(`{"type":"text","content":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeText, resp.Type)
	assert.Equal(t, "hello", resp.ReplyText())
	assert.False(t, resp.HasResults())
}

func TestDecodeResponseMessageWinsOverContent(t *testing.T) {
	t.Parallel()

	resp, err := DecodeResponse([]byte(`{"type":"text","message":"from message","content":"from content"}`))
	require.NoError(t, err)
	assert.Equal(t, "from message", resp.ReplyText())

	resp, err = DecodeResponse([]byte(`{"type":"text","message":"  ","content":"from content"}`))
	require.NoError(t, err)
	assert.Equal(t, "from content", resp.ReplyText())
}

func TestDecodeResponseToolResults(t *testing.T) {
	t.Parallel()

	body := `{
		"type": "multi_tool_result",
		"message": "ok",
		"results": [
			{"type": "alarm", "time": "2024-01-02T23:00:00+00:00", "label": "reminder"},
			{"type": "task_create_success", "taskTitle": "Buy milk"},
			{"type": "task_create_success", "task_title": "Call mom"},
			{"type": "context_update", "content": "likes tea"},
			{"type": "something_new", "payload": 1}
		]
	}`
	resp, err := DecodeResponse([]byte(body))
	require.NoError(t, err)
	require.Len(t, resp.Results, 5)
	assert.False(t, resp.Legacy)
	assert.Equal(t, ToolResult{Type: ToolAlarm, Time: "2024-01-02T23:00:00+00:00", Label: "reminder"}, resp.Results[0])
	assert.Equal(t, "Buy milk", resp.Results[1].TaskTitle)
	assert.Equal(t, "Call mom", resp.Results[2].TaskTitle)
	assert.Equal(t, "likes tea", resp.Results[3].Content)
	assert.Equal(t, "something_new", resp.Results[4].Type)
}

func TestDecodeResponseKeepsMalformedResult(t *testing.T) {
	t.Parallel()

	body := `{"type":"multi_tool_result","results":[{"type":"alarm","time":"07:00"},{"type":"alarm","time":700}]}`
	resp, err := DecodeResponse([]byte(body))
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.NoError(t, resp.Results[0].DecodeErr)
	assert.Error(t, resp.Results[1].DecodeErr)
	assert.Equal(t, ToolAlarm, resp.Results[1].Type)
}

func TestDecodeResponseNullVersusEmptyResults(t *testing.T) {
	t.Parallel()

	resp, err := DecodeResponse([]byte(`{"type":"text","content":"x","results":null}`))
	require.NoError(t, err)
	assert.False(t, resp.HasResults())

	resp, err = DecodeResponse([]byte(`{"type":"text","content":"x","results":[]}`))
	require.NoError(t, err)
	assert.True(t, resp.HasResults())
}

func TestDecodeResponseErrorTypeSpellings(t *testing.T) {
	t.Parallel()

	resp, err := DecodeResponse([]byte(`{"type":"error","error_type":"model_overloaded"}`))
	require.NoError(t, err)
	assert.True(t, resp.IsOverloaded())

	resp, err = DecodeResponse([]byte(`{"type":"error","errorType":"model_overloaded","message":"busy"}`))
	require.NoError(t, err)
	assert.True(t, resp.IsOverloaded())

	resp, err = DecodeResponse([]byte(`{"type":"error","message":"quota exceeded"}`))
	require.NoError(t, err)
	assert.True(t, resp.IsError())
	assert.False(t, resp.IsOverloaded())
}

func TestDecodeResponseLegacyAlarm(t *testing.T) {
	t.Parallel()

	resp, err := DecodeResponse([]byte(`{"type":"alarm","content":"Alarm set","time":"07:30","label":"Gym"}`))
	require.NoError(t, err)
	assert.True(t, resp.Legacy)
	assert.Equal(t, TypeMultiToolResult, resp.Type)
	assert.Equal(t, "Alarm set", resp.ReplyText())
	assert.Equal(t, []ToolResult{{Type: ToolAlarm, Time: "07:30", Label: "Gym"}}, resp.Results)
}

func TestDecodeResponseRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := DecodeResponse([]byte(`<html>bad gateway</html>`))
	assert.Error(t, err)

	_, err = DecodeResponse([]byte(`{"content":"no type"}`))
	assert.Error(t, err)
}
