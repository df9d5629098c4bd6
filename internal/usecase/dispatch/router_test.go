package dispatch

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouterKeywords(t *testing.T) {
	r := NewRouter(testLogger())

	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"browser keyword", "Take a screenshot of the homepage", AgentBrowserSpecialist},
		{"browser keyword uppercase", "Open the WEBSITE and click the button", AgentBrowserSpecialist},
		{"data keyword", "Please analyze this csv file", AgentDataAnalyst},
		{"workflow keyword", "This is a complex task with many parts", AgentWorkflowOrchestrator},
		{"no match", "hello there", AgentGeneralAssistant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Select(tt.message, nil, ""))
		})
	}
}

func TestRouterToolHints(t *testing.T) {
	r := NewRouter(testLogger())

	assert.Equal(t, AgentBrowserSpecialist, r.Select("hello", []string{"browser_automation"}, ""))
	assert.Equal(t, AgentDataAnalyst, r.Select("hello", []string{"visualization"}, ""))
	assert.Equal(t, AgentGeneralAssistant, r.Select("hello", []string{"unknown_tool"}, ""))
}

func TestRouterTypeHints(t *testing.T) {
	r := NewRouter(testLogger())

	assert.Equal(t, AgentBrowserSpecialist, r.Select("hello", nil, "browser"))
	assert.Equal(t, AgentDataAnalyst, r.Select("hello", nil, "analysis"))
	assert.Equal(t, AgentWorkflowOrchestrator, r.Select("hello", nil, "workflow"))
	assert.Equal(t, AgentGeneralAssistant, r.Select("hello", nil, "default"))
}

func TestRouterKeywordBeatsHint(t *testing.T) {
	r := NewRouter(testLogger())

	// A keyword match outranks both tool hints and the type hint.
	got := r.Select("analyze these numbers", []string{"browser_automation"}, "browser")
	assert.Equal(t, AgentDataAnalyst, got)
}

func TestRouterHintBeatsType(t *testing.T) {
	r := NewRouter(testLogger())

	got := r.Select("hello", []string{"data_processing"}, "browser")
	assert.Equal(t, AgentDataAnalyst, got)
}
