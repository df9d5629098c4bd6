package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenthub/internal/domain"
	"agenthub/internal/infra/config"
)

func TestRegistryDefaults(t *testing.T) {
	r := NewRegistry(testLogger())

	assert.Equal(t, []string{
		AgentBrowserSpecialist,
		AgentDataAnalyst,
		AgentGeneralAssistant,
		AgentWorkflowOrchestrator,
	}, r.IDs())

	cfg, err := r.Get(AgentBrowserSpecialist)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentTypeBrowser, cfg.Type)
	assert.Equal(t, "gpt-4", cfg.Model)
	assert.Contains(t, cfg.Tools, "browser_automation")
}

func TestRegistryRegisterDuplicate(t *testing.T) {
	r := NewRegistry(testLogger())

	err := r.Register(&domain.AgentConfig{ID: "custom", Name: "Custom", Type: domain.AgentTypeCustom})
	require.NoError(t, err)

	err = r.Register(&domain.AgentConfig{ID: "custom"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDuplicateAgent)
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry(testLogger())

	_, err := r.Get("nobody")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)
}

func TestRegistryRegisterStampsTimes(t *testing.T) {
	r := NewRegistry(testLogger())

	cfg := &domain.AgentConfig{ID: "custom", Name: "Custom"}
	require.NoError(t, r.Register(cfg))
	assert.False(t, cfg.CreatedAt.IsZero())
	assert.False(t, cfg.UpdatedAt.IsZero())
}

func TestFromSpecDefaultsType(t *testing.T) {
	cfg := FromSpec(config.AgentSpec{ID: "helper", Name: "Helper", Model: "gpt-4"})
	assert.Equal(t, domain.AgentTypeCustom, cfg.Type)

	cfg = FromSpec(config.AgentSpec{ID: "crawler", Type: domain.AgentTypeBrowser})
	assert.Equal(t, domain.AgentTypeBrowser, cfg.Type)
}
