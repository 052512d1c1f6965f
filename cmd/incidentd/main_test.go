package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commandNames() []string {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	return names
}

func TestCommandWiring(t *testing.T) {
	names := commandNames()
	assert.Contains(t, names, "checkpoints")
	assert.Contains(t, names, "skills")
}

func TestSkillsValidate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "restart.yaml"), []byte(`
id: restart-service
name: Restart Service
risk_level: high
steps:
  - id: restart
    action: service.restart
    requires_approval: true
`), 0600))

	outputJSON = false
	err := runSkillsValidate(skillsValidateCmd, []string{dir})
	assert.NoError(t, err)
}

func TestSkillsValidateBadSkill(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(`
id: broken
name: Broken
risk_level: absurd
steps:
  - id: one
    action: noop
`), 0600))

	err := runSkillsValidate(skillsValidateCmd, []string{dir})
	assert.Error(t, err)
}
