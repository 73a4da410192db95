package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/embedr/internal/domain"
)

func TestParseRefArgs(t *testing.T) {
	ref, err := parseRefArgs([]string{"batch-1/4"})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskRef{BatchID: "batch-1", TaskID: 4}, ref)

	ref, err = parseRefArgs([]string{"batch-1", "7"})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskRef{BatchID: "batch-1", TaskID: 7}, ref)

	_, err = parseRefArgs([]string{"batch-1", "x"})
	assert.Error(t, err)
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["process"])
	assert.True(t, names["finalize"])

	assert.Error(t, finalizeCmd.Args(finalizeCmd, []string{"b", "i"}))
	assert.NoError(t, finalizeCmd.Args(finalizeCmd, []string{"b", "i", "2"}))
}
