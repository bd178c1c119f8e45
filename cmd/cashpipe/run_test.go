package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ratecurve/cashpipe/internal/types"
)

func TestValidateStopAfter(t *testing.T) {
	for _, stage := range []string{"", types.StageIngestion, types.StageFRNMatching, types.StageDedup} {
		assert.NoError(t, validateStopAfter(stage), "stage %q", stage)
	}
	for _, stage := range []string{"ingestion", "frn", "dedup", "data_quality", "nonsense"} {
		assert.Error(t, validateStopAfter(stage), "stage %q", stage)
	}
}

func TestRootVersionFlagRegistered(t *testing.T) {
	assert.Equal(t, Version, rootCmd.Version)
	assert.NotEmpty(t, rootCmd.Version)
}
