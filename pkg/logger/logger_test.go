package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentTagsOutput(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	var buf bytes.Buffer
	SetDefault(New(&buf, zerolog.DebugLevel))

	log := Component("loader")
	log.Info().Str("package", "hl7.fhir.r4.core").Msg("loaded")

	out := buf.String()
	assert.Contains(t, out, `"component":"loader"`)
	assert.Contains(t, out, `"package":"hl7.fhir.r4.core"`)
	assert.Contains(t, out, `"message":"loaded"`)
}

func TestSetLevel(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	var buf bytes.Buffer
	SetDefault(New(&buf, zerolog.DebugLevel))

	require.NoError(t, SetLevel("warn"))
	log := Default()
	log.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	log.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")

	assert.Error(t, SetLevel("loud"))
}

func TestDisable(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	Disable()
	log := Default()
	assert.NotPanics(t, func() { log.Error().Msg("dropped") })
}
