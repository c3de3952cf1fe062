package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStage(t *testing.T) {
	for _, st := range Stages {
		got, err := ParseStage(string(st))
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}

	_, err := ParseStage("flowering")
	assert.True(t, errors.Is(err, ErrUnknownStage))
}

func TestParcelSetStage(t *testing.T) {
	biofix := time.Date(2026, 4, 2, 15, 30, 0, 0, time.UTC)

	t.Run("bud break records biofix", func(t *testing.T) {
		p := Parcel{Name: "P1", Stage: StageDormant}
		require.NoError(t, p.SetStage("bud_break", &biofix))
		assert.Equal(t, StageBudBreak, p.Stage)
		require.True(t, p.Biofix.Valid)
		assert.Equal(t, "2026-04-02", DateKey(p.Biofix.Time))
	})

	t.Run("later stages keep biofix", func(t *testing.T) {
		p := Parcel{Name: "P1", Stage: StageBudBreak}
		require.NoError(t, p.SetStage("bud_break", &biofix))
		require.NoError(t, p.SetStage("bloom", nil))
		assert.True(t, p.Biofix.Valid)
	})

	t.Run("dormant clears biofix", func(t *testing.T) {
		p := Parcel{Name: "P1"}
		require.NoError(t, p.SetStage("bud_break", &biofix))
		require.NoError(t, p.SetStage("dormant", nil))
		assert.Equal(t, StageDormant, p.Stage)
		assert.False(t, p.Biofix.Valid)
	})

	t.Run("unknown stage is a no-op", func(t *testing.T) {
		p := Parcel{Name: "P1", Stage: StageBloom}
		require.NoError(t, p.SetStage("bud_break", &biofix))
		p.Stage = StageBloom
		err := p.SetStage("harvest", nil)
		assert.ErrorIs(t, err, ErrUnknownStage)
		assert.Equal(t, StageBloom, p.Stage)
		assert.True(t, p.Biofix.Valid)
	})
}
