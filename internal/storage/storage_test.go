package storage

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/ColonelBlimp/stimcore/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "sub", "session.yaml"), log.New(io.Discard, "", 0))
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	s := newStore(t)
	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, session.DefaultSettings(), got)
}

func TestLoad_CustomDefaults(t *testing.T) {
	def := session.DefaultSettings()
	def.FadeSeconds = 10
	s := newStore(t).WithDefaults(def)

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 10.0, got.FadeSeconds)

	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0755))
	require.NoError(t, os.WriteFile(s.Path(), []byte("mode: tDCS\n"), 0644))
	got, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, session.ModeDC, got.Mode)
	assert.Equal(t, 10.0, got.FadeSeconds, "absent fields keep the configured defaults")
}

func TestSave_ThenLoad(t *testing.T) {
	s := newStore(t)
	want := session.DefaultSettings()
	want.Mode = session.ModeDC
	want.DC.AmplitudeMA = 1.5

	written, err := s.Save(want)
	require.NoError(t, err)
	assert.True(t, written)

	got, err := New(s.Path(), nil).Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSave_OnlyWhenChanged(t *testing.T) {
	s := newStore(t)
	cfg := session.DefaultSettings()

	written, err := s.Save(cfg)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = s.Save(cfg)
	require.NoError(t, err)
	assert.False(t, written)

	cfg.FadeSeconds = 10
	written, err = s.Save(cfg)
	require.NoError(t, err)
	assert.True(t, written)
}

func TestLoad_ThenSaveUnchangedSkipsWrite(t *testing.T) {
	s := newStore(t)
	cfg := session.DefaultSettings()
	cfg.Sine.DurationMin = 30
	_, err := s.Save(cfg)
	require.NoError(t, err)

	fresh := New(s.Path(), nil)
	loaded, err := fresh.Load()
	require.NoError(t, err)
	written, err := fresh.Save(loaded)
	require.NoError(t, err)
	assert.False(t, written)
}

func TestLoad_PartialRecordKeepsDefaults(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0755))
	require.NoError(t, os.WriteFile(s.Path(), []byte("mode: tACS\ntacs:\n  amplitude_ma: 0.5\n  duration_min: 10\n"), 0644))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, session.ModeSine, got.Mode)
	assert.Equal(t, session.ModeSettings{AmplitudeMA: 0.5, DurationMin: 10}, got.Sine)
	assert.Equal(t, session.DefaultSettings().DC, got.DC)
	assert.Equal(t, session.DefaultCodePerMA, got.CodePerMA)
}

func TestLoad_InvalidRecords(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"garbage", "invalid: yaml: content: ["},
		{"unknown mode", "mode: tXYZ\n"},
		{"amplitude out of range", "tdcs:\n  amplitude_ma: 9\n  duration_min: 20\n"},
		{"fade out of range", "fade_seconds: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0755))
			require.NoError(t, os.WriteFile(s.Path(), []byte(tt.content), 0644))

			got, err := s.Load()
			assert.ErrorIs(t, err, ErrInvalidRecord)
			assert.Equal(t, session.DefaultSettings(), got)
		})
	}
}

func TestSave_NoTempFilesLeft(t *testing.T) {
	s := newStore(t)
	_, err := s.Save(session.DefaultSettings())
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "session.yaml", entries[0].Name())
}
