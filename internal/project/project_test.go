package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/schollz/mlrengine/internal/engine"
	"github.com/schollz/mlrengine/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestBuildAndApplyDocumentRoundTrips(t *testing.T) {
	e := engine.New(48000, 2)
	e.Strips[0].Volume = 0.5
	e.Strips[0].Pan = -0.3
	e.Strips[0].FilterCutoffHz = 4000
	e.Mods[0].Target = types.ModPan
	e.Mods[0].Steps[3] = 0.8

	doc := BuildDocument(e, nil)
	assert.Len(t, doc.Strips, 2)
	assert.Equal(t, 0.5, doc.Strips[0].Volume)
	assert.Equal(t, types.ModPan, doc.Strips[0].ModTarget)

	e2 := engine.New(48000, 2)
	ApplyDocument(e2, doc)
	assert.Equal(t, 0.5, e2.Strips[0].Volume)
	assert.Equal(t, -0.3, e2.Strips[0].Pan)
	assert.Equal(t, 4000.0, e2.Strips[0].FilterCutoffHz)
	assert.Equal(t, types.ModPan, e2.Mods[0].Target)
	assert.Equal(t, 0.8, e2.Mods[0].Steps[3])
}

func TestSaveAndLoadRoundTripsThroughDisk(t *testing.T) {
	e := engine.New(48000, 1)
	e.Strips[0].Volume = 0.75
	doc := BuildDocument(e, nil)
	doc.SavedAtUnix = 1234

	path := filepath.Join(t.TempDir(), "project.json.gz")
	store := NewStore(path, nil)
	assert.NoError(t, store.Save(doc))

	loaded, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, int64(1234), loaded.SavedAtUnix)
	assert.Equal(t, 0.75, loaded.Strips[0].Volume)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(os.TempDir(), "does-not-exist.json.gz"))
	assert.Error(t, err)
}

func TestAutoSaveArmsDebounceTimer(t *testing.T) {
	calls := 0
	store := NewStore(filepath.Join(t.TempDir(), "p.json.gz"), func() error {
		calls++
		return nil
	})
	store.AutoSave()
	store.AutoSave()
	store.AutoSave()
	assert.NotNil(t, store.timer)
}
