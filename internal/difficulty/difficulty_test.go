package difficulty

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPalette(t *testing.T) {
	p := Default()
	assert.Equal(t, "#fe4c61", p.Color("入门"))
	assert.Equal(t, "#0e1d69", p.Color("NOI/NOI+/CTSC"))
	assert.Equal(t, DefaultColor, p.Color(Unknown))

	lvl, ok := p.Level("普及+/提高")
	require.True(t, ok)
	assert.Equal(t, 3, lvl)

	_, ok = p.Level("暂无评定")
	assert.False(t, ok)

	name, ok := p.Name(5)
	require.True(t, ok)
	assert.Equal(t, "省选/NOI−", name)
	assert.Equal(t, 6, p.MaxLevel())
}

func TestIndexLabelAndMerge(t *testing.T) {
	ix := Index{"P1001": "入门"}
	assert.Equal(t, "入门", ix.Label("P1001"))
	assert.Equal(t, Unknown, ix.Label("P9999"))

	added := ix.Merge(map[string]string{"P1001": "入门", "P1002": "普及−", "": "x"})
	assert.Equal(t, 1, added)
	assert.Len(t, ix, 2)
}

func TestLoadSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "problem_list.json")

	ix, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, ix)

	require.NoError(t, Save(path, Index{"P1001": "入门"}))
	ix, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, Index{"P1001": "入门"}, ix)

	require.NoError(t, os.WriteFile(path, []byte("[1,2]"), 0o644))
	_, err = Load(path)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestFileSourceKeepsLastGood(t *testing.T) {
	path := filepath.Join(t.TempDir(), "problem_list.json")
	src := NewFileSource(path)

	ix, err := src.Index()
	require.NoError(t, err)
	assert.Empty(t, ix)

	require.NoError(t, Save(path, Index{"P1": "入门"}))
	ix, err = src.Index()
	require.NoError(t, err)
	assert.Equal(t, "入门", ix.Label("P1"))

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
	ix, err = src.Index()
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.Equal(t, "入门", ix.Label("P1"))
}
