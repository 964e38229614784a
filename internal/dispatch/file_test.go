package dispatch_test

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phnomcobra/stembot/internal/types"
)

func TestLoadFileThenWriteFileRoundTrip(t *testing.T) {
	d := newDispatcher(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "in.txt")
	content := []byte("the quick brown fox jumps over the lazy dog\n")
	require.NoError(t, os.WriteFile(src, content, 0o644))

	loaded := d.Handle(types.Form{Type: types.LoadFileForm, Path: src})
	require.Empty(t, loaded.Error)
	require.NotNil(t, loaded.Size)
	assert.Equal(t, len(content), *loaded.Size)
	assert.NotEmpty(t, loaded.Md5sum)
	assert.NotEmpty(t, loaded.B64)

	_, err := base64.StdEncoding.DecodeString(loaded.B64)
	require.NoError(t, err)

	dst := filepath.Join(dir, "out.txt")
	written := d.Handle(types.Form{Type: types.WriteFileForm, Path: dst, B64: loaded.B64})
	require.Empty(t, written.Error)

	roundTripped, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, content, roundTripped)
}

func TestLoadFileMissingPathSetsError(t *testing.T) {
	d := newDispatcher(t)

	reply := d.Handle(types.Form{Type: types.LoadFileForm, Path: "/no/such/file"})
	assert.NotEmpty(t, reply.Error)
	assert.Nil(t, reply.Size)
}

func TestWriteFileRejectsMalformedBase64(t *testing.T) {
	d := newDispatcher(t)

	reply := d.Handle(types.Form{Type: types.WriteFileForm, Path: filepath.Join(t.TempDir(), "out"), B64: "!!!not-base64!!!"})
	assert.NotEmpty(t, reply.Error)
}
