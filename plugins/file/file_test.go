package file

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/opd-ai/tagmesh/plugins"
	"github.com/opd-ai/tagmesh/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectCallback struct {
	readers []plugins.SimplexReader
}

func (c *collectCallback) ReaderAvailable(_ transport.TransportID, r plugins.SimplexReader) {
	c.readers = append(c.readers, r)
}

func (c *collectCallback) ConnectionAvailable(transport.TransportID, plugins.DuplexConnection) {}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestWriterPublishesOnDispose(t *testing.T) {
	dir := t.TempDir()
	p := New(Config{Dir: dir, Capacity: 4096}, &collectCallback{})

	w, err := p.CreateWriter()
	require.NoError(t, err)
	assert.Equal(t, int64(4096), w.Capacity())
	assert.False(t, w.ShouldFlush())
	_, err = w.Writer().Write([]byte("stream bytes"))
	require.NoError(t, err)

	matches, _ := filepath.Glob(filepath.Join(dir, "*"+fileExtension))
	assert.Empty(t, matches, "not visible before dispose")

	require.NoError(t, w.Dispose(false))
	matches, _ = filepath.Glob(filepath.Join(dir, "*"+fileExtension))
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, "stream bytes", string(data))
}

func TestWriterDiscardedOnException(t *testing.T) {
	dir := t.TempDir()
	p := New(Config{Dir: dir}, &collectCallback{})

	w, err := p.CreateWriter()
	require.NoError(t, err)
	require.NoError(t, w.Dispose(true))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPollSkipsOwnFiles(t *testing.T) {
	dir := t.TempDir()
	cb := &collectCallback{}
	p := New(Config{Dir: dir}, cb)

	w, err := p.CreateWriter()
	require.NoError(t, err)
	require.NoError(t, w.Dispose(false))

	p.Poll()
	assert.Empty(t, cb.readers)
}

func TestReaderDeletedOnlyWhenRecognised(t *testing.T) {
	dir := t.TempDir()
	cb := &collectCallback{}
	p := New(Config{Dir: dir}, cb)

	mine := writeFile(t, dir, "a"+fileExtension, "for us")
	theirs := writeFile(t, dir, "b"+fileExtension, "for someone else")
	writeFile(t, dir, "ignored.txt", "not a stream")

	p.Poll()
	require.Len(t, cb.readers, 2)

	for _, r := range cb.readers {
		data, err := io.ReadAll(r.Reader())
		require.NoError(t, err)
		require.NoError(t, r.Dispose(false, string(data) == "for us"))
	}

	_, err := os.Stat(mine)
	assert.True(t, os.IsNotExist(err), "recognised file deleted")
	_, err = os.Stat(theirs)
	assert.NoError(t, err, "unrecognised file kept")

	// The unrecognised file is not offered again
	p.Poll()
	assert.Len(t, cb.readers, 2)
}

func TestStartCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "drop")
	p := New(Config{Dir: dir}, &collectCallback{})
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
