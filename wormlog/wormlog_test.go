package wormlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	dir := t.TempDir()
	l, err := New(filepath.Join(dir, "events"), filepath.Join(dir, "digests"), filepath.Join(dir, "archive"), "events")
	require.NoError(t, err)
	return l
}

func TestAppendAndCheckpointRoundTrip(t *testing.T) {
	l := newTestLog(t)

	require.True(t, l.Append(`{"event":"a"}`))
	require.True(t, l.Append(`{"event":"b"}`))
	require.True(t, l.Append(`{"event":"c"}`))

	root, err := l.CreateCheckpoint()
	require.NoError(t, err)
	assert.NotEmpty(t, root)
	assert.True(t, l.VerifyIntegrity(""))
	assert.True(t, l.VerifyIntegrity(root))
}

func TestVerifyIntegrityDetectsTamper(t *testing.T) {
	l := newTestLog(t)
	require.True(t, l.Append(`{"event":"a"}`))
	root, err := l.CreateCheckpoint()
	require.NoError(t, err)

	require.True(t, l.Append(`{"event":"b"}`))
	assert.False(t, l.VerifyIntegrity(root))
}

func TestMerkleRootOddLevelDuplicatesLast(t *testing.T) {
	rootEven := merkleRoot([]string{"a", "b"})
	rootOdd := merkleRoot([]string{"a", "b", "c"})
	assert.NotEmpty(t, rootEven)
	assert.NotEmpty(t, rootOdd)
	assert.NotEqual(t, rootEven, rootOdd)

	// A three-leaf tree pairs (a,b) then duplicates the c-leaf against
	// itself at the next level; recomputing by hand should match.
	ab := hashChildren(hashBytes([]byte("a")), hashBytes([]byte("b")))
	cc := hashChildren(hashBytes([]byte("c")), hashBytes([]byte("c")))
	expected := hashChildren(ab, cc)
	assert.Equal(t, expected, rootOdd)
}

func TestFinalizeCurrentLogArchives(t *testing.T) {
	l := newTestLog(t)
	require.True(t, l.Append(`{"event":"a"}`))

	id, err := l.FinalizeCurrentLog("stream")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	info, err := os.Stat(filepath.Join(l.archiveDir, "stream", id+".jsonl"))
	require.NoError(t, err)
	assert.Zero(t, info.Mode().Perm()&0o222, "the archived copy must carry no write permission")
}
