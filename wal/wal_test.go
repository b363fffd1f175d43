package wal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedcode/kvtxn"
)

func TestFile_AppendAndReplay(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wal.log")

	f, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, f.AppendBegin(ctx, 1, 100))
	require.NoError(t, f.AppendOp(ctx, 2, 100, 7, kvtxn.OpInsert, []byte("k1"), []byte("v1"), 0))
	require.NoError(t, f.AppendOp(ctx, 3, 100, 7, kvtxn.OpErase, []byte("k2"), nil, 0))
	require.NoError(t, f.AppendCommit(ctx, 4, 100))
	require.NoError(t, f.Close())

	f2, err := Open(path)
	require.NoError(t, err)
	defer f2.Close()

	var got []kvtxn.LogRecord
	require.NoError(t, f2.Replay(ctx, func(r kvtxn.LogRecord) error {
		got = append(got, r)
		return nil
	}))

	require.Len(t, got, 4)
	assert.Equal(t, kvtxn.LogBegin, got[0].Kind)
	assert.Equal(t, kvtxn.LogOp, got[1].Kind)
	assert.Equal(t, []byte("k1"), got[1].Key)
	assert.Equal(t, []byte("v1"), got[1].Record)
	assert.Equal(t, uint16(7), got[1].DBName)
	assert.Equal(t, kvtxn.OpKind(kvtxn.OpErase), got[2].OpKind)
	assert.Equal(t, kvtxn.LogCommit, got[3].Kind)
}

func TestFile_Checkpoint(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wal.log")

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.AppendOp(ctx, 1, 1, 0, kvtxn.OpInsert, []byte("a"), []byte("1"), 0))
	require.NoError(t, f.AppendOp(ctx, 2, 1, 0, kvtxn.OpInsert, []byte("b"), []byte("2"), 0))
	require.NoError(t, f.Checkpoint(ctx, 1))

	var got []kvtxn.LogRecord
	require.NoError(t, f.Replay(ctx, func(r kvtxn.LogRecord) error {
		got = append(got, r)
		return nil
	}))
	require.Len(t, got, 1)
	assert.Equal(t, uint64(2), got[0].LSN)
}

func TestMemory_AppendAndReplay(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.AppendBegin(ctx, 1, 1))
	require.NoError(t, m.AppendOp(ctx, 2, 1, 0, kvtxn.OpInsert, []byte("k"), []byte("v"), 0))
	require.NoError(t, m.AppendCommit(ctx, 3, 1))

	var got []kvtxn.LogRecord
	require.NoError(t, m.Replay(ctx, func(r kvtxn.LogRecord) error {
		got = append(got, r)
		return nil
	}))
	require.Len(t, got, 3)

	require.NoError(t, m.Checkpoint(ctx, 2))
	got = nil
	require.NoError(t, m.Replay(ctx, func(r kvtxn.LogRecord) error {
		got = append(got, r)
		return nil
	}))
	require.Len(t, got, 1)
	assert.Equal(t, kvtxn.LogCommit, got[0].Kind)
}
