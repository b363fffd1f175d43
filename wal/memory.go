package wal

import (
	"context"
	"sync"

	"github.com/sharedcode/kvtxn"
)

// Memory is the in-memory TransactionLog used by IN_MEMORY environments
// (§6.2): it keeps the same record stream as File but never touches disk,
// so Replay after a process restart naturally sees nothing.
type Memory struct {
	mu      sync.Mutex
	records []kvtxn.LogRecord
}

// NewMemory creates an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// AppendBegin implements kvtxn.TransactionLog.
func (m *Memory) AppendBegin(ctx context.Context, lsn, txnID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, kvtxn.LogRecord{LSN: lsn, TxnID: txnID, Kind: kvtxn.LogBegin})
	return nil
}

// AppendOp implements kvtxn.TransactionLog.
func (m *Memory) AppendOp(ctx context.Context, lsn, txnID uint64, dbName uint16, kind kvtxn.OpKind, key, record []byte, flags uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, kvtxn.LogRecord{
		LSN: lsn, TxnID: txnID, Kind: kvtxn.LogOp, DBName: dbName,
		OpKind: kind, Key: cloneBytes(key), Record: cloneBytes(record), OpFlags: flags,
	})
	return nil
}

// AppendCommit implements kvtxn.TransactionLog.
func (m *Memory) AppendCommit(ctx context.Context, lsn, txnID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, kvtxn.LogRecord{LSN: lsn, TxnID: txnID, Kind: kvtxn.LogCommit})
	return nil
}

// AppendAbort implements kvtxn.TransactionLog.
func (m *Memory) AppendAbort(ctx context.Context, lsn, txnID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, kvtxn.LogRecord{LSN: lsn, TxnID: txnID, Kind: kvtxn.LogAbort})
	return nil
}

// Checkpoint implements kvtxn.TransactionLog, dropping every record at or
// before lsn since it is now redundant with the base tree.
func (m *Memory) Checkpoint(ctx context.Context, lsn uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	for _, r := range m.records {
		if r.LSN > lsn {
			kept = append(kept, r)
		}
	}
	m.records = kept
	return nil
}

// Replay implements kvtxn.TransactionLog.
func (m *Memory) Replay(ctx context.Context, f func(kvtxn.LogRecord) error) error {
	m.mu.Lock()
	records := make([]kvtxn.LogRecord, len(m.records))
	copy(records, m.records)
	m.mu.Unlock()
	for _, r := range records {
		if err := f(r); err != nil {
			return err
		}
	}
	return nil
}

// Close implements kvtxn.TransactionLog. Memory owns no external resources.
func (m *Memory) Close() error {
	return nil
}
