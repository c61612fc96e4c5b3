package ledger

import (
	"encoding/binary"
	"path/filepath"

	dbm "github.com/cometbft/cometbft-db"
)

// Index is a per-task "last entry mentioning this task" accelerator over the
// append-only ledger log. It is rebuildable from ledger.jsonl at any time
// and is never the source of truth — only the log is authoritative.
type Index struct {
	db dbm.DB
}

const indexDirName = "quasi-index"

// OpenIndex opens (creating if absent) the GoLevelDB-backed index directory
// under dataDir.
func OpenIndex(dataDir string) (*Index, error) {
	db, err := dbm.NewGoLevelDB(indexDirName, dataDir)
	if err != nil {
		return nil, err
	}
	return &Index{db: db}, nil
}

func taskIndexKey(taskID string) []byte {
	return append([]byte("task:"), taskID...)
}

// LastEntryForTask returns the id of the most recent entry mentioning
// taskID, if any.
func (idx *Index) LastEntryForTask(taskID string) (id int64, ok bool, err error) {
	v, err := idx.db.Get(taskIndexKey(taskID))
	if err != nil {
		return 0, false, err
	}
	if v == nil {
		return 0, false, nil
	}
	return int64(binary.BigEndian.Uint64(v)), true, nil
}

// SetLastEntryForTask records id as the most recent entry mentioning taskID.
func (idx *Index) SetLastEntryForTask(taskID string, id int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return idx.db.SetSync(taskIndexKey(taskID), buf)
}

// Rebuild repopulates the index from a full in-order entry list, overwriting
// any existing content. Later entries overwrite earlier ones for the same
// task, so the final state always reflects the newest mention.
func (idx *Index) Rebuild(entries []Entry) error {
	for _, e := range entries {
		if e.Type == EntryGenesis {
			continue
		}
		if err := idx.SetLastEntryForTask(e.Task, e.ID); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error { return idx.db.Close() }

// indexPath returns the on-disk location of the index directory. Nothing in
// the module calls it; /health does not report it.
func indexPath(dataDir string) string { return filepath.Join(dataDir, indexDirName) }
