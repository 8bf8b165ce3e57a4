package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

type record struct {
	store   Store
	modtime time.Time
}

type recordJSON struct {
	Store   Store     `json:"store"`
	ModTime time.Time `json:"modtime"`
}

func encodeRecord(r record) []byte {
	data, _ := json.Marshal(recordJSON{Store: r.store, ModTime: r.modtime})
	return data
}

func decodeRecord(data []byte) (record, error) {
	var rj recordJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return record{}, err
	}
	return record{store: rj.Store, modtime: rj.ModTime}, nil
}

// EnsureDirForFile makes sure the parent directory of path exists.
func EnsureDirForFile(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}
