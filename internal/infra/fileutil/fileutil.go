// Package fileutil holds the atomic file writes shared by the JSON stores
// and the alert mailbox.
package fileutil

import (
	"encoding/json"
	"os"

	"vigil/internal/domain"
)

// WriteAtomic writes data to a sibling temp file and renames it over path,
// so readers see either the old or the new content.
func WriteAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return domain.WrapOp("write", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return domain.WrapOp("rename", err)
	}
	return nil
}

// WriteJSON atomically writes v as indented JSON to path.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return domain.WrapOp("marshal", err)
	}
	return WriteAtomic(path, data)
}
