package jsonfile

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Load reads a JSON file into T. A missing file is reported as
// os.ErrNotExist so callers can start from an empty value.
func Load[T any](path string) (T, error) {
	var out T

	raw, err := os.ReadFile(path)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(raw, &out)
	if err != nil {
		return out, err
	}
	return out, nil
}

// Save writes v as indented JSON atomically: the contents go to a temp
// file in the same directory which is then renamed over the target, so
// a concurrently-running reader never observes a partial write.
func Save[T any](path string, v T) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	err = os.MkdirAll(dir, 0o755)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(append(raw, '\n'))
	if err != nil {
		tmp.Close()
		return err
	}
	err = tmp.Close()
	if err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
