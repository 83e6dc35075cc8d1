package fakeclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// tables persists each table as <dir>/<name>.json so separate client processes see
// one database.
type tables struct {
	dir string
}

func (t tables) path(name string) string {
	return filepath.Join(t.dir, name+".json")
}

func (t tables) create(name string) error {
	f, err := os.OpenFile(t.path(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("relation %q already exists", name)
		}
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = f.WriteString("[]\n")
	return err
}

func (t tables) drop(name string) error {
	if err := os.Remove(t.path(name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("table %q does not exist", name)
		}
		return err
	}
	return nil
}

func (t tables) rows(name string) ([]Row, error) {
	raw, err := os.ReadFile(t.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("relation %q does not exist", name)
		}
		return nil, err
	}
	var rows []Row
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (t tables) insert(name string, add []Row) error {
	rows, err := t.rows(name)
	if err != nil {
		return err
	}
	rows = append(rows, add...)
	raw, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return os.WriteFile(t.path(name), raw, 0o644)
}
