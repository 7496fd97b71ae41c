package selection

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"examcal/internal/fsutil"
	"examcal/internal/model"
)

const fileFormatVersion = 1

// fileState is the on-disk JSON document: every token with its ids.
type fileState struct {
	Version    int              `json:"version"`
	Selections map[string][]int `json:"selections"`
}

// FileStore keeps the whole store in one JSON file. Every operation reads
// the file, and every mutation rewrites it atomically.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// OpenFile prepares a FileStore at path, creating an empty store file if
// none exists.
func OpenFile(path string) (*FileStore, error) {
	if path == "" {
		return nil, model.NewStorageError("open", errors.New("store path is empty"))
	}
	s := &FileStore{path: path}

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, model.NewStorageError("open", err)
		}
		if err := s.write(newFileState()); err != nil {
			return nil, model.NewStorageError("open", err)
		}
	}
	if _, err := s.read(); err != nil {
		return nil, model.NewStorageError("open", err)
	}
	return s, nil
}

func newFileState() *fileState {
	return &fileState{Version: fileFormatVersion, Selections: make(map[string][]int)}
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) LoadOrCreate(token model.Token) (*model.UserSelection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.read()
	if err != nil {
		return nil, model.NewStorageError("load", err)
	}
	key := token.String()
	if _, ok := st.Selections[key]; !ok {
		st.Selections[key] = []int{}
		if err := s.write(st); err != nil {
			return nil, model.NewStorageError("load", err)
		}
	}
	return toSelection(token, st.Selections[key]), nil
}

func (s *FileStore) Get(token model.Token) (*model.UserSelection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.read()
	if err != nil {
		return nil, model.NewStorageError("get", err)
	}
	ids, ok := st.Selections[token.String()]
	if !ok {
		return nil, notFound(token)
	}
	return toSelection(token, ids), nil
}

func (s *FileStore) Add(token model.Token, examID int) error {
	return s.mutate("add", token, func(sel *model.UserSelection) { sel.Add(examID) })
}

func (s *FileStore) Remove(token model.Token, examID int) error {
	return s.mutate("remove", token, func(sel *model.UserSelection) { sel.Remove(examID) })
}

func (s *FileStore) Replace(token model.Token, ids []int) error {
	return s.mutate("replace", token, func(sel *model.UserSelection) {
		clear(sel.IDs)
		for _, id := range ids {
			sel.Add(id)
		}
	})
}

func (s *FileStore) Count(token model.Token) (int, error) {
	sel, err := s.Get(token)
	if errors.Is(err, model.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return sel.Count(), nil
}

func (s *FileStore) mutate(op string, token model.Token, fn func(*model.UserSelection)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.read()
	if err != nil {
		return model.NewStorageError(op, err)
	}
	key := token.String()
	sel := toSelection(token, st.Selections[key])
	fn(sel)
	st.Selections[key] = sel.SortedIDs()

	if err := s.write(st); err != nil {
		return model.NewStorageError(op, err)
	}
	return nil
}

func (s *FileStore) read() (*fileState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	st := newFileState()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	if st.Version != fileFormatVersion {
		return nil, fmt.Errorf("%s: unsupported store version %d", s.path, st.Version)
	}
	if st.Selections == nil {
		st.Selections = make(map[string][]int)
	}
	return st, nil
}

func (s *FileStore) write(st *fileState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(s.path, data, 0o600)
}

func toSelection(token model.Token, ids []int) *model.UserSelection {
	sel := model.NewSelection(token)
	for _, id := range ids {
		sel.Add(id)
	}
	return sel
}
