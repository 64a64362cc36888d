package storage

import (
	"context"
	"errors"
	"os"
)

type FileMealState struct {
	FilePath string
}

func NewFileMealState(filePath string) *FileMealState {
	return &FileMealState{FilePath: filePath}
}

// Load returns an empty meal list when the file does not exist yet.
func (m *FileMealState) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(m.FilePath)
	if errors.Is(err, os.ErrNotExist) {
		return []byte(`{"foods": []}`), nil
	}
	return data, err
}
