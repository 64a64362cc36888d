package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileMealState(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name     string
		filename string
		data     []byte
	}{
		{
			name:     "meals file",
			filename: "meals.json",
			data:     []byte(`{"foods": [{"id": "1", "name": "apple", "user_id": "u1"}]}`),
		},
		{
			name:     "empty meals file",
			filename: "empty.json",
			data:     []byte(`{"foods": []}`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filePath := filepath.Join(tmpDir, tt.filename)
			require.NoError(t, os.WriteFile(filePath, tt.data, 0644))

			loaded, err := NewFileMealState(filePath).Load(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.data, loaded)
		})
	}

	t.Run("missing file loads as empty", func(t *testing.T) {
		loaded, err := NewFileMealState(filepath.Join(tmpDir, "nonexistent.json")).Load(context.Background())
		require.NoError(t, err)
		assert.JSONEq(t, `{"foods": []}`, string(loaded))
	})

	t.Run("unreadable path errors", func(t *testing.T) {
		_, err := NewFileMealState(tmpDir).Load(context.Background())
		assert.Error(t, err)
	})
}

func TestTestMealState(t *testing.T) {
	data, err := NewTestMealState([]byte("x")).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)

	_, err = NewTestMealStateWithError().Load(context.Background())
	assert.Error(t, err)
}
