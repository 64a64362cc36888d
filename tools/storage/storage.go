package storage

import (
	"context"
	"errors"
)

// MealState loads the stored meal records that update requests are matched against.
type MealState interface {
	Load(ctx context.Context) ([]byte, error)
}

// TestMealState is a simple in-memory implementation for testing
type TestMealState struct {
	data []byte
	err  error
}

func NewTestMealState(data []byte) *TestMealState {
	return &TestMealState{data: data}
}

func NewTestMealStateWithError() *TestMealState {
	return &TestMealState{err: errors.New("not found")}
}

func (t *TestMealState) Load(ctx context.Context) ([]byte, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.data, nil
}
