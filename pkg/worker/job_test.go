package worker

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewJob(t *testing.T) {
	called := false
	job := NewJob(func(ctx context.Context) error {
		called = true
		return nil
	})

	assert.NotEmpty(t, job.ID())

	err := job.Execute(context.Background())
	assert.NoError(t, err)
	assert.True(t, called)
}

func TestNewJob_UniqueIDs(t *testing.T) {
	a := NewJob(func(ctx context.Context) error { return nil })
	b := NewJob(func(ctx context.Context) error { return nil })

	assert.NotEqual(t, a.ID(), b.ID())
}

func TestNewJobWithID(t *testing.T) {
	job := NewJobWithID("conn-42", func(ctx context.Context) error {
		return nil
	})

	assert.Equal(t, "conn-42", job.ID())
}

func TestFunc(t *testing.T) {
	var ran int
	job := Func(func() { ran++ })

	assert.NoError(t, job.Execute(context.Background()))
	assert.Equal(t, 1, ran)
}

func TestBasicJob_Execute(t *testing.T) {
	tests := []struct {
		name        string
		fn          func(ctx context.Context) error
		expectError bool
	}{
		{
			name: "successful execution",
			fn: func(ctx context.Context) error {
				return nil
			},
			expectError: false,
		},
		{
			name: "failed execution",
			fn: func(ctx context.Context) error {
				return fmt.Errorf("job failed")
			},
			expectError: true,
		},
		{
			name:        "nil function",
			fn:          nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewJobWithID("job", tt.fn)
			err := job.Execute(context.Background())
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWorkerIDFromContext(t *testing.T) {
	_, ok := WorkerIDFromContext(context.Background())
	assert.False(t, ok)

	id, ok := WorkerIDFromContext(withWorkerID(context.Background(), 3))
	assert.True(t, ok)
	assert.Equal(t, 3, id)
}
