package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/pipeline"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/queue"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

// MockJobQueue is a mock implementation of the job queue
type MockJobQueue struct {
	mock.Mock
}

func (m *MockJobQueue) Enqueue(ctx context.Context, req *types.GenerationRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *MockJobQueue) Get(ctx context.Context, id string) (*queue.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Job), args.Error(1)
}

func (m *MockJobQueue) MarkCancelled(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobQueue) RemoveIfPending(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobQueue) Counts(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

func (m *MockJobQueue) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockJobQueue) Active(ctx context.Context, staleAfter time.Duration) (bool, error) {
	args := m.Called(ctx, staleAfter)
	return args.Bool(0), args.Error(1)
}

// MockRunner is a mock implementation of the generation orchestrator
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, req *types.GenerationRequest, cancel pipeline.CancellationSource) (*types.GenerationResult, error) {
	args := m.Called(ctx, req, cancel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.GenerationResult), args.Error(1)
}
