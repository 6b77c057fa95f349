package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockImageRehoster is a mock implementation of the image re-hosting service
type MockImageRehoster struct {
	mock.Mock
}

func (m *MockImageRehoster) Rehost(ctx context.Context, sourceURL, requestID string, stepIndex int) (string, error) {
	args := m.Called(ctx, sourceURL, requestID, stepIndex)
	return args.String(0), args.Error(1)
}

// MockObjectUploader is a mock implementation of object storage
type MockObjectUploader struct {
	mock.Mock
}

func (m *MockObjectUploader) UploadObject(ctx context.Context, data []byte, path, contentType string) (string, error) {
	args := m.Called(ctx, data, path, contentType)
	return args.String(0), args.Error(1)
}
