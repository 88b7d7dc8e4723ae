package summarizer

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockSummarizer struct {
	mock.Mock
}

func (m *MockSummarizer) Summarize(ctx context.Context, documentId string, content []byte) (string, error) {
	args := m.Called(ctx, documentId, content)
	return args.String(0), args.Error(1)
}
