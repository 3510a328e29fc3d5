package developer

import "context"

// MockDeveloper is a func-field test double for Developer, following
// the teacher's mock-client convention (e.g. services.MockCodexClient):
// every method delegates to an optional func field, falling back to a
// harmless default when unset.
type MockDeveloper struct {
	RunFunc func(ctx context.Context, req Request) (*Output, error)
}

func (m *MockDeveloper) Run(ctx context.Context, req Request) (*Output, error) {
	if m.RunFunc != nil {
		return m.RunFunc(ctx, req)
	}
	return &Output{RawTranscript: "mock run for " + req.WorkspaceDir}, nil
}

func (m *MockDeveloper) Kind() string { return "mock" }
