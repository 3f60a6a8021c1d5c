package llm

import "context"

// MockClient echoes a canned reply; used when no API key is configured and
// by tests.
type MockClient struct {
	Reply string
	Err   error
	Calls []Request
}

func (m *MockClient) Complete(_ context.Context, req Request) (string, error) {
	m.Calls = append(m.Calls, req)
	if m.Err != nil {
		return "", m.Err
	}
	if m.Reply != "" {
		return m.Reply, nil
	}
	return "Stay hard.", nil
}
