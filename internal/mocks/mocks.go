// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/restfuzz/api/schemas"
	"github.com/xkilldash9x/restfuzz/internal/config"
)

// -- Config Mock --

// MockConfig is a mock implementation of config.Interface.
type MockConfig struct {
	mock.Mock
}

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) Network() config.NetworkConfig {
	args := m.Called()
	return args.Get(0).(config.NetworkConfig)
}

func (m *MockConfig) Auth() config.AuthConfig {
	args := m.Called()
	return args.Get(0).(config.AuthConfig)
}

func (m *MockConfig) Grammar() config.GrammarConfig {
	args := m.Called()
	return args.Get(0).(config.GrammarConfig)
}

// -- Transport Mock --

// MockTransport is a mock of the engine's Transport.
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Send(ctx context.Context, raw []byte) (*schemas.Response, error) {
	args := m.Called(ctx, raw)
	var resp *schemas.Response
	if r := args.Get(0); r != nil {
		resp = r.(*schemas.Response)
	}
	return resp, args.Error(1)
}

// -- Reporter Mock --

// MockReporter is a mock of the engine's Reporter. It also keeps every
// reported record so tests can assert on content without matchers.
type MockReporter struct {
	mock.Mock

	mu        sync.Mutex
	Requests  []schemas.RequestResult
	Sequences []schemas.SequenceResult
}

func (m *MockReporter) ReportRequest(ctx context.Context, r schemas.RequestResult) error {
	m.mu.Lock()
	m.Requests = append(m.Requests, r)
	m.mu.Unlock()
	return m.Called(ctx, r).Error(0)
}

func (m *MockReporter) ReportSequence(ctx context.Context, r schemas.SequenceResult) error {
	m.mu.Lock()
	m.Sequences = append(m.Sequences, r)
	m.mu.Unlock()
	return m.Called(ctx, r).Error(0)
}

// -- Credential Mocks --

// MockProvider is a mock of auth.Provider.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Refresh(ctx context.Context, tag string) (string, error) {
	args := m.Called(ctx, tag)
	return args.String(0), args.Error(1)
}

// MockInvalidator records credential invalidations.
type MockInvalidator struct {
	mock.Mock
}

func (m *MockInvalidator) Invalidate(tag string) { m.Called(tag) }
