package stats

import "github.com/stretchr/testify/mock"

type MockStatsUpdater struct {
	mock.Mock
}

func (m *MockStatsUpdater) Incr(name string) {
	m.Called(name)
}
func (m *MockStatsUpdater) Decr(name string) {
	m.Called(name)
}
func (m *MockStatsUpdater) RegisterMetric(name string) {
	m.Called(name)
}
func (m *MockStatsUpdater) Run() {
	m.Called()
}

// AllowAll accepts any counter update. Used by tests that do not assert on
// metrics.
func (m *MockStatsUpdater) AllowAll() *MockStatsUpdater {
	m.On("Incr", mock.Anything).Maybe()
	m.On("Decr", mock.Anything).Maybe()
	m.On("RegisterMetric", mock.Anything).Maybe()
	return m
}
