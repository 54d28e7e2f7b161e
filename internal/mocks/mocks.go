// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/humanrelay/internal/detection"
)

// -- Bridge Mock --

// MockBridge mocks bridge.Bridge.
type MockBridge struct {
	mock.Mock
}

func (m *MockBridge) Focus(ctx context.Context, title string) error {
	return m.Called(ctx, title).Error(0)
}

func (m *MockBridge) Click(ctx context.Context, p detection.Point) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockBridge) MoveTo(ctx context.Context, p detection.Point) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockBridge) TypeText(ctx context.Context, s string) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockBridge) Hotkey(ctx context.Context, keys ...string) error {
	return m.Called(ctx, keys).Error(0)
}

func (m *MockBridge) ReadClipboard(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockBridge) WriteClipboard(ctx context.Context, s string) error {
	return m.Called(ctx, s).Error(0)
}

// -- Browser Adapter Mock --

// MockAdapter mocks browser.Adapter.
type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) Start(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *MockAdapter) PasteAndRun(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

func (m *MockAdapter) ExtractResponse(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockAdapter) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }

// -- Notifier Mock --

// MockNotifier mocks notify.Notifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, title, message string) error {
	return m.Called(ctx, title, message).Error(0)
}

// -- Detector Mock --

// MockDetector mocks the detector consumed by the workflow engine.
type MockDetector struct {
	mock.Mock
}

func (m *MockDetector) Detect(ctx context.Context, target detection.Target, timeout, pollInterval time.Duration) (detection.Result, error) {
	args := m.Called(ctx, target, timeout, pollInterval)
	return args.Get(0).(detection.Result), args.Error(1)
}
