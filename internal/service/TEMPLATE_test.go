// This file is a documentation template and should not be compiled.
// It uses placeholder types (ExampleService, exampleCache, etc.) that don't exist.
// Use this as a reference when writing tests for services.
//
//go:build ignore

package service

// TEMPLATE_test.go - Service Testing Pattern Examples
//
// This file demonstrates standard testing patterns for services.
// Use these patterns when writing tests for new services.

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftmill/draftmill/internal/core"
)

// ═══════════════════════════════════════════════════════════════════════════
// PATTERN 1: Hand-Rolled Fakes
// ═══════════════════════════════════════════════════════════════════════════

// Fakes are plain structs implementing the port interface. Behavior is
// injected through function fields; call history is recorded under a mutex
// so concurrent service code can be asserted on safely.

type fakeExampleBackend struct {
	mu       sync.Mutex
	prompts  []string
	generate func(req core.GenerateRequest) (*core.GenerateResult, error)
}

func (f *fakeExampleBackend) Generate(_ context.Context, req core.GenerateRequest) (*core.GenerateResult, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()

	if f.generate != nil {
		return f.generate(req)
	}
	return &core.GenerateResult{Text: "stub response"}, nil
}

func (f *fakeExampleBackend) GenerateImage(_ context.Context, _ string) (string, error) {
	return "https://example.test/image.png", nil
}

// ═══════════════════════════════════════════════════════════════════════════
// PATTERN 2: Constructor Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestNewExampleServiceRequiresBackend(t *testing.T) {
	_, err := NewExampleService(ExampleServiceOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GenerationBackend is required")

	// The Must variant panics on the same input.
	assert.Panics(t, func() {
		MustNewExampleService(ExampleServiceOptions{})
	})
}

func TestNewExampleServiceDefaultsConfig(t *testing.T) {
	svc, err := NewExampleService(ExampleServiceOptions{
		Backend: &fakeExampleBackend{},
		Config:  ExampleConfig{MaxAttempts: 0}, // zero value takes defaults
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultExampleConfig().MaxAttempts, svc.cfg.MaxAttempts)
}

// ═══════════════════════════════════════════════════════════════════════════
// PATTERN 3: Success and Error Paths
// ═══════════════════════════════════════════════════════════════════════════

func TestExampleServiceProcess(t *testing.T) {
	backend := &fakeExampleBackend{
		generate: func(_ core.GenerateRequest) (*core.GenerateResult, error) {
			return &core.GenerateResult{Text: "generated body"}, nil
		},
	}
	svc := MustNewExampleService(ExampleServiceOptions{Backend: backend})

	got, err := svc.Process(context.Background(), "Kubernetes operators")

	require.NoError(t, err)
	assert.Equal(t, "generated body", got.Content)
	assert.Len(t, backend.prompts, 1)
}

func TestExampleServiceProcessBackendError(t *testing.T) {
	backendErr := errors.New("backend unavailable")
	backend := &fakeExampleBackend{
		generate: func(_ core.GenerateRequest) (*core.GenerateResult, error) {
			return nil, backendErr
		},
	}
	svc := MustNewExampleService(ExampleServiceOptions{Backend: backend})

	got, err := svc.Process(context.Background(), "Kubernetes operators")

	require.Error(t, err)
	assert.Nil(t, got)
	// Verify the wrap: callers match on the cause, logs carry the operation.
	assert.ErrorIs(t, err, backendErr)
	assert.Contains(t, err.Error(), "generate example content")
}

// ═══════════════════════════════════════════════════════════════════════════
// PATTERN 4: Table-Driven Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestExampleConfigDefaults(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
		want        int
	}{
		{name: "zero takes default", maxAttempts: 0, want: 3},
		{name: "negative takes default", maxAttempts: -1, want: 3},
		{name: "valid passes through", maxAttempts: 7, want: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewExampleService(ExampleServiceOptions{
				Backend: &fakeExampleBackend{},
				Config:  ExampleConfig{MaxAttempts: tt.maxAttempts},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, svc.cfg.MaxAttempts)
		})
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// NOTES FOR TEST WRITING
// ═══════════════════════════════════════════════════════════════════════════
//
// Best Practices:
// 1. Fake ports with hand-rolled structs; inject behavior through function fields
// 2. Guard recorded state with a mutex when the service runs goroutines
// 3. Use testify/require for assertions that should stop the test
// 4. Use testify/assert for assertions that should continue
// 5. Test both success and error cases, including context cancellation
// 6. Use table-driven tests for multiple similar cases
// 7. Verify error wrapping with assert.ErrorIs plus a Contains on the operation
// 8. Synchronize with channels, never with sleeps, when asserting on goroutines
// 9. Keep tests focused (one behavior per test)
//
// Redis-Backed Tests:
// - Use testutil.SetupTestRedis(t) for a real Redis connection
// - The helper skips the test when no local Redis answers, unless
//   TEST_REQUIRE_REDIS is set
// - Each test run gets an isolated database that is flushed on cleanup
