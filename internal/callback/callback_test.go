package callback

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-ratecache/internal/apperror"
)

type fakeResponse struct {
	Status int
}

func TestRunCollectsReturnValuesInOrder(t *testing.T) {
	p := New(
		func(r *fakeResponse) (any, error) { return r.Status, nil },
		func(r *fakeResponse) (any, error) { return "second", nil },
	)
	results := p.Run(&fakeResponse{Status: 200}, true)
	require.Len(t, results, 2)
	assert.Equal(t, 200, results[0])
	assert.Equal(t, "second", results[1])
}

func TestRunDiscardsResultsWhenNotCollecting(t *testing.T) {
	called := 0
	p := New(func(r *fakeResponse) (any, error) { called++; return "ignored", nil })
	results := p.Run(&fakeResponse{}, false)
	assert.Nil(t, results)
	assert.Equal(t, 1, called)
}

func TestRunWrapsErrorAndContinues(t *testing.T) {
	secondCalled := false
	p := New(
		func(r *fakeResponse) (any, error) { return nil, errors.New("boom") },
		func(r *fakeResponse) (any, error) { secondCalled = true; return "ok", nil },
	)
	results := p.Run(&fakeResponse{}, true)
	require.Len(t, results, 2)
	var cbErr *apperror.CallbackError
	require.ErrorAs(t, results[0].(error), &cbErr)
	assert.True(t, secondCalled, "a failing callback must not abort the pipeline")
}

func TestRunWrapsPanicAndContinues(t *testing.T) {
	secondCalled := false
	p := New(
		func(r *fakeResponse) (any, error) { panic("kaboom") },
		func(r *fakeResponse) (any, error) { secondCalled = true; return "ok", nil },
	)
	results := p.Run(&fakeResponse{}, true)
	require.Len(t, results, 2)
	var cbErr *apperror.CallbackError
	require.ErrorAs(t, results[0].(error), &cbErr)
	assert.True(t, secondCalled)
}
