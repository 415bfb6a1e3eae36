package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCombineResultsTakesTheWorst(t *testing.T) {
	assert.Equal(t, ResultNone, CombineResults())
	assert.Equal(t, ResultOK, CombineResults(ResultOK, ResultOK))
	assert.Equal(t, ResultWarning, CombineResults(ResultOK, ResultWarning))
	assert.Equal(t, ResultInspect, CombineResults(ResultWarning, ResultInspect))

	// A cancellation outranks success but never masks a failure.
	assert.Equal(t, ResultCancelled, CombineResults(ResultOK, ResultCancelled))
	assert.Equal(t, ResultError, CombineResults(ResultCancelled, ResultError))
}

func TestParseResult(t *testing.T) {
	r, ok := ParseResult("warning")
	assert.True(t, ok)
	assert.Equal(t, ResultWarning, r)

	_, ok = ParseResult("fine")
	assert.False(t, ok)
	_, ok = ParseResult("")
	assert.False(t, ok)
}

func TestTerminal(t *testing.T) {
	assert.False(t, ResultNone.Terminal())
	assert.True(t, ResultCancelled.Terminal())
	assert.True(t, ResultOK.Terminal())
}
