package server

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipelineErrorMessageAndUnwrap(t *testing.T) {
	inner := errors.New("unexpected token")
	err := newTransformError("/src/app.tsx", inner)

	assert.Equal(t, "<400> transform failed (/src/app.tsx): unexpected token", err.Error())
	assert.ErrorIs(t, err, inner)

	var pe *PipelineError
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrTransformFailed, pe.Kind)
}

func TestNewResolveAndOptimizeErrorsCarryKind(t *testing.T) {
	inner := errors.New("no such module")

	resolveErr := newResolveError("lodash", inner)
	var pe *PipelineError
	assert.ErrorAs(t, resolveErr, &pe)
	assert.Equal(t, ErrResolveFailed, pe.Kind)
	assert.Equal(t, "lodash", pe.URL)

	optimizeErr := newOptimizeError("react-dom", inner)
	assert.ErrorAs(t, optimizeErr, &pe)
	assert.Equal(t, ErrOptimizeFailed, pe.Kind)
}
