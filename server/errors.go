package server

import "errors"

// Error taxonomy. Resolve/transform failures are reported to the
// requester and mirrored onto the HMR channel as an "error" payload;
// optimize/IO failures are locally recoverable and only logged; a
// startup configuration failure is the only fatal class.
var (
	ErrResolveFailed   = errors.New("resolve failed")
	ErrTransformFailed = errors.New("transform failed")
	ErrOptimizeFailed  = errors.New("optimize failed")

	errParseFailed = errors.New("invalid syntax, require javascript/typescript")
)

// PipelineError wraps an error from one of the three recoverable classes
// with the URL that triggered it, so the HTTP handler and the HMR error
// payload can both describe the same failure.
type PipelineError struct {
	Kind error
	URL  string
	Err  error
}

func (e *PipelineError) Error() string {
	return "<400> " + e.Kind.Error() + " (" + e.URL + "): " + e.Err.Error()
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func newResolveError(url string, err error) error {
	return &PipelineError{Kind: ErrResolveFailed, URL: url, Err: err}
}

func newTransformError(url string, err error) error {
	return &PipelineError{Kind: ErrTransformFailed, URL: url, Err: err}
}

func newOptimizeError(specifier string, err error) error {
	return &PipelineError{Kind: ErrOptimizeFailed, URL: specifier, Err: err}
}
