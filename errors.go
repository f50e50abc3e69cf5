package searchit

import "fmt"

// ErrHTTP is a non-2xx response from a backend or model endpoint.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrDimensionMismatch is a fatal configuration fault: the configured
// embedding dimension does not match the vector backend's collection.
type ErrDimensionMismatch struct {
	Want int
	Got  int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: collection has %d, configured %d", e.Got, e.Want)
}
