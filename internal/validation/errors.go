package validation

import "fmt"

// SpecFetchError reports a failure to retrieve an API specification.
type SpecFetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *SpecFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to fetch spec from %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("failed to fetch spec from %s: status %d", e.URL, e.StatusCode)
}

func (e *SpecFetchError) Unwrap() error { return e.Err }

// SpecParseError reports an unparsable or structurally invalid specification.
type SpecParseError struct {
	ApiType string
	Err     error
}

func (e *SpecParseError) Error() string {
	return fmt.Sprintf("invalid %s spec: %v", e.ApiType, e.Err)
}

func (e *SpecParseError) Unwrap() error { return e.Err }

// ProbeError reports an unreachable upstream API.
type ProbeError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *ProbeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s unreachable: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("upstream %s returned status %d", e.URL, e.StatusCode)
}

func (e *ProbeError) Unwrap() error { return e.Err }
