package firmware

import "fmt"

// InvalidResponseError reports a device document that could not be turned
// into a Descriptor: the request failed, or the body lacked the expected fields.
type InvalidResponseError struct {
	Identifier string // Device identifier that was checked
	Reason     string // Human-readable explanation
	Err        error  // Underlying error, if any
}

func (e *InvalidResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unable to get details for %s: %s: %v", e.Identifier, e.Reason, e.Err)
	}

	return fmt.Sprintf("unable to get details for %s: %s", e.Identifier, e.Reason)
}

func (e *InvalidResponseError) Unwrap() error {
	return e.Err
}
