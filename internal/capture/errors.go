package capture

import "errors"

// Error categories. Concrete errors wrap one of these so callers can use errors.Is.
var (
	ErrInvalidURL    = errors.New("invalid url")
	ErrInvalidDevice = errors.New("invalid device type")
	ErrNavigation    = errors.New("navigation failed")
	ErrCapture       = errors.New("capture failed")
	ErrSession       = errors.New("browser session unavailable")
	ErrStore         = errors.New("job store failure")
)
