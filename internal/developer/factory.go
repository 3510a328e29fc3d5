package developer

import (
	"fmt"
	"time"
)

// NewDeveloper validates and constructs the Developer backend named by
// kind, per spec section 4.10.
func NewDeveloper(kind string, timeout time.Duration) (Developer, error) {
	switch kind {
	case "claude", "gemini":
		return NewCLIDeveloper(kind, timeout)
	case "mock":
		return &MockDeveloper{}, nil
	default:
		return nil, fmt.Errorf("unsupported developer type: %s (supported: claude, gemini, mock)", kind)
	}
}
