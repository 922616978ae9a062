package frame

import "time"

// Received is a decoded frame as handed to listeners. It is shared between
// every listener that matches it and must not be modified.
type Received struct {
	Frame *Frame
	// TokenCounter is the controller's token count when the frame arrived.
	TokenCounter int
	At           time.Time
}
