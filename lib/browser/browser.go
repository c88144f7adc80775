// Package browser abstracts the headless-browser session used to render
// pages whose content is filled in by javascript after load.
package browser

import "context"

type Browser interface {
	// Open starts a fresh session. The context bounds the lifetime of
	// the whole session, not just the call.
	Open(ctx context.Context) (Session, error)
}

// Session is one rendered browser tab. Implementations must make Close
// safe to call on every exit path, including after earlier failures.
type Session interface {
	Navigate(url string) error
	// Ready reports whether the document has finished loading.
	Ready() (bool, error)
	// HTML returns the outer html of the main document.
	HTML() (string, error)
	// Text returns the visible text of the main document.
	Text() (string, error)
	// Frames returns the rendered document of every embedded iframe.
	// Cross-origin frames come back as empty strings.
	Frames() ([]string, error)
	Close() error
}
