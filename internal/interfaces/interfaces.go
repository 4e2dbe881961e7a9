// Package interfaces defines the shared types that flow between the
// frontend dispatch layer, the workflow engine, and the backend
// handlers. Keeping them here avoids import cycles between those
// packages and gives the workflow engine a narrow, mockable contract.
package interfaces

import (
	"context"
	"errors"
)

// Message is a single chat message in dialect-neutral form. The pseudo
// role "images" carries an image reference lifted out of a frontend
// request; backend handlers that support images attach it to the payload
// in their own dialect.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RoleImages is the pseudo-role used for lifted image attachments.
const RoleImages = "images"

// StreamChunk is the dialect-neutral unit flowing from a backend handler
// to the stream transformer: a token (possibly empty) and an optional
// finish reason. FinishReason "stop" terminates the stream.
type StreamChunk struct {
	Token        string
	FinishReason string
}

// Done reports whether this chunk terminates the stream.
func (c StreamChunk) Done() bool {
	return c.FinishReason == "stop"
}

// Request is the request-scoped state minted by the frontend dispatcher
// and plumbed through the workflow engine. The workflow override lives
// here rather than in any process-wide variable, so the streaming writer
// goroutine reads it race-free.
type Request struct {
	// ID is the unique request identifier, minted on intake and echoed
	// in every emitted frame and log line.
	ID string

	// APIKind is one of the constant.* frontend API kinds.
	APIKind string

	// Model is the client-supplied model field, verbatim.
	Model string

	// WorkflowOverride names a shared workflow to execute directly,
	// bypassing routing. Empty means the user's default workflow.
	WorkflowOverride string

	// Stream indicates whether the client requested a streaming response.
	Stream bool

	// Messages is the normalized message list, including images
	// pseudo-role entries.
	Messages []Message
}

// WorkflowRunner is the collaborator contract between the frontend
// dispatcher and the workflow engine. For streaming runs the returned
// channel yields already-framed wire strings; the dispatcher forwards
// the bytes as-is and never inspects item shapes.
type WorkflowRunner interface {
	// Run executes the workflow for a non-streaming request and returns
	// the completed response text.
	Run(ctx context.Context, req *Request) (string, error)

	// RunStream executes the workflow for a streaming request. Framed
	// output arrives on the first channel; a terminal error, if any, on
	// the second. Both channels are closed when the run ends.
	RunStream(ctx context.Context, req *Request) (<-chan []byte, <-chan error)

	// HasWorkflow reports whether a shared workflow with the given name
	// exists for the active user.
	HasWorkflow(name string) bool

	// Workflows lists the shared workflow names available for model
	// listings, in stable order.
	Workflows() []string
}

// ErrorMessage couples an HTTP status code with an error for
// propagation from backend calls to frontend handlers.
type ErrorMessage struct {
	StatusCode int
	Err        error
}

func (e *ErrorMessage) Error() string {
	return e.Err.Error()
}

func (e *ErrorMessage) Unwrap() error {
	return e.Err
}

// StatusCodeOf extracts the upstream status carried by err, defaulting
// to 500 for plain errors.
func StatusCodeOf(err error) int {
	var em *ErrorMessage
	if errors.As(err, &em) {
		return em.StatusCode
	}
	return 500
}
