package cli

import (
	"fmt"
	"io"

	"github.com/sage3/foresight/errors"
)

// ErrorHandler provides user-friendly error messages
type ErrorHandler struct {
	Verbose bool
	Out     io.Writer
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(out io.Writer, verbose bool) *ErrorHandler {
	return &ErrorHandler{
		Verbose: verbose,
		Out:     out,
	}
}

// Handle prints a message for err tailored to its code and returns err.
func (h *ErrorHandler) Handle(err error) error {
	prefix := errorStyle.Render("Error:")

	switch errors.GetCode(err) {
	case errors.ErrCodeConfigNotFound:
		fmt.Fprintf(h.Out, "%s configuration not found.\n", prefix)
		fmt.Fprintln(h.Out, Muted("Create foresight.yml or pass --config. Run 'foresight config schema' for the format."))

	case errors.ErrCodeConfigValidation, errors.ErrCodeConfigInvalid:
		fmt.Fprintf(h.Out, "%s %v\n", prefix, err)
		fmt.Fprintln(h.Out, Muted("Check the file with 'foresight config validate'."))

	case errors.ErrCodeTransport:
		fmt.Fprintf(h.Out, "%s %v\n", prefix, err)
		fmt.Fprintln(h.Out, Muted("Check server.url and that the SAGE3 server is reachable."))

	case errors.ErrCodeBackendUnavailable:
		fmt.Fprintf(h.Out, "%s %v\n", prefix, err)
		fmt.Fprintln(h.Out, Muted("Check kernel.url and that the kernel gateway is running."))

	case errors.ErrCodeShutdownTimeout:
		fmt.Fprintf(h.Out, "%s %v\n", prefix, err)
		fmt.Fprintln(h.Out, Muted("Some background work did not stop in time; raise daemon.shutdown_timeout_seconds if this repeats."))

	default:
		fmt.Fprintf(h.Out, "%s %v\n", prefix, err)
	}

	if h.Verbose {
		if coded, ok := err.(*errors.Error); ok {
			fmt.Fprintf(h.Out, "\nError details:\n%s\n", coded.ToJSON())
		}
	}
	return err
}
