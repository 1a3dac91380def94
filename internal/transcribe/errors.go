package transcribe

import "errors"

// ErrorMessagePrefix starts the Message of every [EventError].
const ErrorMessagePrefix = "Transcription error: "

// Sentinel errors returned by [Controller]. Match them with [errors.Is];
// returned errors wrap the underlying cause.
var (
	// ErrAlreadyRunning is returned by Start unless the controller is idle.
	ErrAlreadyRunning = errors.New("transcribe: a session is already running")

	// ErrBusy is returned by Stop while a session is starting or stopping.
	ErrBusy = errors.New("transcribe: session is starting or stopping")

	// ErrPermissionDenied is returned when microphone access is refused.
	ErrPermissionDenied = errors.New("transcribe: microphone permission denied")

	// ErrEngineUnavailable is returned when no transcription engine is
	// configured.
	ErrEngineUnavailable = errors.New("transcribe: transcription engine unavailable")

	// ErrFormatNegotiation is returned when the engine cannot name a usable
	// input format.
	ErrFormatNegotiation = errors.New("transcribe: audio format negotiation failed")

	// ErrCaptureSetup is returned when the capture device cannot be opened.
	ErrCaptureSetup = errors.New("transcribe: audio capture setup failed")

	// ErrStreamFailure marks an engine stream that ended with an error or
	// closed while the session was still running.
	ErrStreamFailure = errors.New("transcribe: transcription stream failed")

	// ErrTeardown is returned by Stop when a teardown step failed. Cleanup
	// still completes and the controller is idle afterwards.
	ErrTeardown = errors.New("transcribe: session teardown failed")
)
