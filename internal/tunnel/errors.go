package tunnel

import "errors"

// Session failure kinds. Relay terminations are reported as EndReason,
// not as errors.
var (
	// ErrAdmissionRejected means the source IP is over its concurrency cap
	// or connect rate. Answered with 429.
	ErrAdmissionRejected = errors.New("too many connections")

	// ErrWrongPassphrase is answered with 400.
	ErrWrongPassphrase = errors.New("wrong passphrase")

	// ErrForbiddenHost is answered with 403.
	ErrForbiddenHost = errors.New("forbidden host")

	// ErrTargetUnreachable covers resolution and dial failures. No response
	// is written since the 101 has not been sent yet.
	ErrTargetUnreachable = errors.New("target unreachable")
)

// rejectionFor maps a policy error to the response the client receives.
func rejectionFor(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrWrongPassphrase):
		return WrongPassResponse, true
	case errors.Is(err, ErrForbiddenHost):
		return ForbiddenResponse, true
	case errors.Is(err, ErrAdmissionRejected):
		return TooManyConnectionsResponse, true
	}
	return "", false
}

// rejectLabel is the metric label for a rejection error.
func rejectLabel(err error) string {
	switch {
	case errors.Is(err, ErrWrongPassphrase):
		return "wrong_passphrase"
	case errors.Is(err, ErrForbiddenHost):
		return "forbidden_host"
	case errors.Is(err, ErrAdmissionRejected):
		return "over_limit"
	}
	return "other"
}
