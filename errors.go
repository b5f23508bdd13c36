package graphauth

import (
	"errors"
	"fmt"
)

// Code identifies one failure class in the graphauth error taxonomy.
// The set is closed: every error this package returns carries exactly one
// of these values (see the pass-through exception documented on GetToken).
type Code string

const (
	// CodeSignInMethodUnknown means the configured sign-in method is neither
	// redirect nor popup.
	CodeSignInMethodUnknown Code = "SignInMethodUnknown"

	// CodeSignInUnknown wraps an unexpected failure during login. The
	// underlying provider error is attached as the cause.
	CodeSignInUnknown Code = "SignInErrorUnknown"

	// CodeNoAccountsReturned means login apparently succeeded but the
	// provider reports no accounts. Indicates a provider-side anomaly.
	CodeNoAccountsReturned Code = "NoAccountsReturned"

	// CodeMultipleAccountSelection means the account selection callback
	// failed while resolving a multi-account login.
	CodeMultipleAccountSelection Code = "MultipleAccountSelectionFailed"

	// CodeMissingPermissionScope means the provider rejected a token request
	// because a requested scope is not granted. Not retryable: interactive
	// login cannot fix a configuration defect.
	CodeMissingPermissionScope Code = "MissingPermissionScope"

	// CodeAuthenticationRequired means silent refresh failed and the user
	// must re-authenticate interactively. The caller decides whether to
	// prompt, typically by calling Login or GetToken with forceLogin.
	CodeAuthenticationRequired Code = "AuthenticationRequired"

	// CodeNotLoggedIn means there is no active account.
	CodeNotLoggedIn Code = "NotLoggedIn"

	// CodeRequestDenied means the resource API rejected the request for
	// insufficient privileges.
	CodeRequestDenied Code = "RequestDenied"

	// CodeAccessDenied means the resource API denied access to the target.
	CodeAccessDenied Code = "AccessDenied"

	// CodeUnknownGraph wraps any resource API failure that does not map to
	// a recognized error code. The raw response body, when available, is in
	// the description.
	CodeUnknownGraph Code = "UnknownGraphError"

	// CodeBatchSizeExceeded means a batch call carried more sub-requests
	// than the API's fixed ceiling of 20.
	CodeBatchSizeExceeded Code = "BatchSizeExceeded"

	// CodeInvalidEndpoint means the endpoint could not be joined to the API
	// base URL.
	CodeInvalidEndpoint Code = "InvalidEndpoint"
)

// Error is the structured failure type returned across the package
// boundary: a taxonomy code plus a human-readable description, never a raw
// provider exception or transport error.
type Error struct {
	Code        Code
	Description string
	cause       error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Unwrap returns the wrapped cause, if any, for use with errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...)}
}

func wrapError(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...), cause: cause}
}

// CodeOf extracts the taxonomy code from err. ok is false when err does not
// originate from this package.
func CodeOf(err error) (code Code, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
