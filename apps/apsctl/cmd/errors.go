package cmd

import (
	"errors"
	"fmt"
	"os"

	sdkerrors "github.com/quatton/apsflow/pkg/qsdk/qerr"
)

// exitIfSdkError inspects errors returned from the SDK and emits user-friendly
// guidance before exiting.
func exitIfSdkError(err error) {
	if err == nil {
		return
	}
	var (
		timeout *sdkerrors.TimeoutError
		httpErr *sdkerrors.HTTPError
	)
	switch {
	case sdkerrors.IsCode(err, sdkerrors.CodeUnauthorized):
		fatalf("authentication failed: check clientId/clientSecret or run 'apsctl auth login' (%v)", err)
	case sdkerrors.IsCode(err, sdkerrors.CodeRefreshFailed):
		fatalf("failed to refresh credentials: run 'apsctl auth login' (%v)", err)
	case errors.As(err, &timeout):
		fatalf("work item %s did not finish within %s; it is still running. Check it with 'apsctl status %s' or stop it with 'apsctl cancel %s'",
			timeout.JobID, timeout.Timeout, timeout.JobID, timeout.JobID)
	case sdkerrors.IsCode(err, sdkerrors.CodeConfiguration):
		fatalf("configuration error: %v", err)
	case errors.As(err, &httpErr):
		fatalf("request failed with status %d: %v", httpErr.StatusCode, err)
	default:
		fatalf("%v", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
