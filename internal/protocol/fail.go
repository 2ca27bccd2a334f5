package protocol

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// Responder sends a response ipc body back to whoever issued the current request.
type Responder interface {
	Respond(ipc []byte) error
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ipc []byte) error

func (f ResponderFunc) Respond(ipc []byte) error { return f(ipc) }

// CallerFail builds a Fail response for test, located at the caller skip
// frames above CallerFail. The file is reported without directory or .go
// suffix. Go does not expose columns, so Column is 0.
func CallerFail(test string, skip int) TesterResponse {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return FailResponse(test, "unknown", 0, 0)
	}
	file = strings.TrimSuffix(filepath.Base(file), ".go")
	return FailResponse(test, file, uint32(line), 0)
}

// ReportFail sends a Fail response for test located at the call site and then
// ends the calling goroutine. A Fail is terminal: no code after ReportFail
// runs, and deferred calls still execute.
func ReportFail(r Responder, test string) {
	reportAndExit(r, CallerFail(test, 1))
}

// ReportFailAt is ReportFail with explicit provenance.
func ReportFailAt(r Responder, test, file string, line, column uint32) {
	reportAndExit(r, FailResponse(test, file, line, column))
}

func reportAndExit(r Responder, resp TesterResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		panic(fmt.Sprintf("protocol: encode fail response: %v", err))
	}
	if err := r.Respond(body); err != nil {
		panic(fmt.Sprintf("protocol: send fail response: %v", err))
	}
	runtime.Goexit()
}

// FailError is an assertion failure reported by the node under test.
type FailError struct {
	FailInfo
	Message string
}

// NewFailError converts a Fail response into an error. It returns nil for
// any other response kind.
func NewFailError(resp TesterResponse) *FailError {
	if resp.Kind != ResponseFail || resp.Fail == nil {
		return nil
	}
	return &FailError{FailInfo: *resp.Fail}
}

func (e *FailError) Error() string {
	msg := fmt.Sprintf("fail %s %s", e.Test, e.Location())
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}
