package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TesterProcess is the process on the test node that accepts TesterRequests.
var TesterProcess = ProcessID{ProcessName: "tester", PackageName: "tester", PublisherNode: "uqbar"}

// RequestKind discriminates TesterRequest variants.
type RequestKind string

const (
	RequestRun            RequestKind = "Run"
	RequestKernelMessage  RequestKind = "KernelMessage"
	RequestGetFullMessage RequestKind = "GetFullMessage"
)

// RunRequest asks the tester to run every test package against the named nodes.
type RunRequest struct {
	InputNodeNames []string `json:"input_node_names"`
	TestTimeout    uint64   `json:"test_timeout"`
}

// TesterRequest is Run | KernelMessage | GetFullMessage.
type TesterRequest struct {
	Kind           RequestKind
	Run            *RunRequest
	KernelMessage  *KernelMessage
	GetFullMessage *Message
}

// NewRunRequest builds a Run request.
func NewRunRequest(nodes []string, timeoutSecs uint64) TesterRequest {
	if nodes == nil {
		nodes = []string{}
	}
	return TesterRequest{Kind: RequestRun, Run: &RunRequest{InputNodeNames: nodes, TestTimeout: timeoutSecs}}
}

// MarshalJSON implements json.Marshaler.
func (r TesterRequest) MarshalJSON() ([]byte, error) {
	var body any
	switch r.Kind {
	case RequestRun:
		body = r.Run
	case RequestKernelMessage:
		body = r.KernelMessage
	case RequestGetFullMessage:
		body = r.GetFullMessage
	default:
		return nil, fmt.Errorf("tester request: unknown kind %q", r.Kind)
	}
	if body == nil || isNilPtr(body) {
		return nil, fmt.Errorf("tester request: %s has no body", r.Kind)
	}
	return json.Marshal(map[string]any{string(r.Kind): body})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *TesterRequest) UnmarshalJSON(data []byte) error {
	tag, body, err := splitVariant(data)
	if err != nil {
		return fmt.Errorf("tester request: %w", err)
	}
	if body == nil {
		return fmt.Errorf("tester request: variant %q requires a body", tag)
	}
	out := TesterRequest{Kind: RequestKind(tag)}
	switch out.Kind {
	case RequestRun:
		out.Run = &RunRequest{}
		err = json.Unmarshal(body, out.Run)
	case RequestKernelMessage:
		out.KernelMessage = &KernelMessage{}
		err = json.Unmarshal(body, out.KernelMessage)
	case RequestGetFullMessage:
		out.GetFullMessage = &Message{}
		err = json.Unmarshal(body, out.GetFullMessage)
	default:
		return fmt.Errorf("tester request: unknown variant %q", tag)
	}
	if err != nil {
		return fmt.Errorf("tester request %s: %w", tag, err)
	}
	*r = out
	return nil
}

// ResponseKind discriminates TesterResponse variants.
type ResponseKind string

const (
	ResponsePass           ResponseKind = "Pass"
	ResponseFail           ResponseKind = "Fail"
	ResponseGetFullMessage ResponseKind = "GetFullMessage"
)

// FailInfo is the provenance of an assertion failure.
type FailInfo struct {
	Test   string `json:"test"`
	File   string `json:"file"`
	Line   uint32 `json:"line"`
	Column uint32 `json:"column"`
}

func (f FailInfo) Location() string {
	return fmt.Sprintf("%s:%d:%d", f.File, f.Line, f.Column)
}

// TesterResponse is Pass | Fail | GetFullMessage(Option<KernelMessage>).
type TesterResponse struct {
	Kind        ResponseKind
	Fail        *FailInfo
	FullMessage *KernelMessage
}

// Pass is the passing verdict.
func Pass() TesterResponse { return TesterResponse{Kind: ResponsePass} }

// FailResponse builds a Fail verdict with explicit provenance.
func FailResponse(test, file string, line, column uint32) TesterResponse {
	return TesterResponse{Kind: ResponseFail, Fail: &FailInfo{Test: test, File: file, Line: line, Column: column}}
}

// MarshalJSON implements json.Marshaler.
func (r TesterResponse) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case ResponsePass:
		return json.Marshal(string(ResponsePass))
	case ResponseFail:
		if r.Fail == nil {
			return nil, errors.New("tester response: Fail has no body")
		}
		return json.Marshal(map[string]any{string(ResponseFail): r.Fail})
	case ResponseGetFullMessage:
		return json.Marshal(map[string]any{string(ResponseGetFullMessage): r.FullMessage})
	}
	return nil, fmt.Errorf("tester response: unknown kind %q", r.Kind)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *TesterResponse) UnmarshalJSON(data []byte) error {
	tag, body, err := splitVariant(data)
	if err != nil {
		return fmt.Errorf("tester response: %w", err)
	}
	out := TesterResponse{Kind: ResponseKind(tag)}
	switch out.Kind {
	case ResponsePass:
	case ResponseFail:
		if body == nil {
			return errors.New("tester response: Fail requires a body")
		}
		out.Fail = &FailInfo{}
		if err := json.Unmarshal(body, out.Fail); err != nil {
			return fmt.Errorf("tester response Fail: %w", err)
		}
	case ResponseGetFullMessage:
		if body != nil && string(body) != "null" {
			out.FullMessage = &KernelMessage{}
			if err := json.Unmarshal(body, out.FullMessage); err != nil {
				return fmt.Errorf("tester response GetFullMessage: %w", err)
			}
		}
	default:
		return fmt.Errorf("tester response: unknown variant %q", tag)
	}
	*r = out
	return nil
}

// TesterErrorKind discriminates TesterError variants.
type TesterErrorKind string

const (
	ErrRejectForeign      TesterErrorKind = "RejectForeign"
	ErrUnexpectedResponse TesterErrorKind = "UnexpectedResponse"
	ErrFail               TesterErrorKind = "Fail"
)

// TesterError is the error vocabulary of the tester process.
type TesterError struct {
	Kind    TesterErrorKind
	Test    string
	Message string
}

func (e *TesterError) Error() string {
	if e.Kind == ErrFail {
		return fmt.Sprintf("FAIL %s %s", e.Test, e.Message)
	}
	return string(e.Kind)
}

// Is matches on Kind so errors.Is(err, &TesterError{Kind: ErrRejectForeign}) works.
func (e *TesterError) Is(target error) bool {
	var t *TesterError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// MarshalJSON implements json.Marshaler.
func (e TesterError) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case ErrRejectForeign, ErrUnexpectedResponse:
		return json.Marshal(string(e.Kind))
	case ErrFail:
		return json.Marshal(map[string]any{"Fail": map[string]string{"test": e.Test, "message": e.Message}})
	}
	return nil, fmt.Errorf("tester error: unknown kind %q", e.Kind)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *TesterError) UnmarshalJSON(data []byte) error {
	tag, body, err := splitVariant(data)
	if err != nil {
		return fmt.Errorf("tester error: %w", err)
	}
	switch TesterErrorKind(tag) {
	case ErrRejectForeign, ErrUnexpectedResponse:
		*e = TesterError{Kind: TesterErrorKind(tag)}
	case ErrFail:
		var f struct {
			Test    string `json:"test"`
			Message string `json:"message"`
		}
		if body == nil {
			return errors.New("tester error: Fail requires a body")
		}
		if err := json.Unmarshal(body, &f); err != nil {
			return fmt.Errorf("tester error Fail: %w", err)
		}
		*e = TesterError{Kind: ErrFail, Test: f.Test, Message: f.Message}
	default:
		return fmt.Errorf("tester error: unknown variant %q", tag)
	}
	return nil
}

func isNilPtr(v any) bool {
	switch p := v.(type) {
	case *RunRequest:
		return p == nil
	case *KernelMessage:
		return p == nil
	case *Message:
		return p == nil
	}
	return false
}
