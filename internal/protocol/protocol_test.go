package protocol

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesJSON(t *testing.T) {
	data, err := json.Marshal(Bytes("hi"))
	require.NoError(t, err)
	assert.Equal(t, "[104,105]", string(data))

	var b Bytes
	require.NoError(t, json.Unmarshal([]byte("[1, 2, 255]"), &b))
	assert.Equal(t, Bytes{1, 2, 255}, b)

	require.NoError(t, json.Unmarshal([]byte(`"aGk="`), &b))
	assert.Equal(t, Bytes("hi"), b)

	assert.Error(t, json.Unmarshal([]byte("[256]"), &b))
}

func TestProcessID(t *testing.T) {
	id, err := ParseProcessID("main:app_store:uqbar")
	require.NoError(t, err)
	assert.Equal(t, "app_store", id.PackageName)
	assert.Equal(t, "main:app_store:uqbar", id.String())

	_, err = ParseProcessID("main:app_store")
	assert.Error(t, err)

	var fromObj ProcessID
	require.NoError(t, json.Unmarshal([]byte(`{"process_name":"a","package_name":"b","publisher_node":"c"}`), &fromObj))
	assert.Equal(t, "a:b:c", fromObj.String())
}

func TestTesterResponseEncoding(t *testing.T) {
	tests := []struct {
		name string
		resp TesterResponse
		want string
	}{
		{"pass", Pass(), `"Pass"`},
		{"fail", FailResponse("foo", "foo_test", 42, 5), `{"Fail":{"test":"foo","file":"foo_test","line":42,"column":5}}`},
		{"full message none", TesterResponse{Kind: ResponseGetFullMessage}, `{"GetFullMessage":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.resp)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))

			var got TesterResponse
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, tt.resp, got)
		})
	}
}

func TestFailProvenancePreserved(t *testing.T) {
	data, err := json.Marshal(FailResponse("foo", "foo_test", 42, 5))
	require.NoError(t, err)

	var got TesterResponse
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, ResponseFail, got.Kind)
	assert.Equal(t, FailInfo{Test: "foo", File: "foo_test", Line: 42, Column: 5}, *got.Fail)

	ferr := NewFailError(got)
	require.NotNil(t, ferr)
	assert.Equal(t, "fail foo foo_test:42:5", ferr.Error())
	assert.Nil(t, NewFailError(Pass()))
}

func TestTesterResponseRejectsUnknown(t *testing.T) {
	var r TesterResponse
	assert.Error(t, json.Unmarshal([]byte(`"Maybe"`), &r))
	assert.Error(t, json.Unmarshal([]byte(`{"Fail":{},"Pass":null}`), &r))
	assert.Error(t, json.Unmarshal([]byte(`{"Fail":null}`), &r))
}

func TestTesterResponseIgnoresUnknownFields(t *testing.T) {
	var r TesterResponse
	require.NoError(t, json.Unmarshal([]byte(`{"Fail":{"test":"t","file":"f","line":1,"column":2,"extra":true}}`), &r))
	assert.Equal(t, "t", r.Fail.Test)
}

func TestRunRequestEncoding(t *testing.T) {
	data, err := json.Marshal(NewRunRequest([]string{"fake1.uq", "fake2.uq"}, 10))
	require.NoError(t, err)
	assert.JSONEq(t, `{"Run":{"input_node_names":["fake1.uq","fake2.uq"],"test_timeout":10}}`, string(data))

	var req TesterRequest
	require.NoError(t, json.Unmarshal(data, &req))
	assert.Equal(t, RequestRun, req.Kind)
	assert.Equal(t, uint64(10), req.Run.TestTimeout)

	_, err = json.Marshal(TesterRequest{Kind: RequestKernelMessage})
	assert.Error(t, err)
}

func TestKernelMessageRoundTrip(t *testing.T) {
	timeout := uint64(5)
	km := KernelMessage{
		ID:     7,
		Source: Address{Node: "fake1.uq", Process: TesterProcess},
		Target: Address{Node: "fake2.uq", Process: TesterProcess},
		Message: Message{Request: &Request{
			ExpectsResponse: &timeout,
			IPC:             Bytes(`"Pass"`),
		}},
	}

	req := TesterRequest{Kind: RequestKernelMessage, KernelMessage: &km}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	var got TesterRequest
	require.NoError(t, json.Unmarshal(data, &got))
	require.NotNil(t, got.KernelMessage)
	assert.Equal(t, "fake1.uq@tester:tester:uqbar", got.KernelMessage.Source.String())
	assert.Equal(t, []byte(`"Pass"`), got.KernelMessage.Message.IPC())
	assert.Nil(t, got.KernelMessage.Rsvp)
}

func TestMessageResponseTuple(t *testing.T) {
	m := Message{Response: &Response{IPC: Bytes{1}}, Context: Bytes{9}}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Response":[{"inherit":false,"ipc":[1],"metadata":null},[9]]}`, string(data))

	var got Message
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, Bytes{9}, got.Context)

	_, err = json.Marshal(Message{})
	assert.Error(t, err)
}

func TestTesterError(t *testing.T) {
	data, err := json.Marshal(TesterError{Kind: ErrFail, Test: "foo", Message: "boom"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Fail":{"test":"foo","message":"boom"}}`, string(data))

	var got TesterError
	require.NoError(t, json.Unmarshal([]byte(`"RejectForeign"`), &got))
	assert.True(t, errors.Is(&got, &TesterError{Kind: ErrRejectForeign}))
	assert.False(t, errors.Is(&got, &TesterError{Kind: ErrUnexpectedResponse}))
}

func TestReportFailIsTerminal(t *testing.T) {
	var sent []byte
	reached := false
	r := ResponderFunc(func(ipc []byte) error {
		sent = ipc
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ReportFailAt(r, "foo", "foo_test", 42, 5)
		reached = true
	}()
	wg.Wait()

	assert.False(t, reached)
	assert.JSONEq(t, `{"Fail":{"test":"foo","file":"foo_test","line":42,"column":5}}`, string(sent))
}

func TestReportFailUsesCaller(t *testing.T) {
	var resp TesterResponse
	r := ResponderFunc(func(ipc []byte) error {
		return json.Unmarshal(ipc, &resp)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		ReportFail(r, "caller")
	}()
	<-done

	require.Equal(t, ResponseFail, resp.Kind)
	assert.Equal(t, "protocol_test", resp.Fail.File)
	assert.NotZero(t, resp.Fail.Line)
}
