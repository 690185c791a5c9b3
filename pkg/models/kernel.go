package models

// ExecRequest is posted to the kernel backend.
type ExecRequest struct {
	Code   string `json:"code"`
	UUID   string `json:"uuid"`
	Kernel string `json:"kernel,omitempty"`
}

// ExecAck is the backend's synchronous answer to an ExecRequest. Backends
// that don't assign their own id leave RequestID empty.
type ExecAck struct {
	RequestID string `json:"request_id,omitempty"`
}

// KernelError is the error body of a failed execution.
type KernelError struct {
	EName     string   `json:"ename"`
	EValue    string   `json:"evalue"`
	Traceback []string `json:"traceback,omitempty"`
}

// ExecResult is published on the results channel once per completed execution.
type ExecResult struct {
	RequestID      string                 `json:"request_id"`
	ExecuteResult  map[string]interface{} `json:"execute_result,omitempty"`
	DisplayData    map[string]interface{} `json:"display_data,omitempty"`
	Stream         map[string]interface{} `json:"stream,omitempty"`
	Error          *KernelError           `json:"error,omitempty"`
	ExecutionCount *int                   `json:"execution_count,omitempty"`
}

// Failed reports whether the kernel raised.
func (r *ExecResult) Failed() bool {
	return r.Error != nil
}
