package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKernelResultValidator(t *testing.T) {
	v, err := NewKernelResultValidator()
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"execute result", `{"request_id":"r1","execute_result":{"data":"1"}}`, false},
		{"display data", `{"request_id":"r2","display_data":{"data":{"image/png":"..."}}}`, false},
		{"error result", `{"request_id":"r3","error":{"ename":"NameError","evalue":"x","traceback":[]}}`, false},
		{"missing request id", `{"execute_result":{"data":"1"}}`, true},
		{"empty request id", `{"request_id":"","execute_result":{}}`, true},
		{"no result body", `{"request_id":"r4"}`, true},
		{"wrong type", `{"request_id":7,"stream":{}}`, true},
		{"not json", `{'request_id': 'r1'}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateJSON([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateStruct(t *testing.T) {
	v, err := NewValidator("point.json", []byte(`{
		"type": "object",
		"required": ["x"],
		"properties": {"x": {"type": "integer"}}
	}`))
	require.NoError(t, err)

	assert.NoError(t, v.Validate(map[string]interface{}{"x": 3}))
	assert.Error(t, v.Validate(map[string]interface{}{"y": 3}))
}

func TestNewValidatorRejectsBadSchema(t *testing.T) {
	_, err := NewValidator("bad.json", []byte(`{"type": 12}`))
	assert.Error(t, err)
}
