package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeout(t *testing.T) {
	tests := []struct {
		in   any
		want int
	}{
		{in: nil, want: 300},
		{in: 60, want: 60},
		{in: float64(45), want: 45},
		{in: 45.9, want: 45},
		{in: "45", want: 45},
		{in: " 90s", want: 90},
		{in: "abc", want: 300},
		{in: "", want: 300},
		{in: "0", want: 300},
		{in: -5, want: 300},
		{in: true, want: 300},
		{in: json.Number("120"), want: 120},
		{in: "99999999999999999999999", want: 300},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseTimeout(tt.in), "input %#v", tt.in)
	}
}

func TestParseFlag(t *testing.T) {
	assert.True(t, ParseFlag(nil, true))
	assert.False(t, ParseFlag(nil, false))
	assert.True(t, ParseFlag(true, false))
	assert.False(t, ParseFlag(false, true))
	assert.True(t, ParseFlag("1", false))
	assert.True(t, ParseFlag("true", false))
	assert.True(t, ParseFlag(float64(1), false))
	assert.False(t, ParseFlag("0", true))
	assert.False(t, ParseFlag("yes", true))
	assert.False(t, ParseFlag("TRUE", true))
	assert.False(t, ParseFlag(float64(2), true))
}

func TestStringForm(t *testing.T) {
	assert.Equal(t, "true", StringForm(true))
	assert.Equal(t, "1", StringForm(float64(1)))
	assert.Equal(t, "1.5", StringForm(1.5))
	assert.Equal(t, "abc", StringForm("abc"))
	assert.Equal(t, "null", StringForm(nil))
	assert.Equal(t, `{"a":1}`, StringForm(map[string]any{"a": 1}))
}

func TestNormalizeReservedKeys(t *testing.T) {
	params := map[string]any{
		"cmd_var1":     "alice",
		"newInstance":  "1",
		"timeout":      "45",
		"closeBrowser": true,
		"closeRPA":     float64(1),
	}
	req := JobRequest{
		Name:           "login_test",
		URLParams:      params,
		NewInstance:    false,
		TimeoutSeconds: 60,
	}

	inv := normalize(req)

	assert.True(t, inv.newInstance)
	assert.Equal(t, 45, inv.timeout)
	assert.Equal(t, map[string]any{
		"cmd_var1":     "alice",
		"closeBrowser": "true",
		"closeRPA":     "1",
	}, inv.params)

	// The caller's map is untouched.
	assert.Len(t, params, 5)
	assert.Equal(t, "1", params["newInstance"])
	assert.Equal(t, true, params["closeBrowser"])
}

func TestNormalizeInvalidOverrides(t *testing.T) {
	inv := normalize(JobRequest{
		URLParams:      map[string]any{"newInstance": "yes", "timeout": "abc"},
		NewInstance:    true,
		TimeoutSeconds: 60,
	})
	assert.False(t, inv.newInstance)
	assert.Equal(t, 300, inv.timeout)
	assert.Empty(t, inv.params)
}

func TestNormalizeWithoutOverrides(t *testing.T) {
	inv := normalize(JobRequest{NewInstance: true, TimeoutSeconds: 0})
	assert.True(t, inv.newInstance)
	assert.Equal(t, DefaultTimeout, inv.timeout)
	require.NotNil(t, inv.params)
}

func TestInvocationArgv(t *testing.T) {
	req := JobRequest{
		Name:            "suite",
		IsFolder:        true,
		OutboundWebhook: "https://hooks.example/cb",
		URLParams:       map[string]any{"cmd_var1": "it's $(rm -rf /)", "timeout": 30},
		NewInstance:     true,
	}

	args, err := normalize(req).argv(req)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"suite",
		"https://hooks.example/cb",
		"1",
		`{"cmd_var1":"it's $(rm -rf /)"}`,
		"1",
		"30",
	}, args)
}

func TestInvocationArgvEmptyParams(t *testing.T) {
	req := JobRequest{Name: "login_test", OutboundWebhook: "https://hooks.example/cb"}
	args, err := normalize(req).argv(req)
	require.NoError(t, err)
	assert.Equal(t, []string{"login_test", "https://hooks.example/cb", "0", "{}", "0", "300"}, args)
}
