package dispatch

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Reserved urlParams keys. newInstance and timeout are lifted out of the
// params and applied to the job; closeBrowser and closeRPA stay but are
// forwarded as strings.
const (
	ParamNewInstance  = "newInstance"
	ParamTimeout      = "timeout"
	ParamCloseBrowser = "closeBrowser"
	ParamCloseRPA     = "closeRPA"
)

// invocation holds the normalized values passed to the engine.
type invocation struct {
	params      map[string]any
	newInstance bool
	timeout     int
}

// normalize applies the reserved urlParams keys to a copy of the request
// params. The caller's map is left untouched.
func normalize(req JobRequest) invocation {
	inv := invocation{
		params:      make(map[string]any, len(req.URLParams)),
		newInstance: req.NewInstance,
		timeout:     ParseTimeout(req.TimeoutSeconds),
	}
	for k, v := range req.URLParams {
		inv.params[k] = v
	}

	if v, ok := inv.params[ParamNewInstance]; ok {
		inv.newInstance = ParseFlag(v, false)
		delete(inv.params, ParamNewInstance)
	}
	if v, ok := inv.params[ParamTimeout]; ok {
		inv.timeout = ParseTimeout(v)
		delete(inv.params, ParamTimeout)
	}
	for _, key := range []string{ParamCloseBrowser, ParamCloseRPA} {
		if v, ok := inv.params[key]; ok {
			inv.params[key] = StringForm(v)
		}
	}
	return inv
}

// ParseTimeout reads a timeout in seconds from a number or a string with a
// leading integer ("45", "45s", " 60"). Anything else, and any value that is
// not positive, yields DefaultTimeout.
func ParseTimeout(v any) int {
	if v == nil {
		return DefaultTimeout
	}
	n, ok := leadingInt(StringForm(v))
	if !ok || n <= 0 {
		return DefaultTimeout
	}
	return n
}

// ParseFlag interprets true, 1, "1" and "true" as true. nil yields def,
// everything else is false.
func ParseFlag(v any, def bool) bool {
	switch t := v.(type) {
	case nil:
		return def
	case bool:
		return t
	default:
		s := StringForm(v)
		return s == "1" || s == "true"
	}
}

// StringForm renders a decoded JSON value the way it would be written in a
// URL: strings unchanged, numbers without exponent or trailing zeros, and
// booleans as "true"/"false".
func StringForm(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// argv builds the engine arguments that follow the configured engine args.
func (inv invocation) argv(req JobRequest) ([]string, error) {
	params, err := json.Marshal(inv.params)
	if err != nil {
		return nil, err
	}
	return []string{
		req.Name,
		req.OutboundWebhook,
		boolArg(req.IsFolder),
		string(params),
		boolArg(inv.newInstance),
		strconv.Itoa(inv.timeout),
	}, nil
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
