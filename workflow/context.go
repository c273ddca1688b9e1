// Package workflow executes stored workflows: typed steps over a shared
// JSON context, with conditional control flow and a step budget that
// keeps backward jumps from looping forever.
package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/modelgate/modelgate/core"
)

// Context is the per-execution variable space. The executor is the only
// writer: step outputs are appended after each non-conditional success.
type Context struct {
	request interface{}
	steps   map[string]interface{}
}

// NewContext parses the workflow input into a fresh context
func NewContext(input json.RawMessage) (*Context, error) {
	ctx := &Context{steps: make(map[string]interface{})}
	if len(input) > 0 {
		if err := decodeJSON(input, &ctx.request); err != nil {
			return nil, core.NewValidationError("workflow input is not valid JSON: %v", err)
		}
	}
	return ctx, nil
}

// SetStepOutput records a successful step's output under its name
func (c *Context) SetStepOutput(name string, output json.RawMessage) error {
	var v interface{}
	if err := decodeJSON(output, &v); err != nil {
		return core.NewInternalError("workflow.SetStepOutput", err)
	}
	c.steps[name] = v
	return nil
}

// decodeJSON preserves number formatting so resolved scalars read back
// the way they were written.
func decodeJSON(raw json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// resolutionError marks a ${...} reference that found no value and had
// no default.
type resolutionError struct {
	token string
}

func (e *resolutionError) Error() string {
	return fmt.Sprintf("cannot resolve %s", e.token)
}

// Resolve substitutes every ${source:path} or ${source:path:default}
// token in s. Scalars substitute their string form; objects and arrays
// substitute compact JSON. A missing path with no default is an error.
func (c *Context) Resolve(s string) (string, error) {
	return c.resolve(s, false)
}

// ResolveLenient substitutes like Resolve but treats a missing path with
// no default as the empty string. Condition fields use this so is_empty
// can match absent input keys.
func (c *Context) ResolveLenient(s string) (string, error) {
	return c.resolve(s, true)
}

func (c *Context) resolve(s string, lenient bool) (string, error) {
	var out strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			out.WriteString(s)
			return out.String(), nil
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			out.WriteString(s)
			return out.String(), nil
		}
		end += start

		out.WriteString(s[:start])
		token := s[start : end+1]
		value, err := c.resolveToken(token, s[start+2:end], lenient)
		if err != nil {
			return "", err
		}
		out.WriteString(value)
		s = s[end+1:]
	}
}

// resolveToken evaluates one reference body ("source:path[:default]")
func (c *Context) resolveToken(token, body string, lenient bool) (string, error) {
	parts := strings.SplitN(body, ":", 2)
	if len(parts) < 2 {
		return "", core.NewValidationError("malformed variable reference %s", token)
	}

	var root interface{}
	var rest string
	switch parts[0] {
	case "request":
		root = c.request
		rest = parts[1]
	case "step":
		nameAndPath := strings.SplitN(parts[1], ":", 2)
		if len(nameAndPath) < 2 {
			return "", core.NewValidationError("malformed variable reference %s", token)
		}
		stepOutput, ok := c.steps[nameAndPath[0]]
		if !ok {
			return missingValue(token, "", false, lenient)
		}
		root = stepOutput
		rest = nameAndPath[1]
	default:
		return "", core.NewValidationError("unknown variable source %q in %s", parts[0], token)
	}

	// a trailing :default belongs to the reference, not the path
	path := rest
	def := ""
	hasDefault := false
	if idx := strings.Index(rest, ":"); idx >= 0 {
		path = rest[:idx]
		def = rest[idx+1:]
		hasDefault = true
	}

	value, found := lookupPath(root, path)
	if !found {
		return missingValue(token, def, hasDefault, lenient)
	}
	return stringify(value)
}

func missingValue(token, def string, hasDefault, lenient bool) (string, error) {
	if hasDefault {
		return def, nil
	}
	if lenient {
		return "", nil
	}
	return "", &resolutionError{token: token}
}

// lookupPath walks a dotted path through maps and arrays. Numeric
// segments index arrays.
func lookupPath(root interface{}, path string) (interface{}, bool) {
	if path == "" {
		return root, root != nil
	}
	current := root
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// stringify renders a resolved value: scalars as their literal form,
// containers as compact JSON.
func stringify(v interface{}) (string, error) {
	switch value := v.(type) {
	case nil:
		return "null", nil
	case string:
		return value, nil
	case bool:
		return strconv.FormatBool(value), nil
	case json.Number:
		return value.String(), nil
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), nil
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return "", core.NewInternalError("workflow.stringify", err)
		}
		return string(encoded), nil
	}
}

// lookupValue resolves a ${...} reference to the underlying value, used
// where a step needs the structure rather than a string (document refs).
func (c *Context) lookupValue(ref string) (interface{}, bool) {
	body := strings.TrimSuffix(strings.TrimPrefix(ref, "${"), "}")
	parts := strings.SplitN(body, ":", 2)
	if len(parts) < 2 {
		return nil, false
	}
	switch parts[0] {
	case "request":
		return lookupPath(c.request, strings.SplitN(parts[1], ":", 2)[0])
	case "step":
		nameAndPath := strings.SplitN(parts[1], ":", 2)
		if len(nameAndPath) < 2 {
			return nil, false
		}
		stepOutput, ok := c.steps[nameAndPath[0]]
		if !ok {
			return nil, false
		}
		return lookupPath(stepOutput, strings.SplitN(nameAndPath[1], ":", 2)[0])
	default:
		return nil, false
	}
}
