package gradio

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Edit actions sent by sse_v3 apps for streaming outputs.
const (
	actionReplace = "replace"
	actionAppend  = "append"
	actionAdd     = "add"
	actionDelete  = "delete"
)

// applyDiff applies a list of [action, path, value] edits to target and
// returns the result.
func applyDiff(target any, diff any) (any, error) {
	edits, ok := diff.([]any)
	if !ok {
		return nil, fmt.Errorf("diff is %T, not a list", diff)
	}
	for _, e := range edits {
		edit, ok := e.([]any)
		if !ok || len(edit) != 3 {
			return nil, fmt.Errorf("malformed edit %v", e)
		}
		action, ok := edit[0].(string)
		if !ok {
			return nil, fmt.Errorf("malformed edit action %v", edit[0])
		}
		path, ok := edit[1].([]any)
		if !ok {
			return nil, fmt.Errorf("malformed edit path %v", edit[1])
		}
		var err error
		target, err = applyEdit(target, path, action, edit[2])
		if err != nil {
			return nil, err
		}
	}
	return target, nil
}

func applyEdit(target any, path []any, action string, value any) (any, error) {
	if len(path) == 0 {
		switch action {
		case actionReplace:
			return value, nil
		case actionAppend:
			return appendValue(target, value)
		default:
			return nil, fmt.Errorf("unsupported root action %q", action)
		}
	}

	switch t := target.(type) {
	case map[string]any:
		key, ok := path[0].(string)
		if !ok {
			return nil, fmt.Errorf("object key %v is not a string", path[0])
		}
		if len(path) > 1 {
			child, err := applyEdit(t[key], path[1:], action, value)
			if err != nil {
				return nil, err
			}
			t[key] = child
			return t, nil
		}
		switch action {
		case actionReplace, actionAdd:
			t[key] = value
		case actionAppend:
			v, err := appendValue(t[key], value)
			if err != nil {
				return nil, err
			}
			t[key] = v
		case actionDelete:
			delete(t, key)
		default:
			return nil, fmt.Errorf("unsupported action %q", action)
		}
		return t, nil

	case []any:
		idx, err := index(path[0])
		if err != nil {
			return nil, err
		}
		if len(path) > 1 {
			if idx < 0 || idx >= len(t) {
				return nil, fmt.Errorf("index %d out of range", idx)
			}
			child, err := applyEdit(t[idx], path[1:], action, value)
			if err != nil {
				return nil, err
			}
			t[idx] = child
			return t, nil
		}
		switch action {
		case actionReplace:
			if idx < 0 || idx >= len(t) {
				return nil, fmt.Errorf("index %d out of range", idx)
			}
			t[idx] = value
		case actionAppend:
			if idx < 0 || idx >= len(t) {
				return nil, fmt.Errorf("index %d out of range", idx)
			}
			v, err := appendValue(t[idx], value)
			if err != nil {
				return nil, err
			}
			t[idx] = v
		case actionAdd:
			if idx < 0 || idx > len(t) {
				return nil, fmt.Errorf("index %d out of range", idx)
			}
			t = append(t, nil)
			copy(t[idx+1:], t[idx:])
			t[idx] = value
		case actionDelete:
			if idx < 0 || idx >= len(t) {
				return nil, fmt.Errorf("index %d out of range", idx)
			}
			t = append(t[:idx], t[idx+1:]...)
		default:
			return nil, fmt.Errorf("unsupported action %q", action)
		}
		return t, nil

	default:
		return nil, fmt.Errorf("cannot index into %T", target)
	}
}

func appendValue(target, value any) (any, error) {
	switch t := target.(type) {
	case string:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("cannot append %T to string", value)
		}
		return t + s, nil
	case []any:
		if more, ok := value.([]any); ok {
			return append(t, more...), nil
		}
		return append(t, value), nil
	case nil:
		return value, nil
	default:
		return nil, fmt.Errorf("cannot append to %T", target)
	}
}

func index(p any) (int, error) {
	switch v := p.(type) {
	case float64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		return int(n), err
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("invalid index %v", p)
	}
}

// cloneJSON deep-copies a value decoded from JSON.
func cloneJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneJSON(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneJSON(item)
		}
		return out
	default:
		return v
	}
}
