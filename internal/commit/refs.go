// Package commit is the trust boundary: the only code path through which
// model-proposed content reaches the record store. It executes one action
// group at a time, in order, resolving cross-references between actions and
// stopping at the first failure.
package commit

import (
	"strings"

	"github.com/rotisserie/eris"
)

const refPrefix = "$ref:"

// Value is a typed payload field: either a literal carried through unchanged
// or a reference to an identifier produced by an earlier action in the group.
type Value interface {
	isValue()
}

// Literal wraps a payload value that needs no resolution.
type Literal struct {
	V any
}

// Reference names a key in the group's reference table, e.g.
// "create_encounter_id" for the encounter created earlier in the same group.
type Reference struct {
	Key string
}

func (Literal) isValue()   {}
func (Reference) isValue() {}

// classify parses one payload field into its typed form.
func classify(v any) Value {
	if s, ok := v.(string); ok && strings.HasPrefix(s, refPrefix) {
		return Reference{Key: strings.TrimPrefix(s, refPrefix)}
	}
	return Literal{V: v}
}

// RefTable accumulates the identifiers produced by committed actions, keyed
// by the producing action type's ref key.
type RefTable struct {
	ids map[string]string
}

func NewRefTable() *RefTable {
	return &RefTable{ids: map[string]string{}}
}

// Publish records an identifier produced by a committed action.
func (t *RefTable) Publish(key, id string) {
	t.ids[key] = id
}

// Eval resolves a typed value. An unresolved reference is a hard error; a
// placeholder must never silently reach the record store as a literal string.
func (t *RefTable) Eval(v Value) (any, error) {
	switch val := v.(type) {
	case Literal:
		return val.V, nil
	case Reference:
		id, ok := t.ids[val.Key]
		if !ok {
			return nil, eris.Errorf("unresolved reference %q: no earlier action in this group produced it", val.Key)
		}
		return id, nil
	}
	return nil, eris.New("unknown value kind")
}

// ResolvePayload walks a payload and resolves every reference against the
// table, descending into nested documents and lists. Returns a new document;
// the input is not mutated.
func (t *RefTable) ResolvePayload(payload map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		resolved, err := t.resolveAny(v)
		if err != nil {
			return nil, eris.Wrapf(err, "field %s", k)
		}
		out[k] = resolved
	}
	return out, nil
}

func (t *RefTable) resolveAny(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		return t.ResolvePayload(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := t.resolveAny(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return t.Eval(classify(v))
	}
}
