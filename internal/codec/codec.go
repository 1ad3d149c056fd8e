// Package codec provides the canonical JSON encoding used for task
// args/kwargs/result blobs, so that identical argument values always
// produce byte-identical blobs regardless of map iteration order.
package codec

import (
	"errors"
	"sort"

	"github.com/bytedance/sonic"
)

// ErrNotAFuture is returned by DecodeFutureRef when the value isn't a
// future placeholder tag.
var ErrNotAFuture = errors.New("codec: value is not a future placeholder")

// futureTag is the key a future placeholder is stored under inside an
// args/kwargs blob, standing in for a task result that isn't known yet.
const futureTag = "__dep__"

// api is sonic configured for deterministic, map-key-sorted output so the
// identity hasher (internal/identity) sees stable bytes for equal values.
var api = sonic.Config{
	SortMapKeys: true,
}.Froze()

// Encode canonically encodes v (typically a map[string]any of call
// arguments) into its blob form.
func Encode(v any) ([]byte, error) {
	return api.Marshal(v)
}

// Decode unmarshals a blob produced by Encode into v.
func Decode(blob []byte, v any) error {
	return api.Unmarshal(blob, v)
}

// FutureRef is the canonical form of a reference to another task's result,
// substituted into an App call's arguments in place of the Future itself.
type FutureRef struct {
	TaskID string `json:"__dep__"`
}

// EncodeFutureRef encodes a dependency placeholder for taskID.
func EncodeFutureRef(taskID string) ([]byte, error) {
	return Encode(FutureRef{TaskID: taskID})
}

// DecodeFutureRef reports whether blob holds a future placeholder and, if
// so, the id of the task it refers to.
func DecodeFutureRef(blob []byte) (string, error) {
	var raw map[string]any
	if err := Decode(blob, &raw); err != nil {
		return "", err
	}
	id, ok := raw[futureTag].(string)
	if !ok {
		return "", ErrNotAFuture
	}
	return id, nil
}

// SortedKeys returns the keys of m in sorted order, used wherever a
// deterministic iteration over a kwargs map is required outside of
// marshaling (e.g. building the dependency list for a call).
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
