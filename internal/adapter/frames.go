package adapter

import (
	"bytes"
	"encoding/json"
)

var (
	dataPrefix   = []byte("data:")
	doneSentinel = []byte("[DONE]")
	sseFields    = [][]byte{[]byte("event:"), []byte("id:"), []byte("retry:")}
)

// SplitFrames cuts a raw stream chunk into JSON frames.
//
// A chunk holding exactly one JSON object is returned whole and a JSON array
// yields one frame per element. Anything else is split on newlines with SSE
// "data:" prefixes removed; other SSE fields, comments, blank lines and the
// [DONE] sentinel are dropped.
func SplitFrames(chunk []byte) [][]byte {
	trimmed := bytes.TrimSpace(chunk)
	if len(trimmed) == 0 {
		return nil
	}
	switch trimmed[0] {
	case '{':
		if json.Valid(trimmed) {
			return [][]byte{trimmed}
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err == nil {
			frames := make([][]byte, 0, len(items))
			for _, item := range items {
				if item = bytes.TrimSpace(item); len(item) > 0 {
					frames = append(frames, item)
				}
			}
			return frames
		}
	}

	var frames [][]byte
	for _, line := range bytes.Split(trimmed, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		if bytes.HasPrefix(line, dataPrefix) {
			line = bytes.TrimSpace(line[len(dataPrefix):])
		} else if isSSEField(line) {
			continue
		}
		if len(line) == 0 || bytes.Equal(line, doneSentinel) {
			continue
		}
		frames = append(frames, line)
	}
	return frames
}

func isSSEField(line []byte) bool {
	for _, f := range sseFields {
		if bytes.HasPrefix(line, f) {
			return true
		}
	}
	return false
}
