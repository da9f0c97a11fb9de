package transport

import "bytes"

// splitFrames returns a bufio.SplitFunc that cuts on NUL and, when newline
// is set, also on '\n'. A trailing partial frame at EOF is returned as is.
func splitFrames(newline bool) func(data []byte, atEOF bool) (int, []byte, error) {
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		i := bytes.IndexByte(data, 0)
		if newline {
			if j := bytes.IndexByte(data, '\n'); j >= 0 && (i < 0 || j < i) {
				i = j
			}
		}
		if i >= 0 {
			return i + 1, data[:i], nil
		}
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}
