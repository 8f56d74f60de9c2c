package decode

import "strings"

// LineSplitter splits streamed text into complete lines regardless of how the
// text is chunked. By default it recognizes \n, \r\n and lone \r endings and
// normalizes them to \n before splitting; a custom separator disables that
// normalization. The unterminated tail is retained across calls and handed
// back by Finish.
type LineSplitter struct {
	separator string
	keepEnds  bool
	remainder string

	// A chunk ending in \r is treated as a complete line immediately, but
	// the \r could be the first half of a \r\n split across chunks. When
	// that happens the leading \n of the next chunk belongs to the ending
	// already consumed and must be swallowed.
	pendingCR bool
}

// NewLineSplitter creates a LineSplitter. An empty separator selects the
// default universal line-ending handling. With keepEnds, returned lines carry
// their terminator (the canonical \n in default mode).
func NewLineSplitter(separator string, keepEnds bool) *LineSplitter {
	return &LineSplitter{separator: separator, keepEnds: keepEnds}
}

// Process consumes one chunk and returns the complete lines found so far.
// Empty input returns no lines and leaves all retained state untouched.
func (s *LineSplitter) Process(data string) []string {
	if data == "" {
		return nil
	}
	if s.separator != "" {
		return s.processSeparator(data)
	}
	return s.processUniversal(data)
}

// Finish returns the retained unterminated tail, if any. Callers decide
// whether a non-terminated tail counts as a line.
func (s *LineSplitter) Finish() (string, bool) {
	s.pendingCR = false
	rem := s.remainder
	s.remainder = ""
	if rem == "" {
		return "", false
	}
	return rem, true
}

func (s *LineSplitter) processUniversal(data string) []string {
	if s.pendingCR {
		s.pendingCR = false
		if data[0] == '\n' {
			data = data[1:]
			if data == "" {
				return nil
			}
		}
	}
	buf := s.remainder + data
	s.remainder = ""

	var lines []string
	start := 0
	for i := 0; i < len(buf); i++ {
		switch buf[i] {
		case '\n':
			lines = append(lines, s.line(buf[start:i]))
			start = i + 1
		case '\r':
			lines = append(lines, s.line(buf[start:i]))
			if i == len(buf)-1 {
				s.pendingCR = true
				return lines
			}
			if buf[i+1] == '\n' {
				i++
			}
			start = i + 1
		}
	}
	s.remainder = buf[start:]
	return lines
}

func (s *LineSplitter) processSeparator(data string) []string {
	buf := s.remainder + data
	s.remainder = ""

	var lines []string
	for {
		i := strings.Index(buf, s.separator)
		if i < 0 {
			break
		}
		if s.keepEnds {
			lines = append(lines, buf[:i+len(s.separator)])
		} else {
			lines = append(lines, buf[:i])
		}
		buf = buf[i+len(s.separator):]
	}
	s.remainder = buf
	return lines
}

func (s *LineSplitter) line(l string) string {
	if s.keepEnds {
		return l + "\n"
	}
	return l
}
