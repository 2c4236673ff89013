package procexec

import (
	"bytes"
	"io"
	"log"
	"sync"
	"unicode/utf8"
)

// lockedBuffer is a byte buffer safe for one writer and a later reader
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Bytes()
}

// pump drains one output stream. Raw bytes go to the accumulation buffer
// byte-exact; text is forwarded best-effort UTF-8, withholding a trailing
// partial rune until its continuation bytes arrive.
type pump struct {
	name    string
	sink    Sink
	buf     *lockedBuffer
	pending []byte
}

func newPump(name string, sink Sink, buf *lockedBuffer) *pump {
	return &pump{name: name, sink: sink, buf: buf}
}

func (p *pump) consume(r io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			p.buf.Write(chunk[:n])
			p.forward(chunk[:n])
		}
		if err != nil {
			return
		}
	}
}

// forward decodes as much of pending+data as forms complete UTF-8 and
// pushes it to the sink and the log. The withheld tail only affects
// forwarding; the accumulation buffer already holds every byte.
func (p *pump) forward(data []byte) {
	p.pending = append(p.pending, data...)
	complete, rest := splitCompleteUTF8(p.pending)
	if len(complete) == 0 {
		return
	}
	// complete and rest alias p.pending; copy the text out before the
	// withheld tail is moved to the front of the buffer.
	text := string(complete)
	p.pending = append(p.pending[:0], rest...)
	p.emit(text)
}

// flush forwards whatever is still withheld, replacing any dangling
// partial sequence lossily. Called once after the stream hits EOF.
func (p *pump) flush() {
	if len(p.pending) == 0 {
		return
	}
	p.emit(string(bytes.ToValidUTF8(p.pending, []byte("�"))))
	p.pending = nil
}

func (p *pump) emit(text string) {
	p.sink.Write(text)
	log.Printf("[procexec] %s: %s", p.name, text)
}

// splitCompleteUTF8 splits b into the longest prefix that ends on a rune
// boundary and the remaining bytes of a possibly incomplete final rune.
func splitCompleteUTF8(b []byte) (complete, rest []byte) {
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		idx := len(b) - i
		c := b[idx]
		if !utf8.RuneStart(c) {
			continue
		}
		// Found the start of the final sequence; withhold it only while
		// continuation bytes are still outstanding.
		if need := encodedLen(c); need > i {
			return b[:idx], b[idx:]
		}
		break
	}
	return b, nil
}

// encodedLen returns the expected byte length of a UTF-8 sequence starting
// with c. Invalid lead bytes report 1 so they flow through immediately.
func encodedLen(c byte) int {
	switch {
	case c < 0x80:
		return 1
	case c&0xE0 == 0xC0:
		return 2
	case c&0xF0 == 0xE0:
		return 3
	case c&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}
