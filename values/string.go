package values

import (
	"sync"
	"unicode/utf8"

	"github.com/wudi/heyvm/heap"
)

// StringEncoding tags a PHPString's byte payload.
type StringEncoding byte

const (
	EncBinary StringEncoding = iota
	EncASCII
	EncUTF8
)

func (e StringEncoding) String() string {
	switch e {
	case EncASCII:
		return "ascii"
	case EncUTF8:
		return "utf8"
	default:
		return "binary"
	}
}

// PHPString is an immutable byte sequence with an encoding tag, boxed and
// reference-counted like every other composite. Mutating operations
// (Concat, interpolation) always produce a new box.
type PHPString struct {
	box   *heap.Box
	bytes []byte
	enc   StringEncoding
}

func (s *PHPString) Children() []*heap.Box { return nil }
func (s *PHPString) Destroy()              { s.bytes = nil }

// String returns the payload as a Go string (a copy; the box's bytes are
// never aliased out).
func (s *PHPString) String() string { return string(s.bytes) }

// Len returns the byte length.
func (s *PHPString) Len() int { return len(s.bytes) }

// Encoding returns the payload's encoding tag.
func (s *PHPString) Encoding() StringEncoding { return s.enc }

// internMaxLen bounds the process-wide interning pool: strings shorter
// than 32 bytes are interned by content. Interning changes only identity
// speed, never Value semantics.
const internMaxLen = 32

var (
	internMu   sync.Mutex
	internPool = map[string]*PHPString{}
)

func detectEncoding(s string) StringEncoding {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return EncASCII
	}
	if utf8.ValidString(s) {
		return EncUTF8
	}
	return EncBinary
}

// NewString returns a string value owning one reference to its box. Short
// strings resolve through the interning pool, which holds its own
// permanent reference, so an interned box is shared by every holder and
// never freed.
func NewString(s string) *Value {
	if len(s) < internMaxLen {
		internMu.Lock()
		ps, ok := internPool[s]
		if !ok {
			ps = newPHPString(s)
			internPool[s] = ps // the pool's own reference is the initial one
		}
		ps.box.Retain()
		internMu.Unlock()
		return &Value{typ: TypeString, box: ps.box, composite: ps}
	}
	ps := newPHPString(s)
	return &Value{typ: TypeString, box: ps.box, composite: ps}
}

func newPHPString(s string) *PHPString {
	ps := &PHPString{bytes: []byte(s), enc: detectEncoding(s)}
	ps.box = heap.NewBox(heap.KindString, true, ps)
	return ps
}

func (v *Value) stringData() *PHPString {
	s, _ := v.Deref().composite.(*PHPString)
	return s
}

// stringValue returns the payload of a string value, "" otherwise.
func (v *Value) stringValue() string {
	if s := v.stringData(); s != nil {
		return s.String()
	}
	return ""
}

// StringEncodingOf returns the encoding tag of a string value.
func (v *Value) StringEncodingOf() (StringEncoding, bool) {
	s := v.stringData()
	if s == nil {
		return EncBinary, false
	}
	return s.Encoding(), true
}
