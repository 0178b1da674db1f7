package om

import (
	"strconv"
	"strings"

	"github.com/canopy-network/generals/lib"
	pool "github.com/libp2p/go-buffer-pool"
	"google.golang.org/protobuf/encoding/protowire"
)

/*
	A Message is one hop's worth of information: nTraitors+1 provenance slots and a trailing decision.
	Slot nTraitors holds the commander. The general relaying at tier t stamps slot t-1, so slots fill from the outermost
	hop inward as the recursion descends.

	On a channel a Message travels as a frame: fixed32 protobuf fields, one per slot (id+1, zero is blank) followed by
	the decision. Every field is fixed width, so the frame width depends only on nTraitors and stays constant for a run.
*/

// NoSender marks a provenance slot nobody has stamped yet
const NoSender = -1

const valueField protowire.Number = 1

// slotField() is the frame field number of provenance slot k
func slotField(k int) protowire.Number { return protowire.Number(k + 2) }

// Message is the structured form of a relayed order
type Message struct {
	Path  []int    // provenance slots, NoSender when blank
	Value Decision // the order as relayed by the most recent sender
}

// NewMessage() returns a message with every provenance slot blank
func NewMessage(nTraitors int, value Decision) *Message {
	path := make([]int, nTraitors+1)
	for i := range path {
		path[i] = NoSender
	}
	return &Message{Path: path, Value: value}
}

// Stamp() records id as the sender of provenance slot k
func (m *Message) Stamp(k, id int) { m.Path[k] = id }

// Relayers() returns the ids already stamped, innermost hop first
func (m *Message) Relayers() (ids []int) {
	for _, id := range m.Path {
		if id != NoSender {
			ids = append(ids, id)
		}
	}
	return
}

// String() renders stamped slots innermost first then the value, e.g. '2:0:A'
func (m *Message) String() string {
	var b strings.Builder
	for _, id := range m.Relayers() {
		b.WriteString(strconv.Itoa(id))
		b.WriteByte(':')
	}
	b.WriteString(m.Value.String())
	return b.String()
}

// FrameWidth() is the encoded size of every message in a run with nTraitors traitors
func FrameWidth(nTraitors int) int {
	w := protowire.SizeTag(valueField) + protowire.SizeFixed32()
	for k := 0; k <= nTraitors; k++ {
		w += protowire.SizeTag(slotField(k)) + protowire.SizeFixed32()
	}
	return w
}

// MarshalFrame() encodes the message into a pooled buffer; the receiver of the frame returns it to the pool
func (m *Message) MarshalFrame() []byte {
	buf := pool.Get(FrameWidth(len(m.Path) - 1))[:0]
	for k, id := range m.Path {
		buf = protowire.AppendTag(buf, slotField(k), protowire.Fixed32Type)
		buf = protowire.AppendFixed32(buf, uint32(id+1))
	}
	buf = protowire.AppendTag(buf, valueField, protowire.Fixed32Type)
	return protowire.AppendFixed32(buf, uint32(m.Value))
}

// UnmarshalFrame() decodes a frame of a run with nTraitors traitors
func UnmarshalFrame(frame []byte, nTraitors int) (*Message, lib.ErrorI) {
	if width := FrameWidth(nTraitors); len(frame) != width {
		return nil, ErrFrameWidth(width, len(frame))
	}
	m := NewMessage(nTraitors, Unknown)
	for len(frame) > 0 {
		num, typ, n := protowire.ConsumeTag(frame)
		if n < 0 {
			return nil, ErrFrameDecode(n)
		}
		frame = frame[n:]
		if typ != protowire.Fixed32Type {
			return nil, ErrUnexpectedField(num, typ)
		}
		v, n := protowire.ConsumeFixed32(frame)
		if n < 0 {
			return nil, ErrFrameDecode(n)
		}
		frame = frame[n:]
		switch k := int(num) - 2; {
		case num == valueField:
			m.Value = Decision(v)
		case k >= 0 && k <= nTraitors:
			m.Path[k] = int(v) - 1
		default:
			return nil, ErrUnexpectedField(num, typ)
		}
	}
	return m, nil
}
