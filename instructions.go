package qpack

// An Instruction is a single message on one of the two instruction
// streams (RFC 9204, Sections 4.3 and 4.4). Encoder instructions
// (capacity changes and insertions) travel from encoder to decoder,
// decoder instructions (acknowledgments and cancellations) travel the
// other way. An Instruction only exists to be appended to the stream
// once, or to be handed to the peer's handler once parsed.
type Instruction interface {
	// Append appends the instruction's wire encoding to b.
	Append(b []byte) []byte
}

// A SetCapacityInstruction changes the dynamic table capacity
// (RFC 9204, Section 4.3.1).
type SetCapacityInstruction struct {
	Capacity uint64
}

func (i SetCapacityInstruction) Append(b []byte) []byte {
	offset := len(b)
	b = appendVarInt(b, 5, i.Capacity)
	b[offset] ^= 0x20
	return b
}

// An InsertWithNameReferenceInstruction adds an entry whose name
// equals that of an existing static or dynamic table entry
// (RFC 9204, Section 4.3.2). For a dynamic reference, NameIndex is
// relative to the current insert count.
type InsertWithNameReferenceInstruction struct {
	Static    bool
	NameIndex uint64
	Value     string
	Huffman   bool
}

func (i InsertWithNameReferenceInstruction) Append(b []byte) []byte {
	offset := len(b)
	b = appendVarInt(b, 6, i.NameIndex)
	b[offset] ^= 0x80
	if i.Static {
		b[offset] ^= 0x40
	}
	return appendStringLiteral(b, 7, i.Huffman, i.Value)
}

// An InsertWithLiteralNameInstruction adds an entry with both name and
// value carried as string literals (RFC 9204, Section 4.3.3).
type InsertWithLiteralNameInstruction struct {
	Name    string
	Value   string
	Huffman bool
}

func (i InsertWithLiteralNameInstruction) Append(b []byte) []byte {
	offset := len(b)
	b = appendStringLiteral(b, 5, i.Huffman, i.Name)
	b[offset] ^= 0x40
	return appendStringLiteral(b, 7, i.Huffman, i.Value)
}

// A DuplicateInstruction re-inserts an existing entry at the top of
// the table (RFC 9204, Section 4.3.4). Index is relative to the
// current insert count.
type DuplicateInstruction struct {
	Index uint64
}

func (i DuplicateInstruction) Append(b []byte) []byte {
	return appendVarInt(b, 5, i.Index)
}

// A SectionAcknowledgmentInstruction tells the encoder that a field
// section was fully decoded (RFC 9204, Section 4.4.1).
type SectionAcknowledgmentInstruction struct {
	StreamID uint64
}

func (i SectionAcknowledgmentInstruction) Append(b []byte) []byte {
	offset := len(b)
	b = appendVarInt(b, 7, i.StreamID)
	b[offset] ^= 0x80
	return b
}

// A StreamCancellationInstruction tells the encoder that a stream was
// reset and its unacknowledged sections abandoned
// (RFC 9204, Section 4.4.2).
type StreamCancellationInstruction struct {
	StreamID uint64
}

func (i StreamCancellationInstruction) Append(b []byte) []byte {
	offset := len(b)
	b = appendVarInt(b, 6, i.StreamID)
	b[offset] ^= 0x40
	return b
}

// An InsertCountIncrementInstruction advances the encoder's Known
// Received Count (RFC 9204, Section 4.4.3).
type InsertCountIncrementInstruction struct {
	Increment uint64
}

func (i InsertCountIncrementInstruction) Append(b []byte) []byte {
	return appendVarInt(b, 6, i.Increment)
}
