package qpack

// An EncoderInstructionParser reads the encoder instruction stream
// and dispatches every fully-received instruction to its handler.
//
// The stream may be chunked arbitrarily: Write buffers the bytes of a
// partially received instruction and resumes on the next call. An
// instruction is dispatched exactly once, and only once complete.
type EncoderInstructionParser struct {
	handler func(Instruction) error

	buf []byte
}

// NewEncoderInstructionParser returns a parser for the encoder
// instruction stream. The handler is called for each parsed
// instruction, in the same goroutine as calls to Write, before Write
// returns. It usually is the decoder's HandleInstruction.
func NewEncoderInstructionParser(handler func(Instruction) error) *EncoderInstructionParser {
	return &EncoderInstructionParser{handler: handler}
}

func (p *EncoderInstructionParser) Write(data []byte) (int, error) {
	p.buf = append(p.buf, data...)
	for len(p.buf) > 0 {
		instr, rest, err := parseEncoderInstruction(p.buf)
		if err == errNeedMore {
			break
		}
		if err != nil {
			return len(data), err
		}
		p.buf = p.buf[:copy(p.buf, rest)]
		if err := p.handler(instr); err != nil {
			return len(data), err
		}
	}
	return len(data), nil
}

func parseEncoderInstruction(b []byte) (Instruction, []byte, error) {
	switch {
	case b[0]&0x80 > 0: // 1T...: Insert with Name Reference
		static := b[0]&0x40 > 0
		nameIndex, rest, err := readVarInt(6, b)
		if err != nil {
			return nil, b, err
		}
		value, rest, err := readStringLiteral(7, rest)
		if err != nil {
			return nil, b, err
		}
		return InsertWithNameReferenceInstruction{
			Static:    static,
			NameIndex: nameIndex,
			Value:     value,
		}, rest, nil
	case b[0]&0x40 > 0: // 01H...: Insert with Literal Name
		name, rest, err := readStringLiteral(5, b)
		if err != nil {
			return nil, b, err
		}
		value, rest, err := readStringLiteral(7, rest)
		if err != nil {
			return nil, b, err
		}
		return InsertWithLiteralNameInstruction{Name: name, Value: value}, rest, nil
	case b[0]&0x20 > 0: // 001...: Set Dynamic Table Capacity
		capacity, rest, err := readVarInt(5, b)
		if err != nil {
			return nil, b, err
		}
		return SetCapacityInstruction{Capacity: capacity}, rest, nil
	default: // 000...: Duplicate
		index, rest, err := readVarInt(5, b)
		if err != nil {
			return nil, b, err
		}
		return DuplicateInstruction{Index: index}, rest, nil
	}
}
