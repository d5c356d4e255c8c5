package qpack

// A DecoderInstructionParser reads the decoder instruction stream and
// dispatches every fully-received instruction to its handler, which
// usually is the encoder's HandleInstruction.
//
// Like the EncoderInstructionParser, it tolerates arbitrary chunking.
type DecoderInstructionParser struct {
	handler func(Instruction) error

	buf []byte
}

// NewDecoderInstructionParser returns a parser for the decoder
// instruction stream.
func NewDecoderInstructionParser(handler func(Instruction) error) *DecoderInstructionParser {
	return &DecoderInstructionParser{handler: handler}
}

func (p *DecoderInstructionParser) Write(data []byte) (int, error) {
	p.buf = append(p.buf, data...)
	for len(p.buf) > 0 {
		instr, rest, err := parseDecoderInstruction(p.buf)
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

func parseDecoderInstruction(b []byte) (Instruction, []byte, error) {
	switch {
	case b[0]&0x80 > 0: // 1...: Section Acknowledgment
		streamID, rest, err := readVarInt(7, b)
		if err != nil {
			return nil, b, err
		}
		return SectionAcknowledgmentInstruction{StreamID: streamID}, rest, nil
	case b[0]&0x40 > 0: // 01...: Stream Cancellation
		streamID, rest, err := readVarInt(6, b)
		if err != nil {
			return nil, b, err
		}
		return StreamCancellationInstruction{StreamID: streamID}, rest, nil
	default: // 00...: Insert Count Increment
		increment, rest, err := readVarInt(6, b)
		if err != nil {
			return nil, b, err
		}
		return InsertCountIncrementInstruction{Increment: increment}, rest, nil
	}
}
