package qpack

import (
	"fmt"
	"reflect"

	"github.com/quic-kit/qpack"
)

func Fuzz(data []byte) int {
	// Interpret the input as a field section on its own. Without
	// encoder instructions the dynamic table stays empty, so only
	// sections with a Required Insert Count of zero decode.
	var fields []qpack.HeaderField
	decoder := qpack.NewDecoder(
		0, 0,
		func(qpack.Instruction) {},
		func(_ uint64, hfs []qpack.HeaderField) { fields = hfs },
	)
	if err := decoder.Decode(0, data); err != nil {
		return 0
	}
	if len(fields) == 0 {
		return 0
	}

	// Re-encode through a connected pair and compare.
	var (
		enc     *qpack.Encoder
		dec     *qpack.Decoder
		decoded []qpack.HeaderField
	)
	encoderStream := qpack.NewEncoderInstructionParser(func(instr qpack.Instruction) error {
		return dec.HandleInstruction(instr)
	})
	decoderStream := qpack.NewDecoderInstructionParser(func(instr qpack.Instruction) error {
		return enc.HandleInstruction(instr)
	})
	enc = qpack.NewEncoder(4096, 16, func(instr qpack.Instruction) {
		if _, err := encoderStream.Write(instr.Append(nil)); err != nil {
			panic(err)
		}
	})
	dec = qpack.NewDecoder(
		4096, 16,
		func(instr qpack.Instruction) {
			if _, err := decoderStream.Write(instr.Append(nil)); err != nil {
				panic(err)
			}
		},
		func(_ uint64, hfs []qpack.HeaderField) { decoded = hfs },
	)
	if err := enc.SetCapacity(4096); err != nil {
		panic(err)
	}
	if err := dec.Decode(0, enc.EncodeHeaderFields(0, fields)); err != nil {
		fmt.Printf("Fields: %#v\n", fields)
		panic(err)
	}
	if !reflect.DeepEqual(fields, decoded) {
		fmt.Printf("%#v vs %#v", fields, decoded)
		panic("unequal")
	}
	return 1
}
