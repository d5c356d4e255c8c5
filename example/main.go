package main

import (
	"fmt"

	"github.com/quic-kit/qpack"
)

// Connects an encoder and a decoder through both instruction streams
// and sends a few requests, printing the encoded sections and the
// instruction traffic along the way.
func main() {
	var (
		encoder *qpack.Encoder
		decoder *qpack.Decoder
	)
	encoderStream := qpack.NewEncoderInstructionParser(func(instr qpack.Instruction) error {
		fmt.Printf("  encoder stream: %#v\n", instr)
		return decoder.HandleInstruction(instr)
	})
	decoderStream := qpack.NewDecoderInstructionParser(func(instr qpack.Instruction) error {
		fmt.Printf("  decoder stream: %#v\n", instr)
		return encoder.HandleInstruction(instr)
	})
	encoder = qpack.NewEncoder(4096, 16, func(instr qpack.Instruction) {
		if _, err := encoderStream.Write(instr.Append(nil)); err != nil {
			panic(err)
		}
	})
	decoder = qpack.NewDecoder(
		4096, 16,
		func(instr qpack.Instruction) {
			if _, err := decoderStream.Write(instr.Append(nil)); err != nil {
				panic(err)
			}
		},
		func(streamID uint64, fields []qpack.HeaderField) {
			fmt.Printf("  decoded on stream %d:\n", streamID)
			for _, hf := range fields {
				fmt.Printf("    %#v\n", hf)
			}
		},
	)
	if err := encoder.SetCapacity(4096); err != nil {
		panic(err)
	}

	requests := [][]qpack.HeaderField{
		{
			{Name: ":method", Value: "GET"},
			{Name: ":scheme", Value: "https"},
			{Name: ":authority", Value: "www.example.com"},
			{Name: ":path", Value: "/index.html"},
			{Name: "user-agent", Value: "qpack-example/1.0"},
		},
		{
			{Name: ":method", Value: "GET"},
			{Name: ":scheme", Value: "https"},
			{Name: ":authority", Value: "www.example.com"},
			{Name: ":path", Value: "/style.css"},
			{Name: "user-agent", Value: "qpack-example/1.0"},
		},
	}

	for i, fields := range requests {
		streamID := uint64(4 * i)
		fmt.Printf("\nRequest on stream %d:\n", streamID)
		data := encoder.EncodeHeaderFields(streamID, fields)
		fmt.Printf("  field section: %x\n", data)
		if err := decoder.Decode(streamID, data); err != nil {
			panic(err)
		}
	}
}
