package qpack

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Encoder", func() {
	var (
		encoder      *Encoder
		instructions []Instruction
	)

	BeforeEach(func() {
		instructions = nil
		encoder = NewEncoder(4096, 100, func(i Instruction) {
			instructions = append(instructions, i)
		})
	})

	readPrefix := func(data []byte) (rest []byte, requiredInsertCount uint64, deltaBase uint64) {
		var err error
		requiredInsertCount, rest, err = readVarInt(8, data)
		Expect(err).ToNot(HaveOccurred())
		deltaBase, rest, err = readVarInt(7, rest)
		Expect(err).ToNot(HaveOccurred())
		return
	}

	checkHeaderField := func(data []byte, hf HeaderField) []byte {
		Expect(data[0] & (0x80 ^ 0x40 ^ 0x20)).To(Equal(uint8(0x20))) // 001xxxxx
		Expect(data[0] & 0x8).To(BeZero())                            // no Huffman encoding
		nameLen, data, err := readVarInt(3, data)
		Expect(err).ToNot(HaveOccurred())
		Expect(nameLen).To(BeEquivalentTo(len(hf.Name)))
		Expect(string(data[:len(hf.Name)])).To(Equal(hf.Name))
		valueLen, data, err := readVarInt(7, data[len(hf.Name):])
		Expect(err).ToNot(HaveOccurred())
		Expect(valueLen).To(BeEquivalentTo(len(hf.Value)))
		Expect(string(data[:len(hf.Value)])).To(Equal(hf.Value))
		return data[len(hf.Value):]
	}

	It("encodes a single field", func() {
		hf := HeaderField{Name: "foobar", Value: "lorem ipsum"}
		data, requiredInsertCount, deltaBase := readPrefix(encoder.EncodeHeaderFields(0, []HeaderField{hf}))
		Expect(requiredInsertCount).To(BeZero())
		Expect(deltaBase).To(BeZero())

		data = checkHeaderField(data, hf)
		Expect(data).To(BeEmpty())
		Expect(instructions).To(BeEmpty())
	})

	It("encodes multiple fields", func() {
		hf1 := HeaderField{Name: "foobar", Value: "lorem ipsum"}
		hf2 := HeaderField{Name: "raboof", Value: "dolor sit amet"}
		data, requiredInsertCount, deltaBase := readPrefix(encoder.EncodeHeaderFields(0, []HeaderField{hf1, hf2}))
		Expect(requiredInsertCount).To(BeZero())
		Expect(deltaBase).To(BeZero())

		data = checkHeaderField(data, hf1)
		data = checkHeaderField(data, hf2)
		Expect(data).To(BeEmpty())
	})

	It("encodes all fields of the static table", func() {
		for _, hf := range staticTableEntries {
			if len(hf.Value) == 0 {
				continue
			}
			data, _, _ := readPrefix(encoder.EncodeHeaderFields(0, []HeaderField{hf}))
			// an indexed field line referencing the static table
			Expect(data[0] & 0xc0).To(Equal(uint8(0xc0)))
		}
		Expect(instructions).To(BeEmpty())
	})

	Context("with a dynamic table", func() {
		BeforeEach(func() {
			Expect(encoder.SetCapacity(4096)).To(Succeed())
			Expect(instructions).To(Equal([]Instruction{SetCapacityInstruction{Capacity: 4096}}))
			instructions = nil
		})

		It("inserts an entry and references it post-base", func() {
			hf := HeaderField{Name: "x-custom", Value: "some value"}
			data, requiredInsertCount, deltaBase := readPrefix(encoder.EncodeHeaderFields(0, []HeaderField{hf}))
			Expect(requiredInsertCount).ToNot(BeZero())
			Expect(deltaBase).To(BeZero())
			Expect(instructions).To(Equal([]Instruction{
				InsertWithLiteralNameInstruction{Name: "x-custom", Value: "some value"},
			}))
			// post-base indexed field line, index 0
			Expect(data).To(Equal([]byte{0x10}))
		})

		It("uses a static table name reference for the insertion", func() {
			encoder.EncodeHeaderFields(0, []HeaderField{{Name: ":authority", Value: "www.example.com"}})
			Expect(instructions).To(Equal([]Instruction{
				InsertWithNameReferenceInstruction{Static: true, NameIndex: 0, Value: "www.example.com"},
			}))
		})

		It("references an existing entry instead of inserting it again", func() {
			hf := HeaderField{Name: "x-custom", Value: "some value"}
			encoder.EncodeHeaderFields(0, []HeaderField{hf})
			Expect(instructions).To(HaveLen(1))

			data, requiredInsertCount, _ := readPrefix(encoder.EncodeHeaderFields(4, []HeaderField{hf}))
			// a Required Insert Count of 1, encoded as 1 mod 2*MaxEntries + 1
			Expect(requiredInsertCount).To(BeEquivalentTo(2))
			Expect(instructions).To(HaveLen(1)) // no new instruction
			// indexed field line, relative index 0
			Expect(data).To(Equal([]byte{0x80}))
		})

		It("speculatively inserts a field", func() {
			Expect(encoder.Insert(HeaderField{Name: "custom-key", Value: "custom-value"})).To(Succeed())
			Expect(instructions).To(Equal([]Instruction{
				InsertWithLiteralNameInstruction{Name: "custom-key", Value: "custom-value"},
			}))
		})

		It("duplicates an existing entry instead of re-sending literals", func() {
			hf := HeaderField{Name: "custom-key", Value: "custom-value"}
			Expect(encoder.Insert(hf)).To(Succeed())
			Expect(encoder.Insert(hf)).To(Succeed())
			Expect(instructions).To(Equal([]Instruction{
				InsertWithLiteralNameInstruction{Name: "custom-key", Value: "custom-value"},
				DuplicateInstruction{Index: 0},
			}))
		})

		It("uses a dynamic table name reference for a changed value", func() {
			Expect(encoder.Insert(HeaderField{Name: "custom-key", Value: "custom-value"})).To(Succeed())
			Expect(encoder.Insert(HeaderField{Name: "custom-key", Value: "other-value"})).To(Succeed())
			Expect(instructions[1]).To(Equal(
				InsertWithNameReferenceInstruction{NameIndex: 0, Value: "other-value"},
			))
		})

		It("rejects a capacity above the connection maximum", func() {
			Expect(encoder.SetCapacity(4097)).To(MatchError(ErrCapacityViolation))
			Expect(instructions).To(BeEmpty())
		})

		It("rejects a speculative insert that cannot fit", func() {
			Expect(encoder.SetCapacity(40)).To(Succeed())
			err := encoder.Insert(HeaderField{Name: "custom-key", Value: "custom-value"})
			Expect(err).To(MatchError(ErrInsufficientCapacity))
		})

		It("refuses to shrink the table below its referenced entries", func() {
			encoder.EncodeHeaderFields(0, []HeaderField{{Name: "x-custom", Value: "some value"}})
			Expect(encoder.SetCapacity(0)).To(MatchError(ErrCapacityViolation))

			// acknowledging the section releases the reference
			Expect(encoder.HandleInstruction(SectionAcknowledgmentInstruction{StreamID: 0})).To(Succeed())
			Expect(encoder.SetCapacity(0)).To(Succeed())
		})

		It("raises the known received count on acknowledgment", func() {
			encoder.EncodeHeaderFields(0, []HeaderField{{Name: "x-custom", Value: "some value"}})
			Expect(encoder.knownReceivedCount).To(BeZero())
			Expect(encoder.HandleInstruction(SectionAcknowledgmentInstruction{StreamID: 0})).To(Succeed())
			Expect(encoder.knownReceivedCount).To(BeEquivalentTo(1))
		})

		It("errors on an acknowledgment for an unknown stream", func() {
			Expect(encoder.HandleInstruction(SectionAcknowledgmentInstruction{StreamID: 42})).ToNot(Succeed())
		})

		It("handles insert count increments", func() {
			Expect(encoder.Insert(HeaderField{Name: "custom-key", Value: "custom-value"})).To(Succeed())
			Expect(encoder.HandleInstruction(InsertCountIncrementInstruction{Increment: 1})).To(Succeed())
			Expect(encoder.knownReceivedCount).To(BeEquivalentTo(1))
			// the decoder cannot have received more insertions than we sent
			Expect(encoder.HandleInstruction(InsertCountIncrementInstruction{Increment: 1})).ToNot(Succeed())
		})

		It("releases references on stream cancellation", func() {
			encoder.EncodeHeaderFields(0, []HeaderField{{Name: "x-custom", Value: "some value"}})
			Expect(encoder.SetCapacity(0)).To(MatchError(ErrCapacityViolation))
			Expect(encoder.HandleInstruction(StreamCancellationInstruction{StreamID: 0})).To(Succeed())
			Expect(encoder.SetCapacity(0)).To(Succeed())
		})
	})

	Context("respecting the blocked streams limit", func() {
		BeforeEach(func() {
			encoder = NewEncoder(4096, 1, func(i Instruction) {
				instructions = append(instructions, i)
			})
			Expect(encoder.SetCapacity(4096)).To(Succeed())
			instructions = nil
		})

		It("falls back to literals once the limit is exhausted", func() {
			hf := HeaderField{Name: "x-custom", Value: "some value"}
			encoder.EncodeHeaderFields(0, []HeaderField{hf})
			Expect(instructions).To(HaveLen(1)) // stream 0 is now blocked

			data, requiredInsertCount, _ := readPrefix(encoder.EncodeHeaderFields(4, []HeaderField{hf}))
			Expect(instructions).To(HaveLen(1)) // no new instruction for stream 4
			Expect(requiredInsertCount).To(BeZero())
			data = checkHeaderField(data, hf)
			Expect(data).To(BeEmpty())
		})

		It("lets an already-blocked stream make further references", func() {
			hf1 := HeaderField{Name: "x-custom", Value: "some value"}
			hf2 := HeaderField{Name: "x-other", Value: "other value"}
			encoder.EncodeHeaderFields(0, []HeaderField{hf1})
			encoder.EncodeHeaderFields(0, []HeaderField{hf2})
			Expect(instructions).To(HaveLen(2))
		})

		It("references freely once insertions are acknowledged", func() {
			hf := HeaderField{Name: "x-custom", Value: "some value"}
			encoder.EncodeHeaderFields(0, []HeaderField{hf})
			Expect(encoder.HandleInstruction(SectionAcknowledgmentInstruction{StreamID: 0})).To(Succeed())

			data, requiredInsertCount, _ := readPrefix(encoder.EncodeHeaderFields(4, []HeaderField{hf}))
			Expect(requiredInsertCount).To(BeEquivalentTo(2)) // encoded form of 1
			Expect(data).To(Equal([]byte{0x80}))
		})
	})
})
