package qpack

import (
	"fmt"
)

// A section records the dynamic table references made by one encoded
// field section, so that acknowledgment (or cancellation) can release
// them and raise the Known Received Count.
type section struct {
	requiredInsertCount uint64
	entries             []*tableEntry
}

// An Encoder performs QPACK encoding. It owns the encoder-side mirror
// of the dynamic table.
//
// An Encoder is not safe for concurrent use. Calls for different
// streams may be freely interleaved, but must be serialized by the
// caller, as all of them mutate the shared table.
type Encoder struct {
	onInstruction func(Instruction)

	table              dynamicTable
	knownReceivedCount uint64
	maxBlockedStreams  int

	// per-stream FIFO of encoded, not yet acknowledged sections
	sections map[uint64][]section
}

// NewEncoder returns a new Encoder. Every encoder instruction it
// produces is passed to onInstruction, synchronously and exactly once,
// for the caller to serialize onto the encoder instruction stream.
// The encoder lets at most maxBlockedStreams streams reference table
// entries the decoder has not yet acknowledged.
//
// maxTableCapacity is the decoder's advertised
// SETTINGS_QPACK_MAX_TABLE_CAPACITY. SetCapacity may not exceed it,
// and both endpoints must use the same value, as it anchors the
// Required Insert Count wrapping in the section prefix.
func NewEncoder(maxTableCapacity uint64, maxBlockedStreams int, onInstruction func(Instruction)) *Encoder {
	return &Encoder{
		onInstruction:     onInstruction,
		maxBlockedStreams: maxBlockedStreams,
		table:             dynamicTable{maxCapacity: maxTableCapacity},
		sections:          make(map[uint64][]section),
	}
}

// SetCapacity changes the dynamic table capacity and emits the
// corresponding instruction. It fails if the required evictions would
// touch an entry referenced by an unacknowledged section.
func (e *Encoder) SetCapacity(capacity uint64) error {
	if err := e.table.setCapacity(capacity); err != nil {
		return err
	}
	e.onInstruction(SetCapacityInstruction{Capacity: capacity})
	return nil
}

// Insert speculatively adds a field to the dynamic table, emitting the
// corresponding instruction, without producing any field section
// bytes. If an identical entry already exists, a Duplicate instruction
// is emitted instead of re-transmitting the literals.
func (e *Encoder) Insert(f HeaderField) error {
	if !e.table.canInsert(f) {
		return ErrInsufficientCapacity
	}
	var instr Instruction
	if exact, ok, _, _ := e.table.lookup(f.Name, f.Value); ok {
		instr = DuplicateInstruction{Index: e.table.insertCount - 1 - exact}
	} else {
		instr = e.insertInstruction(f)
	}
	if err := e.table.insert(f); err != nil {
		return err
	}
	e.onInstruction(instr)
	return nil
}

// insertInstruction picks the cheapest insertion wire form for f:
// a static name reference, a dynamic name reference, or literals.
func (e *Encoder) insertInstruction(f HeaderField) Instruction {
	if iv, ok := encoderMap[f.Name]; ok {
		return InsertWithNameReferenceInstruction{
			Static:    true,
			NameIndex: uint64(iv.idx),
			Value:     f.Value,
		}
	}
	if _, _, nameIndex, ok := e.table.lookup(f.Name, f.Value); ok {
		return InsertWithNameReferenceInstruction{
			NameIndex: e.table.insertCount - 1 - nameIndex,
			Value:     f.Value,
		}
	}
	return InsertWithLiteralNameInstruction{Name: f.Name, Value: f.Value}
}

// EncodeHeaderFields encodes a field section for the given stream and
// returns its serialized form. Table-mutating instructions produced
// along the way are emitted through the instruction callback before
// EncodeHeaderFields returns.
func (e *Encoder) EncodeHeaderFields(streamID uint64, fields []HeaderField) []byte {
	st := sectionState{
		encoder:  e,
		streamID: streamID,
		base:     e.table.insertCount,
	}
	for _, f := range fields {
		st.encodeField(f)
	}

	buf := st.appendPrefix(nil)
	buf = append(buf, st.buf...)

	e.sections[streamID] = append(e.sections[streamID], section{
		requiredInsertCount: st.requiredInsertCount,
		entries:             st.referenced,
	})
	return buf
}

// sectionState accumulates one field section during encoding.
type sectionState struct {
	encoder  *Encoder
	streamID uint64
	base     uint64

	buf                 []byte
	requiredInsertCount uint64
	referenced          []*tableEntry
	blocked             bool // section references an unacknowledged entry
}

func (st *sectionState) encodeField(f HeaderField) {
	idxAndVals, staticName := encoderMap[f.Name]
	if staticName {
		if len(f.Value) == 0 && idxAndVals.values == nil {
			st.writeIndexedStatic(uint64(idxAndVals.idx))
			return
		}
		if idx, ok := idxAndVals.values[f.Value]; ok {
			st.writeIndexedStatic(uint64(idx))
			return
		}
	}

	exact, hasExact, dynName, hasDynName := st.encoder.table.lookup(f.Name, f.Value)
	if hasExact && st.canReference(exact) {
		st.reference(exact)
		st.writeIndexedDynamic(exact)
		return
	}

	// No referenceable exact match. Try to grow the table, then
	// reference the fresh entry.
	if abs, ok := st.tryInsert(f, idxAndVals, staticName, dynName, hasDynName); ok {
		st.reference(abs)
		st.writeIndexedDynamic(abs)
		return
	}

	switch {
	case staticName:
		st.writeLiteralWithStaticNameReference(f, uint64(idxAndVals.idx))
	case hasDynName && st.canReference(dynName):
		st.reference(dynName)
		st.writeLiteralWithDynamicNameReference(f, dynName)
	default:
		st.writeLiteralWithLiteralName(f)
	}
}

// tryInsert inserts f into the table if the blocked stream limit and
// the table capacity allow it, and returns the new absolute index.
func (st *sectionState) tryInsert(f HeaderField, iv indexAndValues, staticName bool, dynName uint64, hasDynName bool) (uint64, bool) {
	e := st.encoder
	abs := e.table.insertCount
	if !st.canReference(abs) || !e.table.canInsert(f) {
		return 0, false
	}
	var instr Instruction
	switch {
	case staticName:
		instr = InsertWithNameReferenceInstruction{
			Static:    true,
			NameIndex: uint64(iv.idx),
			Value:     f.Value,
		}
	case hasDynName:
		instr = InsertWithNameReferenceInstruction{
			NameIndex: e.table.insertCount - 1 - dynName,
			Value:     f.Value,
		}
	default:
		instr = InsertWithLiteralNameInstruction{Name: f.Name, Value: f.Value}
	}
	if err := e.table.insert(f); err != nil {
		return 0, false
	}
	e.onInstruction(instr)
	return abs, true
}

// canReference reports whether this section may reference the entry
// with the given absolute index without exceeding the blocked stream
// limit.
func (st *sectionState) canReference(absIndex uint64) bool {
	e := st.encoder
	if absIndex < e.knownReceivedCount {
		return true
	}
	if st.blocked || e.streamBlocked(st.streamID) {
		return true
	}
	return e.numBlockedStreams() < e.maxBlockedStreams
}

// reference pins the entry against eviction until the section is
// acknowledged and raises the section's Required Insert Count.
func (st *sectionState) reference(absIndex uint64) {
	entry, ok := st.encoder.table.get(absIndex)
	if !ok {
		// lookup and tryInsert only produce live indices
		panic(fmt.Sprintf("qpack: reference to evicted entry %d", absIndex))
	}
	entry.refs++
	st.referenced = append(st.referenced, entry)
	if absIndex+1 > st.requiredInsertCount {
		st.requiredInsertCount = absIndex + 1
	}
	if absIndex >= st.encoder.knownReceivedCount {
		st.blocked = true
	}
}

// appendPrefix appends the Encoded Required Insert Count and the
// Delta Base (RFC 9204, Section 4.5.1).
func (st *sectionState) appendPrefix(b []byte) []byte {
	ric := st.requiredInsertCount
	var encodedRIC uint64
	if ric > 0 {
		encodedRIC = ric%(2*st.encoder.table.maxEntries()) + 1
	}
	b = appendVarInt(b, 8, encodedRIC)
	offset := len(b)
	if st.base >= ric {
		b = appendVarInt(b, 7, st.base-ric)
	} else {
		b = appendVarInt(b, 7, ric-st.base-1)
		b[offset] ^= 0x80
	}
	return b
}

func (st *sectionState) writeIndexedStatic(idx uint64) {
	offset := len(st.buf)
	st.buf = appendVarInt(st.buf, 6, idx)
	// Set the 1Txxxxxx pattern, forcing T to 1
	st.buf[offset] ^= 0xc0
}

// writeIndexedDynamic writes an indexed field line for a dynamic table
// entry: relative to the base, or post-base for entries inserted
// during this section.
func (st *sectionState) writeIndexedDynamic(absIndex uint64) {
	offset := len(st.buf)
	if absIndex < st.base {
		st.buf = appendVarInt(st.buf, 6, st.base-1-absIndex)
		st.buf[offset] ^= 0x80
	} else {
		st.buf = appendVarInt(st.buf, 4, absIndex-st.base)
		st.buf[offset] ^= 0x10
	}
}

func (st *sectionState) writeLiteralWithStaticNameReference(f HeaderField, idx uint64) {
	offset := len(st.buf)
	st.buf = appendVarInt(st.buf, 4, idx)
	// Set the 01NTxxxx pattern, forcing N to 0 and T to 1
	st.buf[offset] ^= 0x50
	st.buf = appendStringLiteral(st.buf, 7, false, f.Value)
}

func (st *sectionState) writeLiteralWithDynamicNameReference(f HeaderField, absIndex uint64) {
	offset := len(st.buf)
	if absIndex < st.base {
		// 01NTxxxx with T=0
		st.buf = appendVarInt(st.buf, 4, st.base-1-absIndex)
		st.buf[offset] ^= 0x40
	} else {
		// 0000Nxxx, post-base name reference
		st.buf = appendVarInt(st.buf, 3, absIndex-st.base)
	}
	st.buf = appendStringLiteral(st.buf, 7, false, f.Value)
}

func (st *sectionState) writeLiteralWithLiteralName(f HeaderField) {
	offset := len(st.buf)
	st.buf = appendStringLiteral(st.buf, 3, false, f.Name)
	st.buf[offset] ^= 0x20
	st.buf = appendStringLiteral(st.buf, 7, false, f.Value)
}

// streamBlocked reports whether the stream has an unacknowledged
// section the decoder cannot have processed yet.
func (e *Encoder) streamBlocked(streamID uint64) bool {
	for _, s := range e.sections[streamID] {
		if s.requiredInsertCount > e.knownReceivedCount {
			return true
		}
	}
	return false
}

// numBlockedStreams counts the streams currently blocked on
// unacknowledged insertions.
func (e *Encoder) numBlockedStreams() int {
	var n int
	for _, sections := range e.sections {
		for _, s := range sections {
			if s.requiredInsertCount > e.knownReceivedCount {
				n++
				break
			}
		}
	}
	return n
}

// HandleInstruction applies a single decoder instruction, usually
// dispatched by a DecoderInstructionParser reading the decoder
// instruction stream.
func (e *Encoder) HandleInstruction(instr Instruction) error {
	switch i := instr.(type) {
	case SectionAcknowledgmentInstruction:
		return e.onSectionAcknowledgment(i.StreamID)
	case StreamCancellationInstruction:
		e.releaseStream(i.StreamID)
		return nil
	case InsertCountIncrementInstruction:
		return e.onInsertCountIncrement(i.Increment)
	default:
		return ErrMalformedInstruction
	}
}

func (e *Encoder) onSectionAcknowledgment(streamID uint64) error {
	sections := e.sections[streamID]
	if len(sections) == 0 {
		return decodingError{fmt.Errorf("section acknowledgment for unknown stream %d", streamID)}
	}
	acked := sections[0]
	if len(sections) == 1 {
		delete(e.sections, streamID)
	} else {
		e.sections[streamID] = sections[1:]
	}
	for _, entry := range acked.entries {
		entry.refs--
	}
	if acked.requiredInsertCount > e.knownReceivedCount {
		e.knownReceivedCount = acked.requiredInsertCount
	}
	return nil
}

func (e *Encoder) releaseStream(streamID uint64) {
	for _, s := range e.sections[streamID] {
		for _, entry := range s.entries {
			entry.refs--
		}
	}
	delete(e.sections, streamID)
}

func (e *Encoder) onInsertCountIncrement(increment uint64) error {
	if increment == 0 || e.knownReceivedCount+increment > e.table.insertCount {
		return decodingError{fmt.Errorf("invalid insert count increment %d", increment)}
	}
	e.knownReceivedCount += increment
	return nil
}
