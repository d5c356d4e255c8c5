package qpack

import (
	"fmt"
)

// A pendingSection is a field section whose decoding is deferred until
// the dynamic table reaches its Required Insert Count.
type pendingSection struct {
	requiredInsertCount uint64
	base                uint64
	data                []byte
}

// A Decoder is the decoding context for a connection. It owns the
// decoder-side dynamic table, which is mutated exclusively by encoder
// instructions handed to HandleInstruction.
//
// Like the Encoder, a Decoder is not safe for concurrent use and
// relies on the caller for mutual exclusion.
type Decoder struct {
	onInstruction  func(Instruction)
	onHeaderFields func(streamID uint64, fields []HeaderField)

	table             dynamicTable
	maxBlockedStreams int

	// blocked sections, in arrival order per stream
	pending map[uint64][]pendingSection
}

// NewDecoder returns a new Decoder. Decoded field sections are passed
// to onHeaderFields; decoder instructions (acknowledgments,
// cancellations, insert count increments) are passed to onInstruction
// for the caller to serialize onto the decoder instruction stream.
// Both are called synchronously. At most maxBlockedStreams streams may
// be blocked at a time; a peer exceeding that is a connection error.
//
// maxTableCapacity is this endpoint's advertised
// SETTINGS_QPACK_MAX_TABLE_CAPACITY. The Required Insert Count
// wrapping is anchored on it, so sections arriving ahead of the
// instruction stream unwrap correctly and block instead of failing.
func NewDecoder(maxTableCapacity uint64, maxBlockedStreams int, onInstruction func(Instruction), onHeaderFields func(streamID uint64, fields []HeaderField)) *Decoder {
	return &Decoder{
		onInstruction:     onInstruction,
		onHeaderFields:    onHeaderFields,
		table:             dynamicTable{maxCapacity: maxTableCapacity},
		maxBlockedStreams: maxBlockedStreams,
		pending:           make(map[uint64][]pendingSection),
	}
}

// Decode decodes the field section bytes received on the given stream.
// If the section references table entries not yet received on the
// instruction stream, no fields are emitted yet: the section is parked
// and completed once the table catches up. Blocking is not an error.
func (d *Decoder) Decode(streamID uint64, data []byte) error {
	encodedRIC, rest, err := readVarInt(8, data)
	if err != nil {
		return decodingError{err}
	}
	ric, err := d.decodeRequiredInsertCount(encodedRIC)
	if err != nil {
		return err
	}
	signBit := len(rest) > 0 && rest[0]&0x80 > 0
	deltaBase, rest, err := readVarInt(7, rest)
	if err != nil {
		return decodingError{err}
	}
	var base uint64
	if signBit {
		if deltaBase+1 > ric {
			return decodingError{fmt.Errorf("invalid delta base %d for required insert count %d", deltaBase, ric)}
		}
		base = ric - deltaBase - 1
	} else {
		base = ric + deltaBase
	}

	// Sections on one stream complete in order, so a satisfied section
	// still waits behind an earlier blocked one.
	if ric > d.table.insertCount || len(d.pending[streamID]) > 0 {
		if _, ok := d.pending[streamID]; !ok && len(d.pending) >= d.maxBlockedStreams {
			return decodingError{ErrTooManyBlockedStreams}
		}
		d.pending[streamID] = append(d.pending[streamID], pendingSection{
			requiredInsertCount: ric,
			base:                base,
			data:                append([]byte(nil), rest...),
		})
		return nil
	}
	return d.decodeSection(streamID, ric, base, rest)
}

// decodeSection parses the field line representations, emits the
// reconstructed field set and acknowledges the section.
func (d *Decoder) decodeSection(streamID uint64, ric, base uint64, data []byte) error {
	fields, err := d.parseFieldLines(ric, base, data)
	if err != nil {
		return err
	}
	d.onHeaderFields(streamID, fields)
	d.onInstruction(SectionAcknowledgmentInstruction{StreamID: streamID})
	return nil
}

func (d *Decoder) parseFieldLines(ric, base uint64, data []byte) ([]HeaderField, error) {
	var fields []HeaderField
	for len(data) > 0 {
		var (
			hf  HeaderField
			err error
		)
		b := data[0]
		switch {
		case b&0x80 > 0:
			hf, data, err = d.parseIndexedField(ric, base, data)
		case b&0x40 > 0:
			hf, data, err = d.parseLiteralFieldWithNameReference(ric, base, data)
		case b&0x20 > 0:
			hf, data, err = parseLiteralFieldWithLiteralName(data)
		case b&0x10 > 0:
			hf, data, err = d.parsePostBaseIndexedField(ric, base, data)
		default:
			hf, data, err = d.parseLiteralFieldWithPostBaseNameReference(ric, base, data)
		}
		if err == errNeedMore {
			return nil, decodingError{fmt.Errorf("incomplete field section")}
		}
		if err != nil {
			return nil, err
		}
		fields = append(fields, hf)
	}
	return fields, nil
}

// dynamicEntry resolves an absolute index against the dynamic table.
// References at or beyond the section's Required Insert Count are
// invalid regardless of the table state.
func (d *Decoder) dynamicEntry(ric, absIndex uint64) (HeaderField, error) {
	if absIndex >= ric {
		return HeaderField{}, decodingError{invalidIndexError(absIndex)}
	}
	entry, ok := d.table.get(absIndex)
	if !ok {
		return HeaderField{}, decodingError{unknownIndexError(absIndex)}
	}
	return entry.HeaderField, nil
}

func (d *Decoder) parseIndexedField(ric, base uint64, data []byte) (HeaderField, []byte, error) {
	static := data[0]&0x40 > 0
	index, rest, err := readVarInt(6, data)
	if err != nil {
		return HeaderField{}, data, err
	}
	if static {
		if index >= uint64(len(staticTableEntries)) {
			return HeaderField{}, data, decodingError{invalidIndexError(index)}
		}
		return staticTableEntries[index], rest, nil
	}
	if index+1 > base {
		return HeaderField{}, data, decodingError{invalidIndexError(index)}
	}
	hf, err := d.dynamicEntry(ric, base-1-index)
	return hf, rest, err
}

func (d *Decoder) parsePostBaseIndexedField(ric, base uint64, data []byte) (HeaderField, []byte, error) {
	index, rest, err := readVarInt(4, data)
	if err != nil {
		return HeaderField{}, data, err
	}
	hf, err := d.dynamicEntry(ric, base+index)
	return hf, rest, err
}

func (d *Decoder) parseLiteralFieldWithNameReference(ric, base uint64, data []byte) (HeaderField, []byte, error) {
	static := data[0]&0x10 > 0
	index, rest, err := readVarInt(4, data)
	if err != nil {
		return HeaderField{}, data, err
	}
	var hf HeaderField
	if static {
		if index >= uint64(len(staticTableEntries)) {
			return HeaderField{}, data, decodingError{invalidIndexError(index)}
		}
		hf.Name = staticTableEntries[index].Name
	} else {
		if index+1 > base {
			return HeaderField{}, data, decodingError{invalidIndexError(index)}
		}
		entry, err := d.dynamicEntry(ric, base-1-index)
		if err != nil {
			return HeaderField{}, data, err
		}
		hf.Name = entry.Name
	}
	hf.Value, rest, err = readStringLiteral(7, rest)
	return hf, rest, err
}

func (d *Decoder) parseLiteralFieldWithPostBaseNameReference(ric, base uint64, data []byte) (HeaderField, []byte, error) {
	index, rest, err := readVarInt(3, data)
	if err != nil {
		return HeaderField{}, data, err
	}
	entry, err := d.dynamicEntry(ric, base+index)
	if err != nil {
		return HeaderField{}, data, err
	}
	hf := HeaderField{Name: entry.Name}
	hf.Value, rest, err = readStringLiteral(7, rest)
	return hf, rest, err
}

func parseLiteralFieldWithLiteralName(data []byte) (HeaderField, []byte, error) {
	var hf HeaderField
	var err error
	hf.Name, data, err = readStringLiteral(3, data)
	if err != nil {
		return HeaderField{}, data, err
	}
	hf.Value, data, err = readStringLiteral(7, data)
	return hf, data, err
}

// decodeRequiredInsertCount reverses the wrapping of the Encoded
// Required Insert Count (RFC 9204, Section 4.5.1.1).
func (d *Decoder) decodeRequiredInsertCount(encoded uint64) (uint64, error) {
	if encoded == 0 {
		return 0, nil
	}
	maxEntries := d.table.maxEntries()
	fullRange := 2 * maxEntries
	if encoded > fullRange {
		return 0, decodingError{fmt.Errorf("invalid required insert count %d", encoded)}
	}
	maxValue := d.table.insertCount + maxEntries
	maxWrapped := maxValue / fullRange * fullRange
	ric := maxWrapped + encoded - 1
	if ric > maxValue {
		if ric <= fullRange {
			return 0, decodingError{fmt.Errorf("invalid required insert count %d", encoded)}
		}
		ric -= fullRange
	}
	if ric == 0 {
		return 0, decodingError{fmt.Errorf("invalid required insert count %d", encoded)}
	}
	return ric, nil
}

// HandleInstruction applies a single encoder instruction to the
// dynamic table, usually dispatched by an EncoderInstructionParser
// reading the encoder instruction stream. After an insertion it
// signals the table growth to the peer and completes any blocked
// sections the growth has satisfied.
func (d *Decoder) HandleInstruction(instr Instruction) error {
	switch i := instr.(type) {
	case SetCapacityInstruction:
		return d.table.setCapacity(i.Capacity)
	case InsertWithNameReferenceInstruction:
		var name string
		if i.Static {
			if i.NameIndex >= uint64(len(staticTableEntries)) {
				return decodingError{invalidIndexError(i.NameIndex)}
			}
			name = staticTableEntries[i.NameIndex].Name
		} else {
			if i.NameIndex+1 > d.table.insertCount {
				return decodingError{invalidIndexError(i.NameIndex)}
			}
			entry, ok := d.table.get(d.table.insertCount - 1 - i.NameIndex)
			if !ok {
				return decodingError{unknownIndexError(i.NameIndex)}
			}
			name = entry.Name
		}
		return d.insert(HeaderField{Name: name, Value: i.Value})
	case InsertWithLiteralNameInstruction:
		return d.insert(HeaderField{Name: i.Name, Value: i.Value})
	case DuplicateInstruction:
		if i.Index+1 > d.table.insertCount {
			return decodingError{invalidIndexError(i.Index)}
		}
		entry, ok := d.table.get(d.table.insertCount - 1 - i.Index)
		if !ok {
			return decodingError{unknownIndexError(i.Index)}
		}
		return d.insert(entry.HeaderField)
	default:
		return ErrMalformedInstruction
	}
}

func (d *Decoder) insert(hf HeaderField) error {
	if err := d.table.insert(hf); err != nil {
		return err
	}
	d.onInstruction(InsertCountIncrementInstruction{Increment: 1})
	return d.completeBlocked()
}

// completeBlocked decodes every parked section whose Required Insert
// Count the table has reached. Sections complete FIFO per stream,
// independently across streams.
func (d *Decoder) completeBlocked() error {
	for streamID, sections := range d.pending {
		for len(sections) > 0 && sections[0].requiredInsertCount <= d.table.insertCount {
			s := sections[0]
			sections = sections[1:]
			if err := d.decodeSection(streamID, s.requiredInsertCount, s.base, s.data); err != nil {
				return err
			}
		}
		if len(sections) == 0 {
			delete(d.pending, streamID)
		} else {
			d.pending[streamID] = sections
		}
	}
	return nil
}

// CancelStream discards any blocked sections of the stream without
// completing them and tells the encoder the stream's sections were
// abandoned.
func (d *Decoder) CancelStream(streamID uint64) {
	delete(d.pending, streamID)
	d.onInstruction(StreamCancellationInstruction{StreamID: streamID})
}
