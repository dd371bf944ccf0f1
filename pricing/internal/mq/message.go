package mq

import (
	"errors"

	flatbuffers "github.com/google/flatbuffers/go"
)

// FloorPriceUpdate announces a newly solved floor price for a sku.
type FloorPriceUpdate struct {
	RunID        string
	Sku          string
	Level        string
	TargetMargin float64
	FloorPrice   float64
	RetailPrice  float64
	Timestamp    int64
}

// vtable slots of the FloorPriceUpdate table.
const (
	slotSku = iota
	slotLevel
	slotTargetMargin
	slotFloorPrice
	slotRetailPrice
	slotTimestamp
	slotRunID
	numSlots
)

var (
	errShortBuffer = errors.New("floor price update: buffer too short")
	errCorrupt     = errors.New("floor price update: offset out of range")
)

// EncodeFloorPriceUpdate serializes u as a flatbuffers table.
func EncodeFloorPriceUpdate(u FloorPriceUpdate) []byte {
	builder := flatbuffers.NewBuilder(256)

	sku := builder.CreateString(u.Sku)
	level := builder.CreateString(u.Level)
	runID := builder.CreateString(u.RunID)

	builder.StartObject(numSlots)
	builder.PrependUOffsetTSlot(slotSku, sku, 0)
	builder.PrependUOffsetTSlot(slotLevel, level, 0)
	builder.PrependFloat64Slot(slotTargetMargin, u.TargetMargin, 0)
	builder.PrependFloat64Slot(slotFloorPrice, u.FloorPrice, 0)
	builder.PrependFloat64Slot(slotRetailPrice, u.RetailPrice, 0)
	builder.PrependInt64Slot(slotTimestamp, u.Timestamp, 0)
	builder.PrependUOffsetTSlot(slotRunID, runID, 0)
	msg := builder.EndObject()

	builder.Finish(msg)
	return builder.FinishedBytes()
}

// DecodeFloorPriceUpdate reads a payload produced by EncodeFloorPriceUpdate.
// Every offset is checked against the buffer before it is followed.
func DecodeFloorPriceUpdate(buf []byte) (FloorPriceUpdate, error) {
	if len(buf) < flatbuffers.SizeUOffsetT {
		return FloorPriceUpdate{}, errShortBuffer
	}

	r := &tableReader{buf: buf}
	r.init(flatbuffers.GetUOffsetT(buf))

	u := FloorPriceUpdate{
		RunID:        r.stringField(slotRunID),
		Sku:          r.stringField(slotSku),
		Level:        r.stringField(slotLevel),
		TargetMargin: r.float64Field(slotTargetMargin),
		FloorPrice:   r.float64Field(slotFloorPrice),
		RetailPrice:  r.float64Field(slotRetailPrice),
		Timestamp:    r.int64Field(slotTimestamp),
	}
	if r.err != nil {
		return FloorPriceUpdate{}, r.err
	}
	return u, nil
}

// tableReader is a flatbuffers.Table that validates offsets and keeps the
// first error.
type tableReader struct {
	buf []byte
	tab flatbuffers.Table
	err error
}

// inRange reports whether n bytes starting at off lie inside the buffer.
func (r *tableReader) inRange(off, n int64) bool {
	return off >= 0 && n >= 0 && off+n <= int64(len(r.buf))
}

func (r *tableReader) init(pos flatbuffers.UOffsetT) {
	if !r.inRange(int64(pos), flatbuffers.SizeSOffsetT) {
		r.err = errShortBuffer
		return
	}

	vtable := int64(pos) - int64(flatbuffers.GetSOffsetT(r.buf[pos:]))
	if !r.inRange(vtable, 2*flatbuffers.SizeVOffsetT) {
		r.err = errCorrupt
		return
	}
	vtableLen := int64(flatbuffers.GetVOffsetT(r.buf[vtable:]))
	objectLen := int64(flatbuffers.GetVOffsetT(r.buf[vtable+flatbuffers.SizeVOffsetT:]))
	if vtableLen < 2*flatbuffers.SizeVOffsetT || vtableLen%2 != 0 || !r.inRange(vtable, vtableLen) || !r.inRange(int64(pos), objectLen) {
		r.err = errCorrupt
		return
	}

	r.tab = flatbuffers.Table{Bytes: r.buf, Pos: pos}
}

// field returns the absolute position of a slot holding size bytes, or ok=false
// when the slot is absent or the reader already failed.
func (r *tableReader) field(slot int, size int64) (flatbuffers.UOffsetT, bool) {
	if r.err != nil {
		return 0, false
	}

	o := r.tab.Offset(flatbuffers.VOffsetT(4 + 2*slot))
	if o == 0 {
		return 0, false
	}
	at := int64(r.tab.Pos) + int64(o)
	if !r.inRange(at, size) {
		r.err = errCorrupt
		return 0, false
	}
	return flatbuffers.UOffsetT(at), true
}

func (r *tableReader) stringField(slot int) string {
	at, ok := r.field(slot, flatbuffers.SizeUOffsetT)
	if !ok {
		return ""
	}

	start := int64(at) + int64(flatbuffers.GetUOffsetT(r.buf[at:]))
	if !r.inRange(start, flatbuffers.SizeUOffsetT) {
		r.err = errCorrupt
		return ""
	}
	n := int64(flatbuffers.GetUOffsetT(r.buf[start:]))
	if !r.inRange(start+flatbuffers.SizeUOffsetT, n) {
		r.err = errCorrupt
		return ""
	}
	return string(r.tab.ByteVector(at))
}

func (r *tableReader) float64Field(slot int) float64 {
	if at, ok := r.field(slot, flatbuffers.SizeFloat64); ok {
		return r.tab.GetFloat64(at)
	}
	return 0
}

func (r *tableReader) int64Field(slot int) int64 {
	if at, ok := r.field(slot, flatbuffers.SizeInt64); ok {
		return r.tab.GetInt64(at)
	}
	return 0
}
