package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedFrame is returned when declared sizes are inconsistent with the buffer.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnsupportedCompression is returned for frames whose compression type is not "none".
	ErrUnsupportedCompression = errors.New("unsupported frame compression")
)

// Parse interprets data as one frame laid out according to schema.
//
// data is the host buffer bounded by the claimed length; the declared total size
// must fit inside it. Header and payload bytes are copied, so the returned frame
// never aliases data. Sub-packets come back with header-level fields only; the
// caller classifies them. The frame comes from the pool: release it with ReleaseFrame.
func Parse(data []byte, ch Channel, dir Direction, schema Schema) (*Frame, error) {
	r := NewReader(data)
	if r.Len() < schema.FrameHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the %d-byte header",
			ErrMalformedFrame, r.Len(), schema.FrameHeaderSize)
	}

	f := AcquireFrame()
	f.Channel = ch
	f.Direction = dir

	if err := readFrameHeader(r, f, schema); err != nil {
		ReleaseFrame(f)
		return nil, err
	}

	total := int(f.TotalSize)
	if total < schema.FrameHeaderSize || total > r.Len() {
		ReleaseFrame(f)
		return nil, fmt.Errorf("%w: declared size %d outside [%d, %d]",
			ErrMalformedFrame, total, schema.FrameHeaderSize, r.Len())
	}

	if f.Compression != schema.CompressionNone {
		compression := f.Compression
		ReleaseFrame(f)
		return nil, fmt.Errorf("%w: type %d", ErrUnsupportedCompression, compression)
	}

	f.Header = append(f.Header[:0], data[:schema.FrameHeaderSize]...)

	body := NewReader(data[schema.FrameHeaderSize:total])
	offset := 0
	for i := range f.Count {
		p, err := readSubPacket(body, offset, schema)
		if err != nil {
			ReleaseFrame(f)
			return nil, fmt.Errorf("%w: sub-packet %d/%d: %w", ErrMalformedFrame, i+1, f.Count, err)
		}
		f.Packets = append(f.Packets, p)
		offset += int(p.Size)
	}

	if offset != body.Len() {
		ReleaseFrame(f)
		return nil, fmt.Errorf("%w: sub-packets cover %d of %d body bytes",
			ErrMalformedFrame, offset, body.Len())
	}

	return f, nil
}

func readFrameHeader(r Reader, f *Frame, schema Schema) error {
	var err error
	read := func(off, width int) uint64 {
		if err != nil {
			return 0
		}
		var v uint64
		v, err = r.Uint(off, width)
		return v
	}

	f.Tag = read(schema.TagOffset, 8)
	f.Timestamp = read(schema.TimestampOffset, 8)
	f.TotalSize = uint32(read(schema.TotalSizeOffset, 4))
	f.ConnectionType = uint16(read(schema.ConnectionTypeOffset, 2))
	f.Count = uint32(read(schema.CountOffset, schema.CountWidth))
	f.Compression = uint8(read(schema.CompressionOffset, 1))
	f.DecompressedLength = uint32(read(schema.DecompressedLengthOffset, 4))

	if err != nil {
		return fmt.Errorf("%w: header: %w", ErrMalformedFrame, err)
	}
	return nil
}

func readSubPacket(body Reader, offset int, schema Schema) (*SubPacket, error) {
	hdr, err := body.Slice(offset, schema.SegmentHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	h := NewReader(hdr)

	size, err := h.Uint32(schema.SizeOffset)
	if err != nil {
		return nil, err
	}
	if int64(size) < int64(schema.SegmentHeaderSize) {
		return nil, fmt.Errorf("declared size %d is smaller than the %d-byte header", size, schema.SegmentHeaderSize)
	}
	if int64(offset)+int64(size) > int64(body.Len()) {
		return nil, fmt.Errorf("declared size %d at offset %d exceeds body length %d", size, offset, body.Len())
	}

	source, err := h.Uint32(schema.SourceOffset)
	if err != nil {
		return nil, err
	}
	target, err := h.Uint32(schema.TargetOffset)
	if err != nil {
		return nil, err
	}
	typ, err := h.Uint16(schema.TypeOffset)
	if err != nil {
		return nil, err
	}

	payloadLen := int(size) - schema.SegmentHeaderSize
	payload, err := body.Slice(offset+schema.SegmentHeaderSize, payloadLen)
	if err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}

	p := AcquireSubPacket()
	p.Type = typ
	p.Kind = schema.KindOf(typ)
	p.Size = size
	p.Source = source
	p.Target = target
	p.Header = append(p.Header[:0], hdr...)
	p.Payload = append(make([]byte, 0, payloadLen), payload...)
	p.PayloadLen = payloadLen
	return p, nil
}
