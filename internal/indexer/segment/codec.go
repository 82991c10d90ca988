package segment

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/storedfields"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// MagicBytes identifies a valid .seg file.
const (
	MagicBytes    uint32 = 0x54495347
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 8
)

// Header is the 64-byte little-endian header at the start of every segment
// file.
type Header struct {
	Magic       uint32
	Version     uint32
	Compression Compression
	DocCount    uint32
	TermCount   uint32
	CreatedAt   int64
	BodyOffset  int64
	BodySize    int64
	RawSize     int64
}

func (h Header) marshal() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], uint32(h.Compression))
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint32(b[16:20], h.TermCount)
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.BodyOffset))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.BodySize))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.RawSize))
	return b
}

func parseHeader(b []byte) Header {
	return Header{
		Magic:       binary.LittleEndian.Uint32(b[0:4]),
		Version:     binary.LittleEndian.Uint32(b[4:8]),
		Compression: Compression(binary.LittleEndian.Uint32(b[8:12])),
		DocCount:    binary.LittleEndian.Uint32(b[12:16]),
		TermCount:   binary.LittleEndian.Uint32(b[16:20]),
		CreatedAt:   int64(binary.LittleEndian.Uint64(b[24:32])),
		BodyOffset:  int64(binary.LittleEndian.Uint64(b[32:40])),
		BodySize:    int64(binary.LittleEndian.Uint64(b[40:48])),
		RawSize:     int64(binary.LittleEndian.Uint64(b[48:56])),
	}
}

type body struct {
	Terms  []index.TermEntry      `msgpack:"terms"`
	Stored []storedfields.Record `msgpack:"stored"`
}

// Encode serialises seg into the segment file format using compression c.
func Encode(seg *Segment, c Compression) ([]byte, error) {
	raw, err := msgpack.Marshal(body{
		Terms:  seg.terms,
		Stored: seg.stored.Records(),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding segment %s body: %w", seg.Name, err)
	}
	compressed, used, err := compress(raw, c)
	if err != nil {
		return nil, fmt.Errorf("compressing segment %s: %w", seg.Name, err)
	}

	header := Header{
		Magic:       MagicBytes,
		Version:     FormatVersion,
		Compression: used,
		DocCount:    seg.MaxDoc,
		TermCount:   uint32(len(seg.terms)),
		CreatedAt:   seg.CreatedAt.Unix(),
		BodyOffset:  int64(HeaderSize),
		BodySize:    int64(len(compressed)),
		RawSize:     int64(len(raw)),
	}

	out := make([]byte, 0, HeaderSize+len(compressed)+FooterSize)
	out = append(out, header.marshal()...)
	out = append(out, compressed...)
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(compressed))
	binary.LittleEndian.PutUint32(footer[4:8], uint32(len(compressed)))
	return append(out, footer...), nil
}

// Decode parses a segment file. Structural problems are reported as
// ErrCorruptIndex.
func Decode(name string, data []byte) (*Segment, error) {
	if len(data) < HeaderSize+FooterSize {
		return nil, fmt.Errorf("%w: segment %s truncated (%d bytes)", apperrors.ErrCorruptIndex, name, len(data))
	}
	h := parseHeader(data[:HeaderSize])
	if h.Magic != MagicBytes {
		return nil, fmt.Errorf("%w: segment %s has bad magic bytes %x", apperrors.ErrCorruptIndex, name, h.Magic)
	}
	if h.Version != FormatVersion {
		return nil, fmt.Errorf("%w: segment %s has unsupported version %d", apperrors.ErrCorruptIndex, name, h.Version)
	}
	end := h.BodyOffset + h.BodySize
	if h.BodyOffset < int64(HeaderSize) || end+int64(FooterSize) != int64(len(data)) {
		return nil, fmt.Errorf("%w: segment %s body bounds do not match file size", apperrors.ErrCorruptIndex, name)
	}
	compressed := data[h.BodyOffset:end]
	footer := data[end:]
	if sum := binary.LittleEndian.Uint32(footer[0:4]); sum != crc32.ChecksumIEEE(compressed) {
		return nil, fmt.Errorf("%w: segment %s checksum mismatch", apperrors.ErrCorruptIndex, name)
	}

	raw, err := decompress(compressed, h.Compression, int(h.RawSize))
	if err != nil {
		return nil, fmt.Errorf("%w: segment %s: %v", apperrors.ErrCorruptIndex, name, err)
	}
	var b body
	if err := msgpack.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("%w: segment %s body: %v", apperrors.ErrCorruptIndex, name, err)
	}
	if len(b.Terms) != int(h.TermCount) || len(b.Stored) != int(h.DocCount) {
		return nil, fmt.Errorf("%w: segment %s counts disagree with header", apperrors.ErrCorruptIndex, name)
	}

	return &Segment{
		Name:      name,
		MaxDoc:    h.DocCount,
		CreatedAt: time.Unix(h.CreatedAt, 0).UTC(),
		terms:     b.Terms,
		stored:    storedfields.FromRecords(b.Stored),
	}, nil
}
