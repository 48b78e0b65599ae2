package codec

import (
	"errors"

	"github.com/cq-labs/lucaskv/model"
)

// ErrCorruptHeader is returned by DecodeHeader when the header bytes present
// are malformed in a way that is not explainable by the file simply ending
// mid-record (an invalid record type tag, an overflowing varint).
var ErrCorruptHeader = errors.New("lucaskv: corrupt record header")

// ErrCrcMismatch is returned by DecodePayload when the record's stored CRC32
// does not match the checksum of the bytes actually read back.
var ErrCrcMismatch = errors.New("lucaskv: record crc mismatch")

// Codec encodes and decodes log records. DecodeHeader must distinguish a
// benign trailing truncation (io.EOF) from a genuinely malformed header
// (ErrCorruptHeader) so recovery can heal the former and must fail on the
// latter.
type Codec interface {
	// EncodeRecord returns the full on-disk bytes for record, including its
	// trailing CRC32.
	EncodeRecord(record *model.Record) []byte

	// EncodedLength returns len(EncodeRecord(record)) without allocating.
	EncodedLength(record *model.Record) int64

	// DecodeHeader parses a record's fixed-shape prefix out of buf (at most
	// model.MaxHeaderSize bytes, possibly fewer if the file is shorter).
	// Returns io.EOF if buf is too short to contain a complete header,
	// ErrCorruptHeader if it is long enough but malformed.
	DecodeHeader(buf []byte) (*model.RecordHeader, error)

	// DecodePayload decodes and CRC-verifies a full record (header + key +
	// value + trailing CRC) given its already-decoded header.
	DecodePayload(buf []byte, header *model.RecordHeader) (*model.Record, error)

	// EncodeRecordPos/DecodeRecordPos (de)serialize a keydir entry for
	// storage as a hint-file record's value.
	EncodeRecordPos(pos *model.RecordPos) []byte
	DecodeRecordPos(buf []byte) (*model.RecordPos, error)
}
