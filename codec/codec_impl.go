package codec

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/cq-labs/lucaskv/model"
)

// CodecImpl is the default Codec:
//
//	type(1) | keySize(varint<=5) | valueSize(varint<=5) | key | value | crc32(4)
//
// the CRC is computed over every byte preceding it.
type CodecImpl struct{}

func NewCodecImpl() *CodecImpl {
	return &CodecImpl{}
}

func (c *CodecImpl) EncodeRecord(record *model.Record) []byte {
	headerBuf := make([]byte, model.MaxHeaderSize)
	headerBuf[0] = record.Type
	idx := 1
	idx += binary.PutUvarint(headerBuf[idx:], uint64(len(record.Key)))
	idx += binary.PutUvarint(headerBuf[idx:], uint64(len(record.Value)))

	data := make([]byte, idx+len(record.Key)+len(record.Value)+model.CrcSize)
	copy(data, headerBuf[:idx])
	copy(data[idx:], record.Key)
	copy(data[idx+len(record.Key):], record.Value)

	crc := generateCrc(data[:idx+len(record.Key)+len(record.Value)])
	binary.BigEndian.PutUint32(data[len(data)-model.CrcSize:], crc)

	return data
}

func (c *CodecImpl) EncodedLength(record *model.Record) int64 {
	headerSize := 1 + uvarintSize(uint64(len(record.Key))) + uvarintSize(uint64(len(record.Value)))
	return int64(headerSize + len(record.Key) + len(record.Value) + model.CrcSize)
}

func (c *CodecImpl) DecodeHeader(buf []byte) (*model.RecordHeader, error) {
	if len(buf) == 0 {
		return nil, io.EOF
	}

	recType := buf[0]
	if recType != model.RecordNormal && recType != model.RecordTombstone && recType != model.RecordTxnFinished {
		return nil, ErrCorruptHeader
	}

	idx := 1
	keySize, n := binary.Uvarint(buf[idx:])
	if n <= 0 {
		return nil, headerTruncationError(n)
	}
	idx += n

	valueSize, n := binary.Uvarint(buf[idx:])
	if n <= 0 {
		return nil, headerTruncationError(n)
	}
	idx += n

	return &model.RecordHeader{
		Type:       recType,
		KeySize:    uint32(keySize),
		ValueSize:  uint32(valueSize),
		HeaderSize: int64(idx),
	}, nil
}

func headerTruncationError(n int) error {
	if n == 0 {
		// buf ran out mid-varint: this is exactly the shape a trailing,
		// never-finished write leaves behind.
		return io.EOF
	}
	// n < 0: the varint overflowed 64 bits without ever reaching a file
	// boundary -- that is not truncation, it is corruption.
	return ErrCorruptHeader
}

func (c *CodecImpl) DecodePayload(buf []byte, header *model.RecordHeader) (*model.Record, error) {
	total := header.HeaderSize + int64(header.KeySize) + int64(header.ValueSize) + model.CrcSize
	if int64(len(buf)) < total {
		return nil, io.EOF
	}

	body := buf[:total-model.CrcSize]
	storedCrc := binary.BigEndian.Uint32(buf[total-model.CrcSize : total])
	if !checkCrc(storedCrc, body) {
		return nil, ErrCrcMismatch
	}

	keyStart := header.HeaderSize
	valueStart := keyStart + int64(header.KeySize)
	valueEnd := valueStart + int64(header.ValueSize)

	key := make([]byte, header.KeySize)
	copy(key, buf[keyStart:valueStart])
	value := make([]byte, header.ValueSize)
	copy(value, buf[valueStart:valueEnd])

	return &model.Record{
		Type:  header.Type,
		Key:   key,
		Value: value,
	}, nil
}

func (c *CodecImpl) EncodeRecordPos(pos *model.RecordPos) []byte {
	buf := make([]byte, binary.MaxVarintLen32*2+binary.MaxVarintLen64)
	idx := 0
	idx += binary.PutUvarint(buf[idx:], uint64(pos.Fid))
	idx += binary.PutUvarint(buf[idx:], uint64(pos.Offset))
	idx += binary.PutUvarint(buf[idx:], uint64(pos.Size))
	return buf[:idx]
}

func (c *CodecImpl) DecodeRecordPos(buf []byte) (*model.RecordPos, error) {
	idx := 0
	fid, n := binary.Uvarint(buf[idx:])
	if n <= 0 {
		return nil, ErrCorruptHeader
	}
	idx += n

	offset, n := binary.Uvarint(buf[idx:])
	if n <= 0 {
		return nil, ErrCorruptHeader
	}
	idx += n

	size, n := binary.Uvarint(buf[idx:])
	if n <= 0 {
		return nil, ErrCorruptHeader
	}

	return &model.RecordPos{
		Fid:    uint32(fid),
		Offset: int64(offset),
		Size:   uint32(size),
	}, nil
}

func uvarintSize(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

func generateCrc(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

func checkCrc(crc uint32, data []byte) bool {
	return generateCrc(data) == crc
}
