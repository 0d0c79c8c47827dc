package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// recordVersion1 is the only defined on-disk record version. initialize()
// treats any other version byte as a fatal load error — the source format
// this backend was modeled on had no version byte at all, which is the one
// place this implementation deliberately diverges for forward
// compatibility.
const recordVersion1 = byte(1)

// encodeRecord serializes a vector+metadata pair to the on-disk layout:
//
//	[version byte=1][4-byte BE dim][dim x 8-byte LE float64][4-byte BE metalen][metalen bytes JSON]
//
// metalen is 0 and no JSON bytes follow when meta is nil.
func encodeRecord(vec []float64, meta Metadata) ([]byte, error) {
	var metaBytes []byte
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		metaBytes = b
	}

	buf := bytes.NewBuffer(make([]byte, 0, 1+4+len(vec)*8+4+len(metaBytes)))
	buf.WriteByte(recordVersion1)

	var dimBuf [4]byte
	binary.BigEndian.PutUint32(dimBuf[:], uint32(len(vec)))
	buf.Write(dimBuf[:])

	var f64Buf [8]byte
	for _, v := range vec {
		binary.LittleEndian.PutUint64(f64Buf[:], math.Float64bits(v))
		buf.Write(f64Buf[:])
	}

	var metaLenBuf [4]byte
	binary.BigEndian.PutUint32(metaLenBuf[:], uint32(len(metaBytes)))
	buf.Write(metaLenBuf[:])
	buf.Write(metaBytes)

	return buf.Bytes(), nil
}

// decodeRecord is the inverse of encodeRecord.
func decodeRecord(data []byte) ([]float64, Metadata, error) {
	if len(data) < 1 {
		return nil, nil, fmt.Errorf("record too short")
	}
	version := data[0]
	if version != recordVersion1 {
		return nil, nil, fmt.Errorf("unsupported record version %d", version)
	}
	data = data[1:]

	if len(data) < 4 {
		return nil, nil, fmt.Errorf("record truncated before dimension")
	}
	dim := int(binary.BigEndian.Uint32(data[:4]))
	data = data[4:]

	need := dim * 8
	if len(data) < need {
		return nil, nil, fmt.Errorf("record truncated in vector body")
	}
	vec := make([]float64, dim)
	for i := 0; i < dim; i++ {
		bits := binary.LittleEndian.Uint64(data[i*8 : i*8+8])
		vec[i] = math.Float64frombits(bits)
	}
	data = data[need:]

	if len(data) < 4 {
		return nil, nil, fmt.Errorf("record truncated before metadata length")
	}
	metaLen := int(binary.BigEndian.Uint32(data[:4]))
	data = data[4:]

	if len(data) < metaLen {
		return nil, nil, fmt.Errorf("record truncated in metadata body")
	}

	var meta Metadata
	if metaLen > 0 {
		if err := json.Unmarshal(data[:metaLen], &meta); err != nil {
			return nil, nil, fmt.Errorf("decode metadata: %w", err)
		}
	}

	return vec, meta, nil
}
