package glyph

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrWOFF2 is returned for WOFF 2.0 fonts, which need a Brotli decoder.
var ErrWOFF2 = errors.New("woff2 fonts are not supported")

const (
	woffHeaderLen   = 44
	woffEntryLen    = 20
	sfntHeaderLen   = 12
	sfntRecordLen   = 16
	maxWOFFTableLen = 16 << 20
)

// Unwrap returns SFNT bytes for data, decompressing a WOFF 1.0 container
// when present. Plain TrueType/OpenType input is returned as is.
func Unwrap(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, errors.New("font data too short")
	}
	switch string(data[:4]) {
	case "wOFF":
		return unwrapWOFF(data)
	case "wOF2":
		return nil, ErrWOFF2
	default:
		return data, nil
	}
}

type woffTable struct {
	tag      [4]byte
	offset   uint32
	compLen  uint32
	origLen  uint32
	origSum  uint32
	sfntData []byte
}

func unwrapWOFF(data []byte) ([]byte, error) {
	if len(data) < woffHeaderLen {
		return nil, errors.New("woff header truncated")
	}
	flavor := binary.BigEndian.Uint32(data[4:8])
	numTables := int(binary.BigEndian.Uint16(data[12:14]))
	if len(data) < woffHeaderLen+numTables*woffEntryLen {
		return nil, errors.New("woff table directory truncated")
	}

	tables := make([]woffTable, numTables)
	for i := range tables {
		e := data[woffHeaderLen+i*woffEntryLen:]
		t := &tables[i]
		copy(t.tag[:], e[0:4])
		t.offset = binary.BigEndian.Uint32(e[4:8])
		t.compLen = binary.BigEndian.Uint32(e[8:12])
		t.origLen = binary.BigEndian.Uint32(e[12:16])
		t.origSum = binary.BigEndian.Uint32(e[16:20])
		if t.origLen > maxWOFFTableLen || uint64(t.offset)+uint64(t.compLen) > uint64(len(data)) {
			return nil, fmt.Errorf("woff table %q out of range", t.tag[:])
		}
		body := data[t.offset : t.offset+t.compLen]
		if t.compLen == t.origLen {
			t.sfntData = body
			continue
		}
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("woff table %q: %w", t.tag[:], err)
		}
		out, err := io.ReadAll(io.LimitReader(zr, int64(t.origLen)+1))
		_ = zr.Close()
		if err != nil {
			return nil, fmt.Errorf("inflate woff table %q: %w", t.tag[:], err)
		}
		if len(out) != int(t.origLen) {
			return nil, fmt.Errorf("woff table %q: inflated %d bytes, want %d", t.tag[:], len(out), t.origLen)
		}
		t.sfntData = out
	}

	searchRange, entrySelector := 1, 0
	for searchRange*2 <= numTables {
		searchRange *= 2
		entrySelector++
	}
	searchRange *= 16

	var buf bytes.Buffer
	hdr := make([]byte, sfntHeaderLen)
	binary.BigEndian.PutUint32(hdr[0:4], flavor)
	binary.BigEndian.PutUint16(hdr[4:6], uint16(numTables))
	binary.BigEndian.PutUint16(hdr[6:8], uint16(searchRange))
	binary.BigEndian.PutUint16(hdr[8:10], uint16(entrySelector))
	binary.BigEndian.PutUint16(hdr[10:12], uint16(numTables*16-searchRange))
	buf.Write(hdr)

	offset := sfntHeaderLen + numTables*sfntRecordLen
	records := make([]byte, 0, numTables*sfntRecordLen)
	for _, t := range tables {
		rec := make([]byte, sfntRecordLen)
		copy(rec[0:4], t.tag[:])
		binary.BigEndian.PutUint32(rec[4:8], t.origSum)
		binary.BigEndian.PutUint32(rec[8:12], uint32(offset))
		binary.BigEndian.PutUint32(rec[12:16], t.origLen)
		records = append(records, rec...)
		offset += pad4(len(t.sfntData))
	}
	buf.Write(records)
	for _, t := range tables {
		buf.Write(t.sfntData)
		buf.Write(make([]byte, pad4(len(t.sfntData))-len(t.sfntData)))
	}
	return buf.Bytes(), nil
}

func pad4(n int) int {
	return (n + 3) &^ 3
}
