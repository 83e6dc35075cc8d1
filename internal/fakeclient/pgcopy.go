package fakeclient

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Row is one (c1, c2) tuple of the reference table layout.
type Row [2]int64

var binarySignature = []byte("PGCOPY\n\xff\r\n\x00")

// EncodeBinary renders rows in the packed binary copy format: signature, flags and
// header-extension length, then per tuple a field count and length-prefixed big-endian
// int8 fields, then a -1 trailer.
func EncodeBinary(rows []Row) []byte {
	var buf bytes.Buffer
	buf.Write(binarySignature)
	_ = binary.Write(&buf, binary.BigEndian, int32(0))
	_ = binary.Write(&buf, binary.BigEndian, int32(0))
	for _, r := range rows {
		_ = binary.Write(&buf, binary.BigEndian, int16(len(r)))
		for _, v := range r {
			_ = binary.Write(&buf, binary.BigEndian, int32(8))
			_ = binary.Write(&buf, binary.BigEndian, v)
		}
	}
	_ = binary.Write(&buf, binary.BigEndian, int16(-1))
	return buf.Bytes()
}

// DecodeBinary reads one binary copy stream from r, stopping after the trailer.
func DecodeBinary(r io.Reader) ([]Row, error) {
	sig := make([]byte, len(binarySignature))
	if _, err := io.ReadFull(r, sig); err != nil || !bytes.Equal(sig, binarySignature) {
		return nil, errors.New("COPY file signature not recognized")
	}
	var flags, extLen int32
	if err := binary.Read(r, binary.BigEndian, &flags); err != nil {
		return nil, errors.New("invalid COPY file header (missing flags)")
	}
	if err := binary.Read(r, binary.BigEndian, &extLen); err != nil || extLen < 0 {
		return nil, errors.New("invalid COPY file header (missing length)")
	}
	if _, err := io.CopyN(io.Discard, r, int64(extLen)); err != nil {
		return nil, errors.New("invalid COPY file header (wrong length)")
	}

	var rows []Row
	for {
		var fields int16
		if err := binary.Read(r, binary.BigEndian, &fields); err != nil {
			return nil, errors.New("unexpected EOF in COPY data")
		}
		if fields == -1 {
			return rows, nil
		}
		if fields != 2 {
			return nil, fmt.Errorf("row field count is %d, expected 2", fields)
		}
		var row Row
		for i := range row {
			var n int32
			if err := binary.Read(r, binary.BigEndian, &n); err != nil {
				return nil, errors.New("unexpected EOF in COPY data")
			}
			if n != 8 {
				return nil, fmt.Errorf("incorrect binary data format in field %d", i+1)
			}
			if err := binary.Read(r, binary.BigEndian, &row[i]); err != nil {
				return nil, errors.New("unexpected EOF in COPY data")
			}
		}
		rows = append(rows, row)
	}
}

// EncodeText renders rows as tab-delimited lines.
func EncodeText(rows []Row) []byte {
	return encodeDelimited(rows, "\t")
}

// EncodeCSV renders rows as comma-separated lines.
func EncodeCSV(rows []Row) []byte {
	return encodeDelimited(rows, ",")
}

func encodeDelimited(rows []Row, sep string) []byte {
	var sb strings.Builder
	for _, r := range rows {
		sb.WriteString(strconv.FormatInt(r[0], 10))
		sb.WriteString(sep)
		sb.WriteString(strconv.FormatInt(r[1], 10))
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

// parseDelimited parses one data line in text (tab) or csv (comma) form.
func parseDelimited(line, sep string) (Row, error) {
	parts := strings.Split(line, sep)
	if len(parts) != 2 {
		if len(parts) < 2 {
			return Row{}, fmt.Errorf("missing data for column \"c2\"")
		}
		return Row{}, fmt.Errorf("extra data after last expected column")
	}
	var row Row
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return Row{}, fmt.Errorf("invalid input syntax for type bigint: %q", p)
		}
		row[i] = v
	}
	return row, nil
}
