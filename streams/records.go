package streams

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ruteri/mpc-helper/interfaces"
)

// SplitRecords cuts data into records of size bytes.
func SplitRecords(data []byte, size int) ([][]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", interfaces.ErrInvalidRecordSize, size)
	}
	if len(data)%size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of record size %d", io.ErrUnexpectedEOF, len(data), size)
	}
	records := make([][]byte, 0, len(data)/size)
	for off := 0; off < len(data); off += size {
		records = append(records, data[off:off+size])
	}
	return records, nil
}

// RecordReader reassembles fixed-size records from a stream whose chunk
// boundaries are arbitrary.
type RecordReader struct {
	stream interfaces.BodyStream
	size   int
	buf    []byte
	next   interfaces.RecordID
	eof    bool
}

func NewRecordReader(s interfaces.BodyStream, recordSize int) *RecordReader {
	return &RecordReader{stream: s, size: recordSize}
}

// Next returns the next record and its position. It returns io.EOF after the
// last record and io.ErrUnexpectedEOF if the stream ends inside a record.
func (r *RecordReader) Next(ctx context.Context) (interfaces.RecordID, []byte, error) {
	for len(r.buf) < r.size {
		if r.eof {
			if len(r.buf) == 0 {
				return 0, nil, io.EOF
			}
			return 0, nil, fmt.Errorf("record %d: %w", r.next, io.ErrUnexpectedEOF)
		}
		chunk, err := r.stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			r.eof = true
			continue
		}
		if err != nil {
			return 0, nil, err
		}
		r.buf = append(r.buf, chunk...)
	}

	record := make([]byte, r.size)
	copy(record, r.buf[:r.size])
	r.buf = r.buf[r.size:]
	id := r.next
	r.next++
	return id, record, nil
}

// ReadRecords reads every record until the end of the stream.
func (r *RecordReader) ReadRecords(ctx context.Context) ([][]byte, error) {
	var records [][]byte
	for {
		_, record, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
}
