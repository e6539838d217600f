package writer

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"depthflow/metrics"
)

// memFileWriter collects a parquet file in memory before upload.
type memFileWriter struct{ buffer *bytes.Buffer }

func newMemFileWriter() *memFileWriter { return &memFileWriter{buffer: &bytes.Buffer{}} }

func (m *memFileWriter) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFileWriter) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFileWriter) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFileWriter) Read([]byte) (int, error)                  { return 0, nil }
func (m *memFileWriter) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFileWriter) Close() error                              { return nil }
func (m *memFileWriter) Bytes() []byte                             { return m.buffer.Bytes() }

// schema describes one parquet column per selected variable, in mask order.
func schema(mask metrics.Mask) []string {
	ids := mask.Metrics()
	md := make([]string, len(ids))
	for i, m := range ids {
		switch m.Kind() {
		case metrics.KindInt:
			md[i] = fmt.Sprintf("name=%s, type=INT64", m)
		case metrics.KindString:
			md[i] = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8", m)
		case metrics.KindBool:
			md[i] = fmt.Sprintf("name=%s, type=BOOLEAN", m)
		default:
			md[i] = fmt.Sprintf("name=%s, type=DOUBLE", m)
		}
	}
	return md
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return parquet.CompressionCodec_SNAPPY, nil
	case "gzip":
		return parquet.CompressionCodec_GZIP, nil
	case "zstd":
		return parquet.CompressionCodec_ZSTD, nil
	case "none", "uncompressed":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	}
	return 0, fmt.Errorf("unsupported compression %q", name)
}

// writeParquet encodes entries into pf. Every entry must carry mask.
func writeParquet(pf source.ParquetFile, entries []metrics.Entry, mask metrics.Mask, codec parquet.CompressionCodec) error {
	pw, err := writer.NewCSVWriter(schema(mask), pf, 4)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = codec
	for i := range entries {
		if err := pw.Write(entries[i].Row()); err != nil {
			return fmt.Errorf("write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finish parquet file: %w", err)
	}
	return nil
}
