package output

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// Compressor compresses whole objects before upload
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	// Extension is appended to object keys, including the leading dot
	Extension() string
	// ContentEncoding is the HTTP Content-Encoding of compressed objects
	ContentEncoding() string
}

// GetCompressor returns a compressor for the specified type
func GetCompressor(compressionType CompressionType) (Compressor, error) {
	switch compressionType {
	case CompressionNone, "":
		return &NoneCompressor{}, nil
	case CompressionGzip:
		return &GzipCompressor{}, nil
	case CompressionSnappy:
		return &SnappyCompressor{}, nil
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}

// NoneCompressor performs no compression
type NoneCompressor struct{}

func (c *NoneCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (c *NoneCompressor) Decompress(data []byte) ([]byte, error) {
	return data, nil
}

func (c *NoneCompressor) Extension() string { return "" }

func (c *NoneCompressor) ContentEncoding() string { return "" }

// GzipCompressor uses gzip compression
type GzipCompressor struct{}

func (c *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write failed: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}

	return buf.Bytes(), nil
}

func (c *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader creation failed: %w", err)
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("gzip read failed: %w", err)
	}

	return decompressed, nil
}

func (c *GzipCompressor) Extension() string { return ".gz" }

func (c *GzipCompressor) ContentEncoding() string { return "gzip" }

// SnappyCompressor writes the snappy framing format, the same format the
// file input reads back from .sz files
type SnappyCompressor struct{}

func (c *SnappyCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := snappy.NewBufferedWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("snappy write failed: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("snappy close failed: %w", err)
	}

	return buf.Bytes(), nil
}

func (c *SnappyCompressor) Decompress(data []byte) ([]byte, error) {
	decompressed, err := io.ReadAll(snappy.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("snappy decode failed: %w", err)
	}
	return decompressed, nil
}

func (c *SnappyCompressor) Extension() string { return ".sz" }

func (c *SnappyCompressor) ContentEncoding() string { return "x-snappy-framed" }
