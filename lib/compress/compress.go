// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress packs blobs for the result database.
//
// Templates are document files, which zstd shrinks well. Test cases
// are many small mutated copies stored at a high rate, so they use
// block LZ4, which is cheaper per row. The tag used is stored next to
// each blob; a blob that does not get smaller is stored as
// [None].
package compress

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies how a stored blob is packed. The values are stored
// in the database and must not change.
type Tag uint8

const (
	None Tag = 0
	LZ4  Tag = 1
	Zstd Tag = 2
)

func (tag Tag) String() string {
	switch tag {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseTag is the inverse of Tag.String.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag %q", name)
	}
}

// errIncompressible means the packed output was not smaller.
var errIncompressible = errors.New("compress: data is incompressible")

// Encoder and decoder are safe for concurrent use and reused.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// Pack compresses data with tag, falling back to None when that does
// not save space. It returns the stored bytes and the tag actually
// used.
func Pack(data []byte, tag Tag) ([]byte, Tag, error) {
	var packed []byte
	var err error
	switch tag {
	case None:
		return data, None, nil
	case LZ4:
		packed, err = packLZ4(data)
	case Zstd:
		packed, err = packZstd(data)
	default:
		return nil, 0, fmt.Errorf("compress: unsupported tag %d", tag)
	}
	if errors.Is(err, errIncompressible) {
		return data, None, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return packed, tag, nil
}

// Unpack reverses Pack. size is the original length and is checked.
func Unpack(packed []byte, tag Tag, size int) ([]byte, error) {
	switch tag {
	case None:
		if len(packed) != size {
			return nil, fmt.Errorf("compress: stored size %d, expected %d", len(packed), size)
		}
		return packed, nil
	case LZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(packed, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return destination, nil
	case Zstd:
		result, err := zstdDecoder.DecodeAll(packed, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("compress: unsupported tag %d", tag)
	}
}

func packLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func packZstd(data []byte) ([]byte, error) {
	packed := zstdEncoder.EncodeAll(data, nil)
	if len(packed) >= len(data) {
		return nil, errIncompressible
	}
	return packed, nil
}
