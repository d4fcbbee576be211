package codec

import (
	"bytes"
	"errors"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	c := NewBinaryCodec()

	key := []byte("user:00042")
	encoded, err := c.EncodeHeader(key, 1234)
	if err != nil {
		t.Fatalf("Failed to encode header: %v", err)
	}
	if len(encoded) != PrefixSize+len(key) {
		t.Fatalf("Expected %d header bytes, got %d", PrefixSize+len(key), len(encoded))
	}

	hdr, n, err := c.ParseHeader(encoded)
	if err != nil {
		t.Fatalf("Failed to parse header: %v", err)
	}
	if n != len(encoded) {
		t.Errorf("Expected %d bytes consumed, got %d", len(encoded), n)
	}
	if !bytes.Equal(hdr.Key, key) {
		t.Errorf("Expected key %q, got %q", key, hdr.Key)
	}
	if hdr.BodyLen != 1234 {
		t.Errorf("Expected body length 1234, got %d", hdr.BodyLen)
	}
	if hdr.RecordLen() != int64(len(encoded))+1234 {
		t.Errorf("Expected record length %d, got %d", int64(len(encoded))+1234, hdr.RecordLen())
	}
}

func TestParseHeaderTrailingData(t *testing.T) {
	c := NewBinaryCodec()

	encoded, err := c.EncodeHeader([]byte("k1"), 10)
	if err != nil {
		t.Fatalf("Failed to encode header: %v", err)
	}

	// A parse from a larger buffer must consume only the header.
	buf := append(encoded, bytes.Repeat([]byte{0xAB}, 64)...)
	hdr, n, err := c.ParseHeader(buf)
	if err != nil {
		t.Fatalf("Failed to parse header with trailing data: %v", err)
	}
	if n != len(encoded) {
		t.Errorf("Expected %d bytes consumed, got %d", len(encoded), n)
	}
	if !bytes.Equal(hdr.Key, []byte("k1")) {
		t.Errorf("Expected key k1, got %q", hdr.Key)
	}
}

func TestParseHeaderRejectsGarbage(t *testing.T) {
	c := NewBinaryCodec()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short prefix", []byte{0x01, 0x02, 0x03}},
		{"random bytes", bytes.Repeat([]byte{0x5A}, 64)},
		{"zeros", make([]byte, 64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := c.ParseHeader(tt.data); !errors.Is(err, ErrBadHeader) {
				t.Errorf("Expected ErrBadHeader, got %v", err)
			}
		})
	}
}

func TestParseHeaderRejectsCorruption(t *testing.T) {
	c := NewBinaryCodec()

	encoded, err := c.EncodeHeader([]byte("somekey"), 99)
	if err != nil {
		t.Fatalf("Failed to encode header: %v", err)
	}

	// Flip one bit anywhere in the header; the checksum must catch it.
	for i := range encoded {
		corrupted := append([]byte(nil), encoded...)
		corrupted[i] ^= 0x40
		if _, _, err := c.ParseHeader(corrupted); err == nil {
			t.Errorf("Expected parse failure with bit flipped at byte %d", i)
		}
	}
}

func TestParseHeaderTruncatedKey(t *testing.T) {
	c := NewBinaryCodec()

	encoded, err := c.EncodeHeader([]byte("a-fairly-long-key"), 0)
	if err != nil {
		t.Fatalf("Failed to encode header: %v", err)
	}

	if _, _, err := c.ParseHeader(encoded[:PrefixSize+4]); !errors.Is(err, ErrBadHeader) {
		t.Errorf("Expected ErrBadHeader for truncated key, got %v", err)
	}
}

func TestEncodeHeaderValidation(t *testing.T) {
	c := NewBinaryCodec()

	if _, err := c.EncodeHeader(nil, 0); !errors.Is(err, ErrBadHeader) {
		t.Errorf("Expected ErrBadHeader for empty key, got %v", err)
	}

	big := bytes.Repeat([]byte{'x'}, DefaultMaxKeySize+1)
	if _, err := c.EncodeHeader(big, 0); !errors.Is(err, ErrKeyTooLarge) {
		t.Errorf("Expected ErrKeyTooLarge, got %v", err)
	}
}

func TestBinaryCodecMaxKeyBounds(t *testing.T) {
	if _, err := NewBinaryCodecWithMaxKey(0); err == nil {
		t.Error("Expected error for zero max key size")
	}
	if _, err := NewBinaryCodecWithMaxKey(1 << 20); err == nil {
		t.Error("Expected error for oversized max key size")
	}

	c, err := NewBinaryCodecWithMaxKey(8)
	if err != nil {
		t.Fatalf("Failed to create codec: %v", err)
	}
	if c.MaxHeaderSize() != PrefixSize+8 {
		t.Errorf("Expected max header size %d, got %d", PrefixSize+8, c.MaxHeaderSize())
	}
	if _, err := c.EncodeHeader([]byte("123456789"), 0); !errors.Is(err, ErrKeyTooLarge) {
		t.Errorf("Expected ErrKeyTooLarge for 9-byte key, got %v", err)
	}
}
