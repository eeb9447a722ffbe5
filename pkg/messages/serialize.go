package messages

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

const (
	// maxDecodedSize bounds the decompressed size of a single frame. The
	// largest legitimate message (a full room snapshot) is far below this;
	// a frame that inflates past it is hostile and treated as undecodable.
	maxDecodedSize = 1 << 20 // 1MB

	// encoderWindowSize stays under maxDecodedSize so every frame we
	// produce is accepted by our own decoder.
	encoderWindowSize = 64 << 10
)

// Serialize encodes a message as zstd-compressed JSON for the wire.
func Serialize(m *Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	compressed := bytes.NewBuffer(nil)
	compWriter, err := zstd.NewWriter(compressed, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithWindowSize(encoderWindowSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if _, err := compWriter.Write(b); err != nil {
		return nil, fmt.Errorf("failed to compress message: %w", err)
	}
	if err := compWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zstd writer: %w", err)
	}

	return compressed.Bytes(), nil
}

// Deserialize decodes a zstd-compressed JSON message from the wire.
func Deserialize(data []byte) (*Message, error) {
	compReader, err := zstd.NewReader(bytes.NewReader(data), zstd.WithDecoderMaxMemory(maxDecodedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer compReader.Close()
	b, err := io.ReadAll(compReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read decompressed message: %w", err)
	}

	message := &Message{}
	if err := json.Unmarshal(b, message); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	return message, nil
}
