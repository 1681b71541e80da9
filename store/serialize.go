package store

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
)

func SerializeInt(value int) ([]byte, error) {
	buffer := &bytes.Buffer{}
	encoder := gob.NewEncoder(buffer)
	err := encoder.Encode(value)
	return buffer.Bytes(), err
}

func DeserializeInt(input []byte) (int, error) {
	output := 0
	decoder := gob.NewDecoder(bytes.NewBuffer(input))
	err := decoder.Decode(&output)
	return output, err
}

func SerializeObject[T any](data *T) ([]byte, error) {
	if data == nil {
		return nil, errors.New("cannot serialize nil object")
	}
	buffer := &bytes.Buffer{}
	encoder := gob.NewEncoder(buffer)
	err := encoder.Encode(data)
	return buffer.Bytes(), err
}

func DeserializeObject[T any](input []byte) (*T, error) {
	output := new(T)
	decoder := gob.NewDecoder(bytes.NewBuffer(input))
	err := decoder.Decode(output)
	return output, err
}

// Compress returns the zlib compressed form of data
func Compress(data []byte) ([]byte, error) {
	buffer := &bytes.Buffer{}
	writer := zlib.NewWriter(buffer)
	_, err := writer.Write(data)
	if err != nil {
		return nil, fmt.Errorf("cannot compress data: %w", err)
	}
	err = writer.Close()
	if err != nil {
		return nil, fmt.Errorf("error closing zlib writer: %w", err)
	}
	return buffer.Bytes(), nil
}

func Decompress(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("cannot decompress data: %w", err)
	}
	defer reader.Close()
	output, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("cannot decompress data: %w", err)
	}
	return output, nil
}

// EncodeID returns a key sorting in the same order as the ids
func EncodeID(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

func DecodeID(key []byte) (uint64, error) {
	if len(key) != 8 {
		return 0, fmt.Errorf("invalid id key of %d bytes", len(key))
	}
	return binary.BigEndian.Uint64(key), nil
}
