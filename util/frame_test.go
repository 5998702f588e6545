package util_test

import (
	"bytes"
	"net"
	"testing"

	"github.com/liuxinzero07/doris/util"
)

func TestWriteReadWithLength(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := []byte(`{"status":"OK"}`)

	errCh := make(chan error, 1)
	go func() {
		errCh <- util.WriteWithLength(client, payload)
	}()

	got, err := util.ReadWithLength(server)
	if err != nil {
		t.Fatalf("ReadWithLength returned error: %v", err)
	}
	if writeErr := <-errCh; writeErr != nil {
		t.Fatalf("WriteWithLength returned error: %v", writeErr)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Expected payload %q, got %q", payload, got)
	}
}

func TestWriteReadWithLengthEmpty(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		if err := util.WriteWithLength(client, nil); err != nil {
			t.Errorf("WriteWithLength returned error: %v", err)
		}
	}()

	got, err := util.ReadWithLength(server)
	if err != nil {
		t.Fatalf("ReadWithLength returned error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected empty payload, got %d bytes", len(got))
	}
}

func TestReadWithLengthRejectsOversizedHeader(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	}()

	if _, err := util.ReadWithLength(server); err == nil {
		t.Errorf("Expected error for oversized frame header, got nil")
	}
}

func TestReadWithLengthTruncated(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go func() {
		// Announce 16 bytes but deliver only 4, then hang up.
		client.Write([]byte{0x00, 0x00, 0x00, 0x10})
		client.Write([]byte{0x01, 0x02, 0x03, 0x04})
		client.Close()
	}()

	if _, err := util.ReadWithLength(server); err == nil {
		t.Errorf("Expected error for truncated frame, got nil")
	}
}
