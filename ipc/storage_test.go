/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package ipc_test

import (
	"net"
	"testing"

	"github.com/comoproject/como/ipc"
	"github.com/comoproject/como/storage"
)

func TestStorageClientServerRoundTrip(t *testing.T) {
	svc := storage.NewService(t.TempDir())

	serverConn, clientConn := net.Pipe()
	srv := &ipc.StorageServer{Svc: svc}
	go srv.Serve(serverConn)

	client := ipc.DialStorage(clientConn)
	defer clientConn.Close()

	wid, woff, err := client.Open("traffic", storage.ModeWriter, 0)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	if err := client.WriteRegion(wid, woff, []byte("hello")); err != nil {
		t.Fatalf("write region: %v", err)
	}
	if err := client.Inform(wid, woff+5); err != nil {
		t.Fatalf("inform: %v", err)
	}
	if err := client.Close(wid, woff+5); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	rid, off, err := client.Open("traffic", storage.ModeReaderNonBlock, 0)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	rres, err := client.Region(rid, off, 64)
	if err != nil {
		t.Fatalf("reader region: %v", err)
	}
	if string(rres.Data[:5]) != "hello" {
		t.Fatalf("got %q, want %q", rres.Data[:5], "hello")
	}
	if err := client.Close(rid, 0); err != nil {
		t.Fatalf("close reader: %v", err)
	}
}

func TestStorageClientOpenUnknownStreamFails(t *testing.T) {
	svc := storage.NewService(t.TempDir())
	serverConn, clientConn := net.Pipe()
	srv := &ipc.StorageServer{Svc: svc}
	go srv.Serve(serverConn)
	client := ipc.DialStorage(clientConn)
	defer clientConn.Close()

	if _, _, err := client.Open("nope", storage.ModeReaderNonBlock, 0); err == nil {
		t.Fatal("expected error opening a nonexistent stream for reading")
	}
}
