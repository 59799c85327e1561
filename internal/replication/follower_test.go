package replication

import (
	"bufio"
	"bytes"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dayday/redisserver/internal/rdb"
	"github.com/dayday/redisserver/internal/resp"
)

// fakeMaster accepts one connection, answers the four handshake steps,
// sends an empty snapshot, then streams the frames in stream and
// closes.
func fakeMaster(t *testing.T, ln net.Listener, stream [][]byte) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	for i := 0; i < 3; i++ {
		if _, _, err := readFrame(r); err != nil {
			t.Errorf("fakeMaster: read handshake frame %d: %v", i, err)
			return
		}
		reply := "+OK\r\n"
		if i == 0 {
			reply = "+PONG\r\n"
		}
		conn.Write([]byte(reply))
	}
	if _, _, err := readFrame(r); err != nil {
		t.Errorf("fakeMaster: read PSYNC: %v", err)
		return
	}
	conn.Write([]byte("+FULLRESYNC abcd 0\r\n"))

	snapshot := rdb.EmptySnapshot()
	conn.Write([]byte("$" + strconv.Itoa(len(snapshot)) + "\r\n"))
	conn.Write(snapshot)

	for _, frame := range stream {
		conn.Write(frame)
	}
}

func readFrame(r *bufio.Reader) ([]string, int, error) {
	var buf []byte
	tmp := make([]byte, 4096)
	for {
		args, consumed, err := resp.ParseCommand(buf)
		if err == nil {
			return args, consumed, nil
		}
		if err != resp.ErrIncomplete {
			return nil, 0, err
		}
		n, rerr := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if rerr != nil {
			return nil, 0, rerr
		}
	}
}

func TestDialPerformsHandshakeAndLoadsSnapshot(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go fakeMaster(t, ln, nil)

	addr := ln.Addr().(*net.TCPAddr)
	f, err := Dial("127.0.0.1", addr.Port, 6380)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer f.Close()

	snapshot, err := f.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	dec, err := rdb.NewDecoder(bytes.NewReader(snapshot))
	if err != nil {
		t.Fatalf("rdb.NewDecoder: %v", err)
	}
	if _, err := dec.Next(); err == nil {
		t.Fatalf("expected io.EOF decoding an empty snapshot")
	}
}

func TestStreamAppliesCommandsAndTracksOffset(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	setFrame := resp.EncodeCommand("SET", "foo", "bar")
	getackFrame := resp.EncodeCommand("REPLCONF", "GETACK", "*")
	go fakeMaster(t, ln, [][]byte{setFrame, getackFrame})

	addr := ln.Addr().(*net.TCPAddr)
	f, err := Dial("127.0.0.1", addr.Port, 6380)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer f.Close()
	if _, err := f.LoadSnapshot(); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	var applied []string
	done := make(chan struct{})
	go func() {
		f.Stream(func(args []string) error {
			applied = append(applied, strings.Join(args, " "))
			if len(applied) == 1 {
				close(done)
			}
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SET to apply")
	}

	time.Sleep(50 * time.Millisecond) // let GETACK's offset update land
	if f.Offset() != int64(len(setFrame)+len(getackFrame)) {
		t.Fatalf("offset = %d, want %d", f.Offset(), len(setFrame)+len(getackFrame))
	}
}
