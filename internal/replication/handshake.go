package replication

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/dayday/redisserver/internal/resp"
)

// Follower drives the outbound side of replication: the 4-step
// handshake, the initial snapshot transfer, and the streamed command
// application loop that follows it.
type Follower struct {
	conn   net.Conn
	reader *bufio.Reader

	masterAddr string
	offset     int64
	buf        []byte // unparsed tail of the command stream
}

// Dial performs PING / REPLCONF listening-port / REPLCONF capa psync2
// / PSYNC ? -1 against a leader at host:port, the same four steps
// real replica bootstrap sends, and returns a Follower positioned
// right after the FULLRESYNC reply line, ready for LoadSnapshot.
func Dial(host string, port int, myListenPort int) (*Follower, error) {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("replication: dial %s:%d: %w", host, port, err)
	}
	f := &Follower{
		conn:       conn,
		reader:     bufio.NewReaderSize(conn, 64*1024),
		masterAddr: conn.RemoteAddr().String(),
	}

	if err := f.roundTrip(resp.EncodeCommand("PING")); err != nil {
		conn.Close()
		return nil, fmt.Errorf("replication: handshake PING: %w", err)
	}
	portStr := strconv.Itoa(myListenPort)
	if err := f.roundTrip(resp.EncodeCommand("REPLCONF", "listening-port", portStr)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("replication: handshake REPLCONF listening-port: %w", err)
	}
	if err := f.roundTrip(resp.EncodeCommand("REPLCONF", "capa", "psync2")); err != nil {
		conn.Close()
		return nil, fmt.Errorf("replication: handshake REPLCONF capa: %w", err)
	}

	if _, err := conn.Write(resp.EncodeCommand("PSYNC", "?", "-1")); err != nil {
		conn.Close()
		return nil, fmt.Errorf("replication: send PSYNC: %w", err)
	}
	line, err := readSimpleLine(f.reader)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("replication: read FULLRESYNC reply: %w", err)
	}
	if !strings.HasPrefix(line, "+FULLRESYNC") {
		conn.Close()
		return nil, fmt.Errorf("replication: unexpected PSYNC reply %q", line)
	}

	return f, nil
}

// roundTrip writes frame and discards a single reply line, used for
// the three handshake steps whose replies (+PONG, +OK, +OK) carry no
// information this server needs to act on.
func (f *Follower) roundTrip(frame []byte) error {
	if _, err := f.conn.Write(frame); err != nil {
		return err
	}
	_, err := readSimpleLine(f.reader)
	return err
}

func readSimpleLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// LoadSnapshot reads the bulk-framed RDB payload the leader sends
// right after FULLRESYNC and returns it as a byte slice ready for
// rdb.NewDecoder. Unlike an ordinary bulk reply, this frame has no
// trailing "\r\n": the length header is immediately followed by
// exactly that many snapshot bytes.
func (f *Follower) LoadSnapshot() ([]byte, error) {
	header, err := readSimpleLine(f.reader)
	if err != nil {
		return nil, fmt.Errorf("replication: read snapshot header: %w", err)
	}
	if !strings.HasPrefix(header, "$") {
		return nil, fmt.Errorf("replication: unexpected snapshot header %q", header)
	}
	length, err := strconv.Atoi(header[1:])
	if err != nil {
		return nil, fmt.Errorf("replication: bad snapshot length %q: %w", header, err)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(f.reader, buf); err != nil {
		return nil, fmt.Errorf("replication: read snapshot body: %w", err)
	}
	return buf, nil
}

// Offset returns the number of command-stream bytes applied so far.
func (f *Follower) Offset() int64 {
	return f.offset
}

// Close terminates the connection to the leader.
func (f *Follower) Close() error {
	return f.conn.Close()
}
