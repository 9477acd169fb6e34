// wayland_wire.go - minimal Wayland wire-protocol framing
//
// Implements just enough of the wire format (little-endian object id
// + opcode/size header, then arguments) over a raw Unix-domain socket
// to drive the registry and export-dmabuf exchange, plus the
// SCM_RIGHTS control-message handling a compositor frame event needs
// to hand over DMA-BUF file descriptors.

package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// wlMessage is one decoded wire message: the sender object, the
// opcode, and its still-encoded argument bytes.
type wlMessage struct {
	Object uint32
	Opcode uint16
	Args   []byte
	FDs    []int
}

// wlEncoder builds a single outgoing request.
type wlEncoder struct {
	buf bytes.Buffer
}

func (e *wlEncoder) uint32(v uint32) { binary.Write(&e.buf, binary.LittleEndian, v) }
func (e *wlEncoder) int32(v int32)   { binary.Write(&e.buf, binary.LittleEndian, v) }

func (e *wlEncoder) string(s string) {
	b := append([]byte(s), 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	e.uint32(uint32(len(s) + 1))
	e.buf.Write(b)
}

// send wraps the accumulated argument bytes with the object/opcode
// header and writes the whole message to conn.
func (e *wlEncoder) send(conn *net.UnixConn, object uint32, opcode uint16) error {
	args := e.buf.Bytes()
	size := 8 + len(args)
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], object)
	binary.LittleEndian.PutUint16(header[4:6], opcode)
	binary.LittleEndian.PutUint16(header[6:8], uint16(size))
	_, err := conn.Write(append(header, args...))
	return err
}

// wlReader pulls framed messages off the compositor connection,
// capturing any DMA-BUF fds passed via SCM_RIGHTS ancillary data.
type wlReader struct {
	conn *net.UnixConn
	buf  []byte
}

func newWlReader(conn *net.UnixConn) *wlReader {
	return &wlReader{conn: conn}
}

// Next blocks until one full message has been read.
func (r *wlReader) Next() (wlMessage, error) {
	header := make([]byte, 8)
	oob := make([]byte, unix.CmsgSpace(4*8)) // room for a handful of fds
	n, oobn, _, _, err := r.conn.ReadMsgUnix(header, oob)
	if err != nil {
		return wlMessage{}, err
	}
	for n < 8 {
		more := make([]byte, 8-n)
		m, err := r.conn.Read(more)
		if err != nil {
			return wlMessage{}, err
		}
		copy(header[n:], more[:m])
		n += m
	}

	object := binary.LittleEndian.Uint32(header[0:4])
	opcode := binary.LittleEndian.Uint16(header[4:6])
	size := binary.LittleEndian.Uint16(header[6:8])
	if int(size) < 8 {
		return wlMessage{}, fmt.Errorf("wayland: invalid message size %d", size)
	}
	args := make([]byte, size-8)
	if len(args) > 0 {
		if _, err := readFull(r.conn, args); err != nil {
			return wlMessage{}, err
		}
	}

	var fds []int
	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err == nil {
			for _, c := range cmsgs {
				got, err := unix.ParseUnixRights(&c)
				if err == nil {
					fds = append(fds, got...)
				}
			}
		}
	}

	return wlMessage{Object: object, Opcode: opcode, Args: args, FDs: fds}, nil
}

func readFull(conn *net.UnixConn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// argReader walks an already-framed argument payload.
type argReader struct {
	buf []byte
	off int
}

func newArgReader(b []byte) *argReader { return &argReader{buf: b} }

func (a *argReader) uint32() uint32 {
	v := binary.LittleEndian.Uint32(a.buf[a.off:])
	a.off += 4
	return v
}

func (a *argReader) int32() int32 {
	return int32(a.uint32())
}

func (a *argReader) string() string {
	n := int(a.uint32())
	s := string(a.buf[a.off : a.off+n-1])
	a.off += n
	for a.off%4 != 0 {
		a.off++
	}
	return s
}
