// wayland_client.go - export-dmabuf-unstable-v1 compositor glue
//
// Requests one frame capture at a time on the bound output without
// the cursor composited in, collects the width/height/plane-count and
// modifier the compositor reports plus one (fd, size) pair per plane,
// then waits for the ready or cancel event. Only plane 0 is ever used
// downstream (frame_importer.go); additional planes' fds are still
// closed on frame-free so no descriptor leaks.

package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const (
	wlDisplayObjectID = 1

	// request opcodes
	opDisplayGetRegistry  = 1
	opRegistryBind        = 0
	opManagerCaptureOutput = 0
	opFrameDestroy        = 0

	// event opcodes
	evDisplayError     = 0
	evRegistryGlobal   = 0
	evCallbackDone     = 0
	evFrameFrame       = 0
	evFrameObject      = 1
	evFrameReady       = 2
	evFrameCancel      = 3

	// zwlr_export_dmabuf_frame_v1.cancel reason
	cancelReasonTemporary = 0
	cancelReasonPermanent = 1
)

// CancelError is returned by CaptureFrame when the compositor
// cancelled the in-flight request. Permanent distinguishes a cancel
// that will recur on every future request (stop the daemon) from one
// that is worth simply retrying on the next cycle.
type CancelError struct {
	Permanent bool
}

func (e *CancelError) Error() string {
	if e.Permanent {
		return "wayland: capture permanently cancelled"
	}
	return "wayland: capture cancelled, retrying"
}

// WaylandCapture binds wl_output and zwlr_export_dmabuf_manager_v1 on
// the compositor connection and issues one capture_output request per
// cycle.
type WaylandCapture struct {
	conn     *net.UnixConn
	reader   *wlReader
	nextID   uint32
	managerID uint32
	outputID uint32
}

func dialWaylandSocket() (*net.UnixConn, error) {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return nil, fmt.Errorf("wayland: XDG_RUNTIME_DIR not set")
	}
	name := os.Getenv("WAYLAND_DISPLAY")
	if name == "" {
		name = "wayland-0"
	}
	path := name
	if !filepath.IsAbs(name) {
		path = filepath.Join(runtimeDir, name)
	}
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("wayland: dial %s: %w", path, err)
	}
	return conn.(*net.UnixConn), nil
}

// NewWaylandCapture connects to the compositor and binds the globals
// the capture pipeline needs. It is a fatal, init-time failure if the
// compositor has no wl_output or lacks the export-dmabuf protocol.
func NewWaylandCapture(outputName string) (*WaylandCapture, error) {
	conn, err := dialWaylandSocket()
	if err != nil {
		return nil, err
	}

	c := &WaylandCapture{conn: conn, reader: newWlReader(conn), nextID: 2}

	registryID := c.allocate()
	if err := (&wlEncoder{}).sendRegistryRequest(conn, registryID); err != nil {
		conn.Close()
		return nil, fmt.Errorf("wayland: get_registry: %w", err)
	}

	syncCallback := c.allocate()
	{
		var e wlEncoder
		e.uint32(syncCallback)
		if err := e.send(conn, wlDisplayObjectID, 0); err != nil {
			conn.Close()
			return nil, fmt.Errorf("wayland: sync: %w", err)
		}
	}

	type global struct {
		name      uint32
		version   uint32
		interface_ string
	}
	var outputs, managers []global

	for {
		msg, err := c.reader.Next()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("wayland: registry enumeration: %w", err)
		}
		switch {
		case msg.Object == registryID && msg.Opcode == evRegistryGlobal:
			a := newArgReader(msg.Args)
			name := a.uint32()
			iface := a.string()
			version := a.uint32()
			g := global{name: name, version: version, interface_: iface}
			switch iface {
			case "wl_output":
				outputs = append(outputs, g)
			case "zwlr_export_dmabuf_manager_v1":
				managers = append(managers, g)
			}
		case msg.Object == syncCallback && msg.Opcode == evCallbackDone:
			goto enumerated
		case msg.Object == wlDisplayObjectID && msg.Opcode == evDisplayError:
			conn.Close()
			return nil, fmt.Errorf("wayland: protocol error during setup")
		}
	}
enumerated:
	if len(outputs) == 0 {
		conn.Close()
		return nil, fmt.Errorf("wayland: compositor has no outputs")
	}
	if len(managers) == 0 {
		conn.Close()
		return nil, fmt.Errorf("wayland: compositor lacks zwlr_export_dmabuf_manager_v1")
	}

	// The capture target is chosen once at startup; this daemon never
	// multiplexes across outputs. Selecting outputName by its
	// human-readable label would require binding xdg-output as well,
	// which this daemon does not do, so the first advertised wl_output
	// is used instead.
	chosenOutput := outputs[0]
	c.outputID = c.allocate()
	if err := bindGlobal(conn, registryID, chosenOutput.name, "wl_output", chosenOutput.version, c.outputID); err != nil {
		conn.Close()
		return nil, err
	}

	manager := managers[0]
	c.managerID = c.allocate()
	if err := bindGlobal(conn, registryID, manager.name, "zwlr_export_dmabuf_manager_v1", manager.version, c.managerID); err != nil {
		conn.Close()
		return nil, err
	}

	return c, nil
}

func (c *WaylandCapture) allocate() uint32 {
	id := c.nextID
	c.nextID++
	return id
}

func bindGlobal(conn *net.UnixConn, registryID, name uint32, iface string, version, newID uint32) error {
	var e wlEncoder
	e.uint32(name)
	e.string(iface)
	e.uint32(version)
	e.uint32(newID)
	if err := e.send(conn, registryID, opRegistryBind); err != nil {
		return fmt.Errorf("wayland: bind %s: %w", iface, err)
	}
	return nil
}

func (e *wlEncoder) sendRegistryRequest(conn *net.UnixConn, registryID uint32) error {
	e.uint32(registryID)
	return e.send(conn, wlDisplayObjectID, opDisplayGetRegistry)
}

// CaptureFrame requests one capture on the bound output (without
// cursor) and blocks until the compositor delivers ready or cancel.
// On success the caller owns every fd in the returned frame and must
// call Free exactly once.
func (c *WaylandCapture) CaptureFrame() (*CapturedFrame, func(), error) {
	frameID := c.allocate()
	{
		var e wlEncoder
		e.uint32(frameID)   // new_id frame
		e.int32(0)          // overlay_cursor = false
		e.uint32(c.outputID)
		if err := e.send(c.conn, c.managerID, opManagerCaptureOutput); err != nil {
			return nil, nil, fmt.Errorf("wayland: capture_output: %w", err)
		}
	}

	frame := &CapturedFrame{}
	for {
		msg, err := c.reader.Next()
		if err != nil {
			return nil, nil, fmt.Errorf("wayland: read frame event: %w", err)
		}
		if msg.Object != frameID {
			continue
		}
		switch msg.Opcode {
		case evFrameFrame:
			a := newArgReader(msg.Args)
			frame.Width = a.uint32()
			frame.Height = a.uint32()
			_ = a.uint32() // x
			_ = a.uint32() // y
			_ = a.uint32() // buffer_flags
			_ = a.uint32() // flags
			_ = a.uint32() // format
			modHi := a.uint32()
			modLo := a.uint32()
			frame.Modifier = uint64(modHi)<<32 | uint64(modLo)
			numObjects := a.uint32()
			frame.PlaneCount = int(numObjects)
		case evFrameObject:
			a := newArgReader(msg.Args)
			_ = a.uint32() // index
			if len(msg.FDs) == 0 {
				return nil, nil, fmt.Errorf("wayland: object event carried no fd")
			}
			fd := msg.FDs[0]
			size := a.uint32()
			frame.FDs = append(frame.FDs, fd)
			frame.Sizes = append(frame.Sizes, uint64(size))
		case evFrameReady:
			free := func() { c.freeFrame(frameID, frame) }
			return frame, free, nil
		case evFrameCancel:
			a := newArgReader(msg.Args)
			reason := a.uint32()
			for _, fd := range frame.FDs {
				unix.Close(fd)
			}
			c.destroyFrameObject(frameID)
			return nil, nil, &CancelError{Permanent: reason == cancelReasonPermanent}
		}
	}
}

func (c *WaylandCapture) freeFrame(frameID uint32, frame *CapturedFrame) {
	for _, fd := range frame.FDs {
		unix.Close(fd)
	}
	c.destroyFrameObject(frameID)
}

func (c *WaylandCapture) destroyFrameObject(frameID uint32) {
	var e wlEncoder
	_ = e.send(c.conn, frameID, opFrameDestroy)
}

// Close tears down the compositor connection.
func (c *WaylandCapture) Close() error {
	return c.conn.Close()
}
