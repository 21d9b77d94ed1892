package nbs

import (
	"bufio"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	nbslogger "github.com/Fastcode/nbsjs/logger"
	nbsmetrics "github.com/Fastcode/nbsjs/nbs/metrics"
	nbsfile "github.com/Fastcode/nbsjs/pkg/file"
)

// radiationSymbol is the 3-byte marker beginning every main-file packet
// frame (UTF-8 "☢").
var radiationSymbol = [3]byte{0xE2, 0x98, 0xA2}

// WriterOptions configures Writer construction. The zero value is valid.
type WriterOptions struct {
	Logger  *zap.Logger
	Metrics *nbsmetrics.Metrics
}

func (o WriterOptions) logger(ctx context.Context) *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	if log := nbslogger.FromContext(ctx); log != nil {
		return log
	}
	return zap.NewNop()
}

// Writer appends packets to an NBS main file and its gzip-compressed
// sidecar. It is not safe for concurrent use: the format has no provision
// for concurrent writers on one file (§1 Non-goals).
type Writer struct {
	path string
	dir  string

	main      *os.File
	mainBuf   *bufio.Writer
	sidecar   *os.File
	sidecarGz *gzip.Writer

	bytesWritten uint64
	open         bool

	log     *zap.Logger
	metrics *nbsmetrics.Metrics
}

// CreateWriter creates (or truncates) path and path+".idx" and returns a
// Writer ready to append. The sidecar is always written gzip-compressed,
// matching §4.6. ctx supplies a logger via logger.NewContextWithLogger
// when WriterOptions.Logger is nil.
func CreateWriter(ctx context.Context, path string, opts WriterOptions) (*Writer, error) {
	main, err := os.Create(path)
	if err != nil {
		return nil, wrapIO("create", path, err)
	}

	sidecarPath := path + ".idx"
	sidecar, err := os.Create(sidecarPath)
	if err != nil {
		main.Close()
		return nil, wrapIO("create", sidecarPath, err)
	}

	w := &Writer{
		path:      path,
		dir:       filepath.Dir(path),
		main:      main,
		mainBuf:   bufio.NewWriter(main),
		sidecar:   sidecar,
		sidecarGz: gzip.NewWriter(sidecar),
		open:      true,
		log:       opts.logger(ctx),
		metrics:   opts.Metrics,
	}
	return w, nil
}

// IsOpen reports whether the main stream is still open.
func (w *Writer) IsOpen() bool { return w.open }

// BytesWritten returns the current main-file offset.
func (w *Writer) BytesWritten() uint64 { return w.bytesWritten }

// Write appends packet to the main file and a matching record to the
// sidecar, per §4.6. If emitTs is non-nil it is used in place of
// packet.Timestamp for both the main-file (microsecond, truncated) and
// sidecar (nanosecond) timestamps. It returns the new BytesWritten value.
func (w *Writer) Write(packet Packet, emitTs *Timestamp) (uint64, error) {
	if !w.open {
		return w.bytesWritten, ErrClosed
	}
	if packet.Length() > 0xFFFFFFFF-packetHeaderSize {
		return w.bytesWritten, ErrInvalidPacket
	}

	ts := packet.Timestamp
	if emitTs != nil {
		ts = *emitTs
	}

	frameLength := packetHeaderSize + packet.Length()
	headerLength := packetLengthFieldBase + packet.Length()
	offset := w.bytesWritten

	var header [packetHeaderSize]byte
	copy(header[0:3], radiationSymbol[:])
	binary.LittleEndian.PutUint32(header[3:7], headerLength)
	binary.LittleEndian.PutUint64(header[7:15], ts.Micros())
	binary.LittleEndian.PutUint64(header[15:23], uint64(packet.Type))

	if _, err := w.mainBuf.Write(header[:]); err != nil {
		return w.bytesWritten, wrapIO("write", w.path, err)
	}
	if len(packet.Payload) > 0 {
		if _, err := w.mainBuf.Write(packet.Payload); err != nil {
			return w.bytesWritten, wrapIO("write", w.path, err)
		}
	}

	record := IndexItem{
		Type:      packet.Type,
		Subtype:   packet.Subtype,
		Timestamp: ts,
		Offset:    offset,
		Length:    frameLength,
	}
	if _, err := w.sidecarGz.Write(record.MarshalBinary()); err != nil {
		return w.bytesWritten, wrapIO("write", w.path+".idx", err)
	}

	w.bytesWritten += uint64(frameLength)
	if w.metrics != nil {
		w.metrics.PacketsWritten.Inc()
		w.metrics.BytesWritten.Add(float64(frameLength))
	}
	return w.bytesWritten, nil
}

// Close flushes and closes both streams (the gzip stream writes its
// trailer first) and fsyncs the containing directory so the new files are
// durable. Idempotent.
func (w *Writer) Close() error {
	if !w.open {
		return nil
	}
	w.open = false

	if err := w.mainBuf.Flush(); err != nil {
		return wrapIO("flush", w.path, err)
	}
	if err := w.sidecarGz.Close(); err != nil {
		return wrapIO("close", w.path+".idx", err)
	}
	if err := w.main.Close(); err != nil {
		return wrapIO("close", w.path, err)
	}
	if err := w.sidecar.Close(); err != nil {
		return wrapIO("close", w.path+".idx", err)
	}
	if err := nbsfile.SyncDir(w.dir); err != nil {
		w.log.Warn("directory fsync failed", zap.String("dir", w.dir), zap.Error(err))
		return wrapIO("fsync", w.dir, err)
	}
	return nil
}
