// Package namedpipe implements the worker<->component named-pipe transport:
// a pair of FIFOs opened lazily and non-blockingly under a poll-with-deadline
// loop, carrying one percent-encoded JSON line per message.
package namedpipe

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"

	"github.com/v9-labs/v9worker/internal/workerrors"
)

const (
	// PipeCreationTimeout bounds how long opening either FIFO may take.
	PipeCreationTimeout = 10 * time.Second
	// PipeIOTimeout bounds a single write or read operation.
	PipeIOTimeout = 10 * time.Second

	pollInterval   = 3 * time.Millisecond
	readBufferSize = 512

	// InFileName and OutFileName are the fixed FIFO basenames inside a
	// NamedPipe's temp directory.
	InFileName  = "IN"
	OutFileName = "OUT"
)

// NamedPipe is a private temp directory containing two FIFOs, IN and OUT.
// Both FIFOs are created eagerly by New; file descriptors are opened lazily
// on first I/O and cached thereafter.
type NamedPipe struct {
	dir     string
	inPath  string
	outPath string

	mu    sync.Mutex
	inFd  int
	outFd int
}

// New creates a private temp directory under baseDir (the system default
// temp dir if empty) holding two FIFOs created with mode 0777.
func New(baseDir string) (*NamedPipe, error) {
	dir, err := os.MkdirTemp(baseDir, "v9pipe-")
	if err != nil {
		return nil, workerrors.IO(err)
	}
	p := &NamedPipe{
		dir:     dir,
		inPath:  filepath.Join(dir, InFileName),
		outPath: filepath.Join(dir, OutFileName),
		inFd:    -1,
		outFd:   -1,
	}
	if err := unix.Mkfifo(p.inPath, 0777); err != nil {
		os.RemoveAll(dir)
		return nil, workerrors.Posix(err)
	}
	if err := unix.Mkfifo(p.outPath, 0777); err != nil {
		os.RemoveAll(dir)
		return nil, workerrors.Posix(err)
	}
	return p, nil
}

// InPath is the host path of the FIFO the worker writes requests to.
func (p *NamedPipe) InPath() string { return p.inPath }

// OutPath is the host path of the FIFO the worker reads responses from.
func (p *NamedPipe) OutPath() string { return p.outPath }

// Dir is the pipe's private temp directory, for bind-mounting into a
// container alongside InPath/OutPath.
func (p *NamedPipe) Dir() string { return p.dir }

// Close releases both file descriptors (if opened) and deletes the temp
// directory, which deletes the FIFOs.
func (p *NamedPipe) Close() error {
	p.mu.Lock()
	var merr *multierror.Error
	if p.inFd >= 0 {
		if err := unix.Close(p.inFd); err != nil {
			merr = multierror.Append(merr, err)
		}
		p.inFd = -1
	}
	if p.outFd >= 0 {
		if err := unix.Close(p.outFd); err != nil {
			merr = multierror.Append(merr, err)
		}
		p.outFd = -1
	}
	p.mu.Unlock()

	if err := os.RemoveAll(p.dir); err != nil {
		merr = multierror.Append(merr, err)
	}
	return merr.ErrorOrNil()
}

// ensureOpen lazily opens both file descriptors: output (read side) first,
// then input (write side), to avoid a self-deadlock opening a FIFO for
// writing before a reader exists. Each side polls every ~3ms until openable
// or PipeCreationTimeout elapses.
func (p *NamedPipe) ensureOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	deadline := time.Now().Add(PipeCreationTimeout)
	if p.outFd < 0 {
		fd, err := pollOpen(p.outPath, unix.O_RDONLY|unix.O_NONBLOCK, deadline)
		if err != nil {
			return err
		}
		p.outFd = fd
	}
	if p.inFd < 0 {
		fd, err := pollOpen(p.inPath, unix.O_WRONLY|unix.O_NONBLOCK, deadline)
		if err != nil {
			return err
		}
		p.inFd = fd
	}
	return nil
}

func pollOpen(path string, flags int, deadline time.Time) (int, error) {
	for {
		fd, err := unix.Open(path, flags, 0)
		if err == nil {
			return fd, nil
		}
		if !errors.Is(err, unix.ENXIO) && !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) && !errors.Is(err, unix.ENOENT) {
			return -1, workerrors.Posix(err)
		}
		if time.Now().After(deadline) {
			return -1, workerrors.OperationTimedOut("fifo pipe opening")
		}
		time.Sleep(pollInterval)
	}
}

// Write pre-validates payload contains no newline, appends a single '\n',
// and writes it to the input FIFO in a poll-then-write loop bounded by
// PipeIOTimeout. Partial writes advance the cursor across retries.
func (p *NamedPipe) Write(payload []byte) error {
	if bytes.IndexByte(payload, '\n') != -1 {
		return workerrors.InvalidSerialization("contains newline", payload)
	}
	if err := p.ensureOpen(); err != nil {
		return err
	}

	line := make([]byte, 0, len(payload)+1)
	line = append(line, payload...)
	line = append(line, '\n')

	deadline := time.Now().Add(PipeIOTimeout)
	written := 0
	for written < len(line) {
		n, err := unix.Write(p.inFd, line[written:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				if time.Now().After(deadline) {
					return workerrors.OperationTimedOut("pipe writing")
				}
				time.Sleep(pollInterval)
				continue
			}
			return workerrors.Posix(err)
		}
		written += n
		if written < len(line) && time.Now().After(deadline) {
			return workerrors.OperationTimedOut("pipe writing")
		}
	}
	return nil
}

// Read polls the output FIFO for readability under PipeIOTimeout, consuming
// into a 512-byte buffer until a terminating '\n' is seen, and returns
// everything up to and including that byte. A zero-byte read (writer
// closed its end) is reported as PipeDisconnected, which is terminal for
// this pipe.
func (p *NamedPipe) Read() ([]byte, error) {
	if err := p.ensureOpen(); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(PipeIOTimeout)
	var buf []byte
	chunk := make([]byte, readBufferSize)
	for {
		// Wait for data or a hang-up first: a non-blocking read on a FIFO
		// whose writer has not opened it yet returns 0 bytes.
		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, workerrors.OperationTimedOut("pipe reading")
		}
		fds := []unix.PollFd{{Fd: int32(p.outFd), Events: unix.POLLIN}}
		if _, err := unix.Poll(fds, int(wait/time.Millisecond)+1); err != nil && !errors.Is(err, unix.EINTR) {
			return nil, workerrors.Posix(err)
		}
		if fds[0].Revents == 0 {
			continue
		}
		n, err := unix.Read(p.outFd, chunk)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				if time.Now().After(deadline) {
					return nil, workerrors.OperationTimedOut("pipe reading")
				}
				time.Sleep(pollInterval)
				continue
			}
			return nil, workerrors.Posix(err)
		}
		if n == 0 {
			return nil, workerrors.PipeDisconnected()
		}
		buf = append(buf, chunk[:n]...)
		if idx := bytes.IndexByte(buf, '\n'); idx != -1 {
			return buf[:idx+1], nil
		}
		if time.Now().After(deadline) {
			return nil, workerrors.OperationTimedOut("pipe reading")
		}
	}
}

// Query writes s then reads the response line, returning it as a UTF-8
// string with the trailing newline stripped. Invalid UTF-8 is an error.
func (p *NamedPipe) Query(s string) (string, error) {
	if err := p.Write([]byte(s)); err != nil {
		return "", err
	}
	line, err := p.Read()
	if err != nil {
		return "", err
	}
	line = bytes.TrimSuffix(line, []byte{'\n'})
	if !utf8.Valid(line) {
		return "", workerrors.InvalidUTF8(errors.New("pipe response is not valid UTF-8"))
	}
	return string(line), nil
}
