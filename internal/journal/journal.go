// Package journal records bus events as JSON lines in date-organized files.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Berry7028/browserbee/internal/host"
)

const (
	defaultBufferSize = 512
	defaultMaxSizeMB  = 25
	closeTimeout      = 5 * time.Second
)

var (
	errClosed     = errors.New("journal: writer is closed")
	errBufferFull = errors.New("journal: buffer full")
)

// Options configures a Writer.
type Options struct {
	Dir        string // base directory; a date directory is created below it
	SubDir     string // e.g. "events"
	Name       string // filename base; a unix timestamp when empty
	BufferSize int
	MaxSizeMB  int
}

// Writer appends records asynchronously. Files roll over at UTC midnight and
// whenever lumberjack's size limit is reached.
type Writer struct {
	opts    Options
	writeCh chan any
	done    chan struct{}
	wg      sync.WaitGroup

	mu          sync.Mutex
	currentDate string
	currentFile string
	logger      *lumberjack.Logger
	closeOnce   sync.Once
	now         func() time.Time
}

// NewWriter starts a writer goroutine.
func NewWriter(opts Options) *Writer {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = defaultMaxSizeMB
	}
	w := &Writer{
		opts:    opts,
		writeCh: make(chan any, opts.BufferSize),
		done:    make(chan struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Write queues a record. It never blocks; a full buffer drops the record.
func (w *Writer) Write(record any) error {
	select {
	case <-w.done:
		return errClosed
	default:
	}
	select {
	case w.writeCh <- record:
		return nil
	case <-w.done:
		return errClosed
	default:
		slog.Warn("journal buffer full, dropping record", "subdir", w.opts.SubDir)
		return errBufferFull
	}
}

// Path returns the file currently written to, or "" before the first record.
func (w *Writer) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentFile
}

// Close stops the writer after flushing queued records.
func (w *Writer) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.wg.Wait()

		timeout := time.After(closeTimeout)
	drain:
		for {
			select {
			case record := <-w.writeCh:
				w.writeRecord(record)
			case <-timeout:
				slog.Warn("journal close timeout, some records may be lost", "subdir", w.opts.SubDir)
				break drain
			default:
				break drain
			}
		}

		w.mu.Lock()
		defer w.mu.Unlock()
		if w.logger != nil {
			err = w.logger.Close()
		}
	})
	return err
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-w.done:
			return
		}
	}
}

func (w *Writer) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("journal marshal failed", "error", err, "subdir", w.opts.SubDir)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	date := w.now().Format("2006-01-02")
	if w.logger == nil || date != w.currentDate {
		if err := w.rotateForDate(date); err != nil {
			slog.Error("journal rotate failed", "error", err, "subdir", w.opts.SubDir)
			return
		}
	}

	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("journal write failed", "error", err, "subdir", w.opts.SubDir)
	}
}

func (w *Writer) rotateForDate(date string) error {
	if w.logger != nil {
		_ = w.logger.Close()
		w.logger = nil
	}

	dir := filepath.Join(w.opts.Dir, date, w.opts.SubDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	name := w.opts.Name
	if name == "" {
		name = fmt.Sprintf("%d", w.now().Unix())
	}
	filename := filepath.Join(dir, name+".jsonl")

	w.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    w.opts.MaxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
		LocalTime:  false,
	}
	w.currentDate = date
	w.currentFile = filename
	slog.Info("journal opened file", "file", filename)
	return nil
}

// Journal copies every bus event into a Writer.
type Journal struct {
	bus      *host.Bus
	w        *Writer
	streamID int64
	wg       sync.WaitGroup
	once     sync.Once
}

// Follow opens a bus stream and writes each event until Close.
func Follow(bus *host.Bus, w *Writer) *Journal {
	id, ch := bus.Stream()
	j := &Journal{bus: bus, w: w, streamID: id}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		for evt := range ch {
			_ = w.Write(evt)
		}
	}()
	return j
}

// Writer returns the underlying writer.
func (j *Journal) Writer() *Writer { return j.w }

// Close detaches from the bus and flushes the writer.
func (j *Journal) Close() error {
	var err error
	j.once.Do(func() {
		j.bus.CloseStream(j.streamID)
		j.wg.Wait()
		err = j.w.Close()
	})
	return err
}
