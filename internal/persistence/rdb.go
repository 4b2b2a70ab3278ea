package persistence

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eternalApril/moonkv/internal/storage"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const rdbHeader = "MOONKV01"

// Compression flags stored right after the header
const (
	compressionNone byte = 0
	compressionZstd byte = 1
)

// importBatch limits how many records are held before they are handed to the store
const importBatch = 1024

var (
	// ErrSaveInProgress is returned when a save is requested while another one runs
	ErrSaveInProgress = errors.New("ERR Background save already in progress")

	ErrBadHeader = fmt.Errorf("%w: bad header", ErrCorrupted)
)

// RDB writes point-in-time snapshots of the keyspace
type RDB struct {
	filename    string
	compression byte
	logger      *zap.Logger

	saving     atomic.Bool
	lastSave   atomic.Int64 // unix seconds of the last successful save
	lastFailed atomic.Bool
	wg         sync.WaitGroup
}

// NewRDB creates a snapshotter. compression is "none" or "zstd"
func NewRDB(filename string, compression string, logger *zap.Logger) *RDB {
	r := &RDB{
		filename: filename,
		logger:   logger,
	}

	if compression == "zstd" {
		r.compression = compressionZstd
	}

	r.lastSave.Store(time.Now().Unix())
	return r
}

// Save writes a snapshot in the foreground
func (r *RDB) Save(db storage.Storage) error {
	if !r.saving.CompareAndSwap(false, true) {
		return ErrSaveInProgress
	}
	defer r.saving.Store(false)

	return r.save(db)
}

// BackgroundSave starts a snapshot in a goroutine. Only one save runs at a time
func (r *RDB) BackgroundSave(db storage.Storage) error {
	if !r.saving.CompareAndSwap(false, true) {
		return ErrSaveInProgress
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.saving.Store(false)

		if err := r.save(db); err != nil {
			r.logger.Error("Background RDB save failed", zap.Error(err))
		}
	}()

	return nil
}

// Wait blocks until a running background save finishes
func (r *RDB) Wait() {
	r.wg.Wait()
}

// InProgress reports whether a save is running
func (r *RDB) InProgress() bool {
	return r.saving.Load()
}

// LastSave returns the time of the last successful save
func (r *RDB) LastSave() time.Time {
	return time.Unix(r.lastSave.Load(), 0)
}

// LastSaveFailed reports whether the most recent save failed
func (r *RDB) LastSaveFailed() bool {
	return r.lastFailed.Load()
}

// save performs an atomic save operation: the snapshot goes to a temporary file
// that replaces the previous one only after it is fully on disk
func (r *RDB) save(db storage.Storage) (err error) {
	start := time.Now()
	records := db.Export()

	defer func() {
		r.lastFailed.Store(err != nil)
		if err == nil {
			r.lastSave.Store(time.Now().Unix())
		}
	}()

	tmpFile := r.filename + ".tmp"
	f, err := os.Create(tmpFile)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()          //nolint:errcheck
			os.Remove(tmpFile) //nolint:errcheck
		}
	}()

	if err = r.write(f, records); err != nil {
		return err
	}

	if err = f.Sync(); err != nil {
		return err
	}

	if err = f.Close(); err != nil {
		return err
	}

	if err = os.Rename(tmpFile, r.filename); err != nil {
		return err
	}

	r.logger.Info("RDB saved successfully",
		zap.String("file", r.filename),
		zap.Int("keys", len(records)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (r *RDB) write(w io.Writer, records []storage.Record) error {
	writer := bufio.NewWriterSize(w, 1024*1024)

	if _, err := writer.WriteString(rdbHeader); err != nil {
		return err
	}
	if err := writer.WriteByte(r.compression); err != nil {
		return err
	}

	var (
		body io.Writer = writer
		enc  *zstd.Encoder
	)

	if r.compression == compressionZstd {
		var err error
		enc, err = zstd.NewWriter(writer, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		body = enc
	}

	rw := &recordWriter{w: body}
	for i := range records {
		if err := rw.write(&records[i]); err != nil {
			return err
		}
	}
	if err := rw.end(); err != nil {
		return err
	}

	if enc != nil {
		if err := enc.Close(); err != nil {
			return err
		}
	}

	return writer.Flush()
}

// Load imports the snapshot into db and returns the number of records read.
// A missing file is a fresh start
func (r *RDB) Load(db storage.Storage) (int, error) {
	f, err := os.Open(r.filename)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close() //nolint:errcheck

	start := time.Now()
	n, err := read(bufio.NewReader(f), db)
	if err != nil {
		return n, fmt.Errorf("load %s: %w", r.filename, err)
	}

	r.logger.Info("RDB loaded",
		zap.String("file", r.filename),
		zap.Int("keys", n),
		zap.Duration("duration", time.Since(start)),
	)
	return n, nil
}

func read(src *bufio.Reader, db storage.Storage) (int, error) {
	header := make([]byte, len(rdbHeader)+1)
	if _, err := io.ReadFull(src, header); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if string(header[:len(rdbHeader)]) != rdbHeader {
		return 0, ErrBadHeader
	}

	rr := &recordReader{r: src}

	switch header[len(rdbHeader)] {
	case compressionNone:
	case compressionZstd:
		dec, err := zstd.NewReader(src)
		if err != nil {
			return 0, err
		}
		defer dec.Close()
		rr.r = bufio.NewReader(dec)
	default:
		return 0, fmt.Errorf("%w: unknown compression %d", ErrCorrupted, header[len(rdbHeader)])
	}

	total := 0
	batch := make([]storage.Record, 0, importBatch)

	for {
		rec, err := rr.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return total, err
		}

		batch = append(batch, rec)
		if len(batch) == importBatch {
			db.Import(batch)
			total += len(batch)
			batch = batch[:0]
		}
	}

	db.Import(batch)
	total += len(batch)

	return total, nil
}
