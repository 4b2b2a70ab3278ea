package persistence

import (
	"bufio"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/eternalApril/moonkv/internal/resp"
	"go.uber.org/zap"
)

// ErrAOFClosed is returned by Append after Close
var ErrAOFClosed = errors.New("aof: closed")

type fsyncStrategy int

const (
	fsyncAlways fsyncStrategy = iota + 1
	fsyncEverySec
	fsyncNo
)

// AOF Append Only File persistence.
// Commands are handed to a background writer over a buffered channel
type AOF struct {
	file     *os.File
	writer   *bufio.Writer
	filename string
	strategy fsyncStrategy

	commandsChan chan []byte

	mu     sync.RWMutex // guards closed against concurrent Append
	closed bool

	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewAOF construct AOF structure
func NewAOF(filename string, strategyStr string, logger *zap.Logger) (*AOF, error) {
	strategy := parseStrategy(strategyStr)

	// open file in Append mode, Create if not exists, Read/Write
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	aof := &AOF{
		file:         f,
		writer:       bufio.NewWriterSize(f, 64*1024),
		filename:     filename,
		strategy:     strategy,
		commandsChan: make(chan []byte, 10000), // buffer for burst writes
		logger:       logger,
	}

	// background disk writer
	aof.wg.Add(1)
	go aof.listen()

	return aof, nil
}

// Append sends the command to the background writer
func (a *AOF) Append(cmd resp.Command) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return ErrAOFClosed
	}

	// if channel is full, this WILL block, providing backpressure
	a.commandsChan <- resp.SerializeCommand(cmd)
	return nil
}

func (a *AOF) listen() {
	defer a.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case p, ok := <-a.commandsChan:
			if !ok {
				// channel closed by Close, everything queued has been written
				a.sync()
				return
			}

			if _, err := a.writer.Write(p); err != nil {
				a.logger.Error("AOF write error", zap.Error(err))
				continue
			}

			if a.strategy == fsyncAlways && len(a.commandsChan) == 0 {
				a.sync()
			}

		case <-ticker.C:
			switch a.strategy {
			case fsyncEverySec:
				a.sync()
			case fsyncNo:
				// leave the fsync to the OS, only hand the buffer over
				a.flush()
			}
		}
	}
}

func (a *AOF) flush() {
	if err := a.writer.Flush(); err != nil {
		a.logger.Error("AOF flush error", zap.Error(err))
	}
}

func (a *AOF) sync() {
	a.flush()
	if err := a.file.Sync(); err != nil {
		a.logger.Error("AOF fsync error", zap.Error(err))
	}
}

// Close drains queued commands, syncs the file and closes it
func (a *AOF) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.commandsChan)
	a.mu.Unlock()

	a.wg.Wait() // wait for background routine to finish last flush
	return a.file.Close()
}

// Filename returns the path of the log
func (a *AOF) Filename() string {
	return a.filename
}

func parseStrategy(s string) fsyncStrategy {
	switch s {
	case "always":
		return fsyncAlways
	case "no":
		return fsyncNo
	default:
		return fsyncEverySec
	}
}
