package persistence

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/eternalApril/moonkv/internal/resp"
	"go.uber.org/zap"
)

// Replay reads the AOF file and passes every logged command to apply, in order.
// A missing file is a fresh start. A command cut off at the end of the file,
// left by a crash in the middle of a write, is dropped with a warning
func (a *AOF) Replay(apply func(cmd resp.Command)) (int, error) {
	return ReplayFile(a.filename, a.logger, apply)
}

// ReplayFile is Replay for an arbitrary file
func ReplayFile(filename string, logger *zap.Logger, apply func(cmd resp.Command)) (int, error) {
	file, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil // Fresh start
		}
		return 0, err
	}
	defer file.Close() //nolint:errcheck

	reader := resp.NewDecoder(file)
	count := 0

	for {
		cmd, err := reader.ReadCommand()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return count, nil
			case errors.Is(err, io.ErrUnexpectedEOF):
				logger.Warn("AOF ends with a truncated command, ignoring it",
					zap.String("file", filename),
					zap.Int("commands", count),
				)
				return count, nil
			default:
				return count, fmt.Errorf("aof %s: command %d: %w", filename, count+1, err)
			}
		}

		if cmd.Name == "" {
			continue
		}

		apply(cmd)
		count++
	}
}
