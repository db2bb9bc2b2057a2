package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"vibestyler/internal/pipeline"
)

const maxMessageBytes = 8 << 20

// dispatcher is the part of the coordinator the message loop drives.
type dispatcher interface {
	Dispatch(ctx context.Context, in pipeline.Intent) pipeline.Reply
	Broadcaster() *pipeline.Broadcaster
}

// stdioSession speaks the front-end message protocol as NDJSON: one intent
// per input line, one reply per intent and one FINAL_STATUS line for each
// broadcast Outcome.
type stdioSession struct {
	coord  dispatcher
	logger *zap.Logger

	mu  sync.Mutex
	enc *json.Encoder
}

func newStdioSession(coord dispatcher, out io.Writer, logger *zap.Logger) *stdioSession {
	return &stdioSession{coord: coord, logger: logger, enc: json.NewEncoder(out)}
}

type errorReply struct {
	Status string `json:"status"`
}

func (s *stdioSession) write(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(v); err != nil {
		s.logger.Warn("write message failed", zap.Error(err))
	}
}

// Serve reads intents from in until EOF or ctx is done. Applies still
// running at EOF keep going; their outcomes reach Forward.
func (s *stdioSession) Serve(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64<<10), maxMessageBytes)

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := bytes.Clone(bytes.TrimSpace(scanner.Bytes()))
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read messages: %w", err)
					}
				default:
				}
				return nil
			}
			if len(line) == 0 {
				continue
			}
			s.handle(ctx, line)
		}
	}
}

func (s *stdioSession) handle(ctx context.Context, line []byte) {
	intent, err := pipeline.DecodeIntent(line)
	if err != nil {
		s.logger.Debug("rejected message", zap.Error(err))
		s.write(errorReply{Status: "Error: " + err.Error()})
		return
	}
	s.write(s.coord.Dispatch(ctx, intent))
}

// Forward writes every broadcast Outcome until the subscription ends.
func (s *stdioSession) Forward(outcomes <-chan pipeline.Outcome) {
	for o := range outcomes {
		s.write(pipeline.ToFinalStatus(o))
	}
}
