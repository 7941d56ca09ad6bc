package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// LookupEncoding resolves a text encoding name such as "utf-8" or "gbk".
// An empty name means UTF-8.
func LookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return xunicode.UTF8, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	return enc, nil
}

// decodingReader wraps r so that it yields UTF-8. Invalid input becomes
// U+FFFD instead of an error.
func decodingReader(r io.Reader, name string, log *zap.Logger) io.Reader {
	enc, err := LookupEncoding(name)
	if err != nil {
		log.Warn("falling back to utf-8", zap.String("encoding", name), zap.Error(err))
		enc = xunicode.UTF8
	}
	return transform.NewReader(r, enc.NewDecoder())
}

// readOutput reads lines from r into q until EOF, an error, or stop.
// Unless stop was already set, the end of the stream is marked with a
// sentinel item.
func readOutput(r io.Reader, encName string, q *lineQueue, stop *stopSignal, log *zap.Logger) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("output reader error", zap.Any("panic", p))
		}
		if !stop.IsSet() {
			q.push(queueItem{eof: true})
		}
	}()

	br := bufio.NewReaderSize(decodingReader(r, encName, log), 64*1024)
	for {
		if stop.IsSet() {
			return
		}
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			q.push(queueItem{line: strings.TrimRightFunc(line, unicode.IsSpace)})
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) &&
				!errors.Is(err, io.ErrClosedPipe) && !stop.IsSet() {
				log.Warn("output reader error", zap.Error(err))
			}
			return
		}
	}
}
