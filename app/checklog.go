package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/drugwatch/lib"
	"github.com/umputun/drugwatch/lib/textclass"
	"github.com/umputun/drugwatch/lib/verdict"
)

// loggingDetector writes illicit verdicts to the check log as json lines
type loggingDetector struct {
	*lib.Detector
	wr io.Writer
	mu sync.Mutex
}

type checkLogEntry struct {
	TimeStamp  time.Time                `json:"ts"`
	Source     string                   `json:"source"`
	Msg        string                   `json:"msg"`
	Flagged    bool                     `json:"flagged"`
	Confidence float64                  `json:"confidence"`
	Triggers   []textclass.Contribution `json:"triggers"`
	Generation uint64                   `json:"generation"`
}

// Check checks the message and logs the result if illicit
func (d *loggingDetector) Check(req verdict.Request) (verdict.Response, error) {
	resp, err := d.Detector.Check(req)
	if err != nil || !resp.Illicit {
		return resp, err
	}

	entry := checkLogEntry{TimeStamp: time.Now().Local(), Source: req.Source, Msg: strings.ReplaceAll(req.Msg, "\n", " "),
		Flagged: resp.Flagged, Confidence: resp.Confidence, Triggers: resp.Triggers, Generation: resp.Generation}
	line, jerr := json.Marshal(&entry)
	if jerr != nil {
		log.Printf("[WARN] can't marshal check log entry: %v", jerr)
		return resp, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, werr := d.wr.Write(append(line, '\n')); werr != nil {
		log.Printf("[WARN] can't write check log entry: %v", werr)
	}
	return resp, nil
}

// makeCheckLogWriter makes lumberjack logger with rotation, or a no-op writer if the log is disabled
func makeCheckLogWriter(opts options) (io.WriteCloser, error) {
	if !opts.Logger.Enabled {
		return nopWriteCloser{io.Discard}, nil
	}

	maxSize, err := sizeParse(opts.Logger.MaxSize)
	if err != nil {
		return nil, fmt.Errorf("can't parse logger MaxSize: %w", err)
	}
	maxSize /= 1048576

	log.Printf("[INFO] check log enabled for %s, max size %dM", opts.Logger.FileName, maxSize)
	return &lumberjack.Logger{
		Filename:   opts.Logger.FileName,
		MaxSize:    int(maxSize), //nolint:gosec // size in megabytes fits int
		MaxBackups: opts.Logger.MaxBackups,
		Compress:   true,
		LocalTime:  true,
	}, nil
}

// sizeParse parses size with optional k, m, g or t suffix, in any case
func sizeParse(inp string) (uint64, error) {
	if inp == "" {
		return 0, errors.New("empty value")
	}
	for i, sfx := range []string{"k", "m", "g", "t"} {
		if strings.HasSuffix(strings.ToLower(inp), sfx) {
			val, err := strconv.Atoi(inp[:len(inp)-1])
			if err != nil {
				return 0, fmt.Errorf("can't parse %s: %w", inp, err)
			}
			if val < 0 {
				return 0, fmt.Errorf("negative size %s", inp)
			}
			return uint64(float64(val) * math.Pow(float64(1024), float64(i+1))), nil
		}
	}
	return strconv.ParseUint(inp, 10, 64)
}

type nopWriteCloser struct{ io.Writer }

func (n nopWriteCloser) Close() error { return nil }
