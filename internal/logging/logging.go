package logging

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	logFile *os.File
	logPath string
	mu      sync.Mutex
)

// Init sets up dual logging to stdout and the file at path. An empty path
// keeps logging on stdout only.
func Init(path string) {
	mu.Lock()
	defer mu.Unlock()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if path == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Printf("WARNING: cannot create log directory: %v", err)
		return
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("WARNING: cannot open log file %s: %v", path, err)
		return
	}

	if logFile != nil {
		logFile.Close()
	}
	logFile = f
	logPath = path
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.Printf("Logging to file: %s", path)
}

// Close detaches the log file and restores stdout-only logging.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return
	}
	log.SetOutput(os.Stdout)
	logFile.Close()
	logFile = nil
}

// ReadTail returns up to n of the most recent log lines, oldest first. A
// non-empty match keeps only lines containing it, which is how a single
// session's history is pulled out by its id.
func ReadTail(n int, match string) ([]string, error) {
	mu.Lock()
	defer mu.Unlock()

	if logPath == "" || n <= 0 {
		return []string{}, nil
	}

	f, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	ring := make([]string, n)
	count := 0
	scanner := bufio.NewScanner(f)
	// Terminal output can land in log lines; allow long ones.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if match != "" && !strings.Contains(line, match) {
			continue
		}
		ring[count%n] = line
		count++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan log file: %w", err)
	}

	if count <= n {
		return ring[:count], nil
	}
	start := count % n
	return append(ring[start:], ring[:start]...), nil
}
