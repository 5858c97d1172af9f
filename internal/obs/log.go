package obs

import (
	"encoding/json"
	"io"
	"os"
	"sync"
)

// Log lines are single JSON objects on stdout so a collector can ingest them
// without a parsing config. The writer is swappable for tests.
var (
	logMu  sync.Mutex
	logOut io.Writer = os.Stdout
)

// SetLogOutput redirects log lines and returns the previous writer.
func SetLogOutput(w io.Writer) io.Writer {
	logMu.Lock()
	defer logMu.Unlock()
	prev := logOut
	logOut = w
	return prev
}

// LogRequest emits one structured log line. An unmarshalable entry degrades to
// a fixed error line; the stream stays machine-parseable either way.
func LogRequest(fields map[string]any) {
	line, err := json.Marshal(fields)
	if err != nil {
		line = []byte(`{"level":"error","msg":"log entry not serializable"}`)
	}
	logMu.Lock()
	defer logMu.Unlock()
	_, _ = logOut.Write(append(line, '\n'))
}
