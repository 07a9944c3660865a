package logger

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes below.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSetOutputLevels(t *testing.T) {
	t.Cleanup(func() { SetOutput(os.Stderr, false) })

	var buf syncBuffer
	SetOutput(&buf, false)
	Debug("hidden detail")
	Info("window opened", "screen", 2)

	out := buf.String()
	if strings.Contains(out, "hidden detail") {
		t.Errorf("debug line logged at info level: %q", out)
	}
	if !strings.Contains(out, "window opened") || !strings.Contains(out, "screen=2") {
		t.Errorf("info line missing: %q", out)
	}

	SetOutput(&buf, true)
	Debug("visible detail")
	if !strings.Contains(buf.String(), "visible detail") {
		t.Error("debug line missing at debug level")
	}
}

func TestSetOutputWhileLogging(t *testing.T) {
	t.Cleanup(func() { SetOutput(os.Stderr, false) })

	var buf syncBuffer
	SetOutput(&buf, false)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					Info("content transitioning")
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			SetOutput(io.Discard, false)
		} else {
			SetOutput(&buf, false)
		}
	}
	close(stop)
	wg.Wait()

	SetOutput(&buf, false)
	Warn("done")
	if !strings.Contains(buf.String(), "done") {
		t.Error("last output not in use")
	}
}
