// Package cli renders probe and command output for terminals and pipes.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// ANSI colors.
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
)

// Printer writes status lines, coloring them only when w is a terminal.
type Printer struct {
	mu       sync.Mutex
	w        io.Writer
	colorize bool
	failures int
}

// NewPrinter returns a Printer on w. Color is enabled when w is a TTY.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{w: w, colorize: IsTerminal(w)}
}

// IsTerminal reports whether w is a file attached to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// SetColor forces color on or off.
func (p *Printer) SetColor(on bool) *Printer {
	p.colorize = on
	return p
}

// Failures is the number of Error lines printed so far.
func (p *Printer) Failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

func (p *Printer) line(color, mark, format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	if p.colorize && color != "" {
		fmt.Fprintf(p.w, "%s%s%s %s\n", color, mark, ColorReset, msg)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", mark, msg)
}

// Step prints a numbered section header.
func (p *Printer) Step(n int, title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	header := fmt.Sprintf("%d. %s", n, title)
	if p.colorize {
		header = ColorBold + header + ColorReset
	}
	fmt.Fprintf(p.w, "\n%s\n", header)
}

// Success prints a check line.
func (p *Printer) Success(format string, args ...interface{}) {
	p.line(ColorGreen, "✓", format, args...)
}

// Error prints a failure line and counts it.
func (p *Printer) Error(format string, args ...interface{}) {
	p.mu.Lock()
	p.failures++
	p.mu.Unlock()
	p.line(ColorRed, "✗", format, args...)
}

// Warning prints a warning line.
func (p *Printer) Warning(format string, args ...interface{}) {
	p.line(ColorYellow, "!", format, args...)
}

// Info prints an informational line.
func (p *Printer) Info(format string, args ...interface{}) {
	p.line(ColorBlue, "-", format, args...)
}

// Field prints an indented key/value pair.
func (p *Printer) Field(key string, value interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := key + ":"
	if p.colorize {
		k = ColorCyan + k + ColorReset
	}
	fmt.Fprintf(p.w, "   %s %v\n", k, value)
}

// Spinner animates while a transaction waits for confirmation. On a
// non-terminal writer it prints the prefix once and stays silent.
type Spinner struct {
	frames  []string
	current int
	prefix  string
	p       *Printer
	start   time.Time
	mu      sync.Mutex
	active  bool
	done    chan struct{}
}

// Spinner creates a spinner bound to p.
func (p *Printer) Spinner(prefix string) *Spinner {
	return &Spinner{
		frames: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		prefix: prefix,
		p:      p,
		done:   make(chan struct{}),
	}
}

// Start begins the animation.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.start = time.Now()
	s.mu.Unlock()

	if !s.p.colorize {
		s.p.Info("%s", s.prefix)
		return
	}

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				if s.active {
					s.render()
					s.current = (s.current + 1) % len(s.frames)
				}
				s.mu.Unlock()
			case <-s.done:
				return
			}
		}
	}()
}

// Stop ends the animation and clears the line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	close(s.done)
	if s.p.colorize {
		s.p.mu.Lock()
		fmt.Fprint(s.p.w, "\r"+strings.Repeat(" ", 80)+"\r")
		s.p.mu.Unlock()
	}
}

// Success stops the spinner and prints message with the elapsed time.
func (s *Spinner) Success(message string) {
	s.Stop()
	s.p.Success("%s (%s)", message, FormatDuration(time.Since(s.start)))
}

// Error stops the spinner and prints message.
func (s *Spinner) Error(message string) {
	s.Stop()
	s.p.Error("%s", message)
}

func (s *Spinner) render() {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	frame := ColorCyan + s.frames[s.current] + ColorReset
	fmt.Fprintf(s.p.w, "\r%s %s %s", frame, s.prefix, FormatDuration(time.Since(s.start)))
}

// FormatDuration renders d for humans.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "< 1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
