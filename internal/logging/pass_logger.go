package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger used across the service.
func Init(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stderr
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// PassLogger records one batch pass (ingest, classify, autopilot tick). Every line goes to the
// global zerolog logger tagged with the pass id and, when a directory is configured, to a
// per-pass log file as well.
type PassLogger struct {
	passID    string
	kind      string
	logger    zerolog.Logger
	logFile   *os.File
	mutex     sync.Mutex
	startTime time.Time
}

// StartPass opens a logger for a new pass. dir may be empty to skip the file.
func StartPass(kind, dir string) (*PassLogger, error) {
	p := &PassLogger{
		passID:    uuid.NewString(),
		kind:      kind,
		startTime: time.Now(),
	}
	p.logger = log.With().Str("pass", kind).Str("pass_id", p.passID).Logger()

	if dir == "" {
		return p, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := p.startTime.Format("20060102_150405")
	logPath := filepath.Join(dir, fmt.Sprintf("%s_%s_%s.log", kind, timestamp, p.passID[:8]))
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	p.logFile = logFile
	p.writeHeader()

	return p, nil
}

// ID returns the pass id.
func (p *PassLogger) ID() string {
	if p == nil {
		return ""
	}
	return p.passID
}

// Logger returns the zerolog logger scoped to this pass.
func (p *PassLogger) Logger() *zerolog.Logger {
	if p == nil {
		l := log.Logger
		return &l
	}
	return &p.logger
}

// Log writes an informational line.
func (p *PassLogger) Log(format string, args ...interface{}) {
	if p == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	p.logger.Info().Msg(msg)
	p.writeLine(msg)
}

// LogError writes an error line with the failing step.
func (p *PassLogger) LogError(step string, err error) {
	if p == nil {
		return
	}
	p.logger.Error().Err(err).Str("step", step).Msg("pass step failed")
	p.writeLine(fmt.Sprintf("ERROR in %s: %v", step, err))
}

// Close writes the footer and closes the file.
func (p *PassLogger) Close() {
	if p == nil {
		return
	}

	elapsed := time.Since(p.startTime).Round(time.Millisecond)
	p.logger.Info().Dur("elapsed", elapsed).Msg("pass completed")

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.logFile != nil {
		fmt.Fprintf(p.logFile, "[%s] pass completed in %v\n", time.Now().Format("15:04:05.000"), elapsed)
		p.logFile.Close()
		p.logFile = nil
	}
}

func (p *PassLogger) writeLine(msg string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.logFile == nil {
		return
	}
	elapsed := time.Since(p.startTime)
	fmt.Fprintf(p.logFile, "[%s] [+%v] %s\n", time.Now().Format("15:04:05.000"), elapsed.Round(time.Millisecond), msg)
}

func (p *PassLogger) writeHeader() {
	fmt.Fprintf(p.logFile, `REPLYRADAR %s PASS LOG
Pass ID: %s
Start Time: %s
Log Format: [HH:MM:SS.mmm] [+duration] message

`, strings.ToUpper(p.kind), p.passID, p.startTime.Format("2006-01-02 15:04:05"))
}
