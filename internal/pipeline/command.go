package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cuongbtq/ai-recruiter/internal/domain"
)

const (
	maxLineSize   = 16 << 20
	stderrTailLen = 4 << 10
)

// CommandConfig describes how to launch the external evaluator
type CommandConfig struct {
	Command string
	Args    []string
	WorkDir string
	Env     []string
}

// CommandPipeline runs the evaluator as a child process. The process gets
// the documents as flags and writes one JSON object per line to stdout:
//
//	{"event":"progress","progress":20,"message":"Parsing CV..."}
//	{"event":"result","decision":"PASS","report":{...}}
//	{"event":"error","message":"unsupported format"}
//
// A result without an inline report is read from the --output file.
type CommandPipeline struct {
	cfg    CommandConfig
	logger *slog.Logger
}

// NewCommandPipeline creates a pipeline backed by an external command
func NewCommandPipeline(cfg CommandConfig, logger *slog.Logger) (*CommandPipeline, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("pipeline command is required")
	}
	return &CommandPipeline{cfg: cfg, logger: logger}, nil
}

type evaluatorLine struct {
	Event    string          `json:"event"`
	Progress int             `json:"progress"`
	Message  string          `json:"message"`
	Decision string          `json:"decision"`
	Report   json.RawMessage `json:"report"`
}

// Evaluate runs the evaluator and relays its progress lines to onProgress
func (p *CommandPipeline) Evaluate(ctx context.Context, cv, jobDesc Document, onProgress ProgressFunc) (*Outcome, error) {
	outDir, err := os.MkdirTemp("", "evaluation-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	defer os.RemoveAll(outDir)
	outputPath := filepath.Join(outDir, "evaluation_report.json")

	args := append([]string{}, p.cfg.Args...)
	args = append(args,
		"--cv", cv.Path,
		"--cv-type", cv.Format,
		"--jd", jobDesc.Path,
		"--jd-type", jobDesc.Format,
		"--output", outputPath,
	)

	cmd := exec.CommandContext(ctx, p.cfg.Command, args...)
	cmd.Dir = p.cfg.WorkDir
	if len(p.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), p.cfg.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open evaluator stdout: %w", err)
	}
	stderr := &tailBuffer{limit: stderrTailLen}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, domain.NewPipelineError("failed to start evaluator: %v", err)
	}

	p.logger.Debug("Evaluator started",
		slog.String("command", p.cfg.Command),
		slog.Int("pid", cmd.Process.Pid),
	)

	var (
		outcome  *Outcome
		reported string
	)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64<<10), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var msg evaluatorLine
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			p.logger.Debug("Evaluator output", slog.String("line", line))
			continue
		}

		switch msg.Event {
		case "progress":
			if onProgress != nil {
				onProgress(msg.Progress, msg.Message)
			}
		case "result":
			outcome = &Outcome{Decision: msg.Decision}
			if len(msg.Report) > 0 && string(msg.Report) != "null" {
				outcome.Report = []byte(msg.Report)
			}
		case "error":
			reported = msg.Message
		default:
			p.logger.Debug("Unknown evaluator event", slog.String("event", msg.Event))
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		_, _ = io.Copy(io.Discard, stdout)
	}

	waitErr := cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("evaluator interrupted: %w", ctxErr)
	}
	if reported != "" {
		return nil, domain.NewPipelineError("%s", reported)
	}
	if waitErr != nil {
		return nil, domain.NewPipelineError("evaluator exited: %v: %s", waitErr, stderr.String())
	}
	if scanErr != nil {
		return nil, domain.NewPipelineError("failed to read evaluator output: %v", scanErr)
	}
	if outcome == nil {
		return nil, domain.NewPipelineError("evaluator produced no result")
	}
	if outcome.Decision == "" {
		return nil, domain.NewPipelineError("evaluator result has no decision")
	}

	if outcome.Report == nil {
		report, err := os.ReadFile(outputPath)
		if err != nil {
			return nil, domain.NewPipelineError("evaluator wrote no report: %v", err)
		}
		outcome.Report = report
	}

	return outcome, nil
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return strings.TrimSpace(string(b.buf))
}
