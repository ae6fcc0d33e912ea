// Package builder compiles patched test sources into executables, either as a
// blocking batch or as a background stream of ready binaries.
package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/sarchlab/bpscope/logging"
)

// BuildError reports a compiler run that exited with a non-zero status.
type BuildError struct {
	Source   string
	ExitCode int
	Stderr   []byte
	Err      error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("failed to compile %s (exit status %d)", e.Source, e.ExitCode)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Compiler invokes an external toolchain on one source file.
type Compiler struct {
	// Path is the compiler executable.
	Path string
	// Args are passed after the source file and before -o.
	Args []string
	// Output receives the compiler's stderr in addition to BuildError.
	Output io.Writer

	logger *slog.Logger
}

// NewCompiler creates a Compiler.
func NewCompiler(path string, args []string, logger *slog.Logger) *Compiler {
	return &Compiler{
		Path:   path,
		Args:   args,
		logger: logging.OrDiscard(logger),
	}
}

// CommandLine returns the argument vector used to compile src into dst.
func (c *Compiler) CommandLine(src, dst string, extra []string) []string {
	argv := make([]string, 0, 4+len(c.Args)+len(extra))
	argv = append(argv, c.Path, src)
	argv = append(argv, c.Args...)
	argv = append(argv, "-o", dst)
	argv = append(argv, extra...)
	return argv
}

// Compile builds one executable.
func (c *Compiler) Compile(ctx context.Context, src, dst string, extra []string) error {
	argv := c.CommandLine(src, dst, extra)
	c.logger.Info("compiling", "command", strings.Join(argv, " "))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stderr = &stderr
	if c.Output != nil {
		cmd.Stderr = io.MultiWriter(&stderr, c.Output)
	}

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &BuildError{
			Source:   src,
			ExitCode: exitErr.ExitCode(),
			Stderr:   stderr.Bytes(),
			Err:      err,
		}
	}

	return fmt.Errorf("failed to run compiler %s: %w", c.Path, err)
}
