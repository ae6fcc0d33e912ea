package builder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sarchlab/bpscope/logging"
)

// BinarySuffix is appended to a source name to form its binary name.
const BinarySuffix = ".out"

// Builder drives a Compiler over a whole directory.
type Builder struct {
	compiler *Compiler
	logger   *slog.Logger
}

// New creates a Builder.
func New(compiler *Compiler, logger *slog.Logger) *Builder {
	return &Builder{
		compiler: compiler,
		logger:   logging.OrDiscard(logger),
	}
}

// Compiler returns the underlying compiler.
func (b *Builder) Compiler() *Compiler {
	return b.compiler
}

// Build compiles every source of srcDir into destDir/<name>.out and blocks
// until all are done. The first compiler failure aborts the build.
func (b *Builder) Build(ctx context.Context, srcDir, destDir string, extra []string) error {
	sources, err := listSources(srcDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create binary dir: %w", err)
	}

	for _, src := range sources {
		if err := b.compileOne(ctx, src, destDir, extra); err != nil {
			return err
		}
	}

	return nil
}

// BuildDir starts compiling srcDir in a background goroutine and returns at
// once. Each binary is announced on the stream as soon as it is built; End is
// always pushed last, carrying the error that stopped the build if any.
func (b *Builder) BuildDir(ctx context.Context, srcDir, destDir string, extra []string) *Stream {
	stream := NewStream()

	go func() {
		stream.Push(End{Err: b.buildInto(ctx, stream, srcDir, destDir, extra)})
	}()

	return stream
}

func (b *Builder) buildInto(
	ctx context.Context,
	stream *Stream,
	srcDir, destDir string,
	extra []string,
) error {
	sources, err := listSources(srcDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create binary dir: %w", err)
	}

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.compileOne(ctx, src, destDir, extra); err != nil {
			return err
		}
		stream.Push(BuiltFile{Path: BinaryPath(destDir, src)})
	}

	return nil
}

func (b *Builder) compileOne(ctx context.Context, src, destDir string, extra []string) error {
	dst := BinaryPath(destDir, src)
	b.logger.Debug("building test", "source", src, "binary", dst)
	return b.compiler.Compile(ctx, src, dst, extra)
}

// BinaryPath returns the binary produced for src inside destDir.
func BinaryPath(destDir, src string) string {
	return filepath.Join(destDir, filepath.Base(src)+BinarySuffix)
}

// listSources returns the regular files of dir in directory order.
func listSources(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open source dir: %w", err)
	}
	defer func() { _ = f.Close() }()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, fmt.Errorf("failed to list source dir: %w", err)
	}

	sources := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		sources = append(sources, filepath.Join(dir, e.Name()))
	}

	return sources, nil
}
