package collector

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/sarchlab/bpscope/builder"
	"github.com/sarchlab/bpscope/counters"
	"github.com/sarchlab/bpscope/diag"
	"github.com/sarchlab/bpscope/remote"
	"github.com/sarchlab/bpscope/runner"
)

// Host is the remote machine the Remote collector drives. *remote.Session
// implements it.
type Host interface {
	runner.Commander
	MkdirTemp() (string, error)
	UploadTo(localPath, remoteDir string) (string, error)
	RemoveAll(ctx context.Context, dir string) error
	Close() error
}

// Remote uploads each binary to a host as soon as it is built and samples
// it there.
type Remote struct {
	sampler

	host      Host
	dir       string
	cpu       int
	escalator *runner.Escalator

	closeOnce sync.Once
	closeErr  error
}

// NewRemote creates the scratch directory on host and returns a collector
// that owns host from then on.
func NewRemote(
	host Host,
	policy Policy,
	cpu int,
	reporter *diag.Reporter,
	logger *slog.Logger,
) (*Remote, error) {
	dir, err := host.MkdirTemp()
	if err != nil {
		return nil, errors.Join(err, host.Close())
	}

	r := &Remote{
		sampler: newSampler(policy, remote.MinLaunchWindow, reporter, logger),
		host:    host,
		dir:     dir,
		cpu:     cpu,
	}
	r.escalator = runner.NewEscalator(host,
		[]string{"setcap", "-q"}, []string{"sudo", "-n"}, r.reporter, r.logger)

	return r, nil
}

// Dir returns the remote scratch directory.
func (r *Remote) Dir() string {
	return r.dir
}

// CollectStream consumes stream until End, measuring each binary before the
// next one is taken. A build failure carried by End is returned.
func (r *Remote) CollectStream(ctx context.Context, stream *builder.Stream) (counters.Samples, error) {
	samples := counters.Samples{}

	for {
		switch sig := stream.Next().(type) {
		case builder.End:
			if sig.Err != nil {
				return nil, sig.Err
			}
			return samples, nil
		case builder.BuiltFile:
			if err := r.collectOne(ctx, sig.Path, samples); err != nil {
				return nil, err
			}
		}
	}
}

func (r *Remote) collectOne(ctx context.Context, bin string, samples counters.Samples) error {
	hostBin, err := r.host.UploadTo(bin, r.dir)
	if err != nil {
		return err
	}

	r.escalator.Grant(ctx, hostBin)

	argv := []string{hostBin, strconv.Itoa(r.cpu)}
	launch := func(limit time.Duration) (counters.RawSample, error) {
		res, err := r.host.Run(ctx, remote.InterruptAfter(limit, argv))
		if err != nil {
			return counters.RawSample{}, err
		}

		raw := counters.RawSample{
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
			ExitCode: res.ExitCode,
			IsFull:   true,
		}
		if remote.Interrupted(res.ExitCode) {
			raw.IsFull = false
			raw.ExitCode = 0
		}
		return raw, nil
	}

	return r.sample(ctx, counters.TestName(bin), argv, launch, samples)
}

// Close removes the scratch directory and closes the host. Calling it again
// returns the first result.
func (r *Remote) Close() error {
	r.closeOnce.Do(func() {
		rmErr := r.host.RemoveAll(context.Background(), r.dir)
		if errors.Is(rmErr, remote.ErrClosed) {
			r.logger.Warn("remote scratch dir left behind", "dir", r.dir)
			rmErr = nil
		}
		r.closeErr = errors.Join(rmErr, r.host.Close())
	})
	return r.closeErr
}
