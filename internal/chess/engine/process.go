package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/park285/Cheese-EngineHost/internal/chess/engineconf"
)

var ErrChannelClosed = errors.New("engine channel closed")

// LaunchSpec describes the process to start for one session.
type LaunchSpec struct {
	Command    string
	Args       []string
	Dir        string
	StderrFile string
	Env        []string
}

func SpecFor(cfg engineconf.Configuration) LaunchSpec {
	return LaunchSpec{
		Command:    cfg.Command,
		Args:       append([]string(nil), cfg.Arguments...),
		Dir:        cfg.WorkingDirectory,
		StderrFile: cfg.StderrFile,
	}
}

// ChannelHandler receives output from a channel on a goroutine owned by the channel.
type ChannelHandler struct {
	OnLine   func(line string)
	OnClosed func(err error)
}

// Channel is the write side of a running engine process.
type Channel interface {
	WriteLine(line string) error
	Kill() error
}

type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec, h ChannelHandler) (Channel, error)
}

// ExecLauncher starts engines as OS processes.
type ExecLauncher struct{}

func (ExecLauncher) Launch(ctx context.Context, spec LaunchSpec, h ChannelHandler) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(spec.Command) == "" {
		return nil, engineconf.ErrMissingCommand
	}

	// the process outlives the launch context, Kill ends it
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	var stderr *os.File
	if spec.StderrFile != "" {
		stderr, err = os.OpenFile(spec.StderrFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			stdin.Close()
			stdout.Close()
			return nil, fmt.Errorf("open stderr file: %w", err)
		}
		cmd.Stderr = stderr
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		if stderr != nil {
			stderr.Close()
		}
		return nil, fmt.Errorf("start engine: %w", err)
	}

	p := &process{cmd: cmd, stdin: stdin}
	go p.read(stdout, stderr, h)
	return p, nil
}

type process struct {
	cmd    *exec.Cmd
	mu     sync.Mutex
	stdin  io.WriteCloser
	closed bool
}

func (p *process) WriteLine(line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrChannelClosed
	}
	_, err := io.WriteString(p.stdin, line+"\n")
	return err
}

func (p *process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.stdin.Close()
	if p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill engine: %w", err)
		}
	}
	return nil
}

func (p *process) read(stdout io.Reader, stderr *os.File, h ChannelHandler) {
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if h.OnLine != nil {
			h.OnLine(strings.TrimRight(sc.Text(), "\r"))
		}
	}
	scanErr := sc.Err()
	waitErr := p.cmd.Wait()
	if stderr != nil {
		stderr.Close()
	}
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	if h.OnClosed != nil {
		if scanErr != nil {
			h.OnClosed(scanErr)
			return
		}
		h.OnClosed(waitErr)
	}
}
