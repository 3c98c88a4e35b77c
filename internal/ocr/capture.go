package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Capturer produces an image at dest. The boolean reports whether a picture
// was taken; (false, nil) means the user backed out.
type Capturer interface {
	Capture(ctx context.Context, dest string) (bool, error)
}

// FileCapturer copies an existing image file to dest.
type FileCapturer struct {
	Source string
}

func (f FileCapturer) Capture(ctx context.Context, dest string) (bool, error) {
	if f.Source == "" {
		return false, nil
	}
	if err := checkImage(f.Source); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	in, err := os.Open(f.Source)
	if err != nil {
		return false, fmt.Errorf("open source image: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
		return false, fmt.Errorf("create capture dir: %w", err)
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return false, fmt.Errorf("create capture file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return false, fmt.Errorf("copy image: %w", err)
	}
	if err := out.Close(); err != nil {
		return false, fmt.Errorf("close capture file: %w", err)
	}
	return true, nil
}

// CommandCapturer runs an external program that writes the picture, e.g.
// "fswebcam -r 1280x720 {dest}". The command is split on whitespace and
// every "{dest}" is replaced with the destination path. No shell is involved.
type CommandCapturer struct {
	Command string
}

func (c CommandCapturer) Capture(ctx context.Context, dest string) (bool, error) {
	fields := strings.Fields(c.Command)
	if len(fields) == 0 {
		return false, fmt.Errorf("capture command is empty")
	}
	for i, f := range fields {
		fields[i] = strings.ReplaceAll(f, "{dest}", dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
		return false, fmt.Errorf("create capture dir: %w", err)
	}
	os.Remove(dest)

	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, fmt.Errorf("run capture command: %w", err)
	}

	st, err := os.Stat(dest)
	if err != nil || st.Size() == 0 {
		return false, nil
	}
	return true, nil
}
