// Package ocr turns captured document images into text.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"strings"
)

// Recognizer extracts text from an image file.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// ErrNotImage is returned for files that do not decode as PNG or JPEG.
var ErrNotImage = errors.New("not a supported image")

// Tesseract runs the tesseract CLI.
type Tesseract struct {
	// Path to the binary; "tesseract" is looked up on PATH when empty.
	Path string
	// Lang is passed as -l when set, e.g. "eng".
	Lang string
}

func NewTesseract(path string) *Tesseract {
	return &Tesseract{Path: path}
}

// Recognize returns the recognized text with surrounding whitespace removed.
// An image with no text yields "" and no error.
func (t *Tesseract) Recognize(ctx context.Context, imagePath string) (string, error) {
	if err := checkImage(imagePath); err != nil {
		return "", err
	}

	bin := t.Path
	if bin == "" {
		bin = "tesseract"
	}
	args := []string{imagePath, "stdout"}
	if t.Lang != "" {
		args = append(args, "-l", t.Lang)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("tesseract: %w: %s", err, msg)
		}
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func checkImage(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	if _, _, err := image.DecodeConfig(f); err != nil {
		return fmt.Errorf("%s: %w", path, ErrNotImage)
	}
	return nil
}
