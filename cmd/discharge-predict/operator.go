package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ehr/discharge-predict/internal/app"
	"github.com/ehr/discharge-predict/internal/config"
	"github.com/ehr/discharge-predict/internal/ocr"
	"github.com/ehr/discharge-predict/internal/predictclient"
)

var (
	errNoSummary    = errors.New("no discharge summary")
	errNoPrediction = errors.New("no prediction")
	errNoText       = errors.New("no text recognized")
)

// operator bundles what the client-side commands share.
type operator struct {
	cfg    *config.Config
	client *predictclient.Client
	sess   *app.Session
}

// newOperator loads config and starts a session whose logs and
// notifications go to stderr.
func newOperator(ctx context.Context, stderr io.Writer) (*operator, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, stderr)

	client := predictclient.New(cfg.BackendURL,
		predictclient.WithBearerToken(cfg.APIToken),
		predictclient.WithLogger(logger),
		predictclient.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
	)

	var capturer ocr.Capturer
	if cfg.CaptureCommand != "" {
		capturer = ocr.CommandCapturer{Command: cfg.CaptureCommand}
	}

	sess := app.NewSession(ctx, app.SessionConfig{
		Client:     client,
		Recognizer: ocr.NewTesseract(cfg.TesseractPath),
		Capturer:   capturer,
		Notifier:   app.NewWriterNotifier(stderr),
		Logger:     logger,
		CacheDir:   cfg.CacheDir,
	})
	return &operator{cfg: cfg, client: client, sess: sess}, nil
}

// interruptible returns a context cancelled on SIGINT or SIGTERM.
func interruptible(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func fetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <patient-id>",
		Short: "Fetch a patient's discharge summary from the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			withPrediction, _ := cmd.Flags().GetBool("predict")

			ctx, stop := interruptible(cmd)
			defer stop()
			op, err := newOperator(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer op.sess.Close()

			return runFetch(op.sess, cmd.OutOrStdout(), args[0], withPrediction)
		},
	}
	cmd.Flags().Bool("predict", false, "Also request a prediction for the summary")
	return cmd
}

func runFetch(sess *app.Session, out io.Writer, patientID string, withPrediction bool) error {
	if sess.FetchSummary(patientID) {
		sess.Wait()
	}
	st := sess.State()
	if !st.HasSummary {
		return errNoSummary
	}
	fmt.Fprintln(out, st.Summary)

	if !withPrediction {
		return nil
	}
	if sess.PredictSummary() {
		sess.Wait()
	}
	st = sess.State()
	if st.Prediction == "" {
		return errNoPrediction
	}
	fmt.Fprintf(out, "Prediction: %s\n", st.Prediction)
	return nil
}

func predictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict [text]",
		Short: "Request a prediction for free text",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			stdin, _ := cmd.Flags().GetBool("stdin")

			text, err := predictInput(args, file, stdin, cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx, stop := interruptible(cmd)
			defer stop()
			op, err := newOperator(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer op.sess.Close()

			label, err := op.client.RequestPrediction(ctx, text)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), label)
			return nil
		},
	}
	cmd.Flags().String("file", "", "Read the text from a file")
	cmd.Flags().Bool("stdin", false, "Read the text from standard input")
	return cmd
}

// predictInput picks the text from exactly one of: the argument, --file or
// --stdin.
func predictInput(args []string, file string, stdin bool, in io.Reader) (string, error) {
	sources := 0
	if len(args) == 1 {
		sources++
	}
	if file != "" {
		sources++
	}
	if stdin {
		sources++
	}
	if sources != 1 {
		return "", fmt.Errorf("give the text as an argument, --file or --stdin (exactly one)")
	}

	switch {
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return string(data), nil
	case stdin:
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	default:
		return args[0], nil
	}
}

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Capture a document image, OCR it and request a prediction",
		RunE: func(cmd *cobra.Command, args []string) error {
			image, _ := cmd.Flags().GetString("image")
			captureCmd, _ := cmd.Flags().GetString("capture-cmd")
			if image != "" && captureCmd != "" {
				return fmt.Errorf("--image and --capture-cmd are mutually exclusive")
			}

			ctx, stop := interruptible(cmd)
			defer stop()
			op, err := newOperator(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer op.sess.Close()

			var capturer ocr.Capturer
			switch {
			case image != "":
				capturer = ocr.FileCapturer{Source: image}
			case captureCmd != "":
				capturer = ocr.CommandCapturer{Command: captureCmd}
			}
			return runScan(op.sess, cmd.OutOrStdout(), capturer)
		},
	}
	cmd.Flags().String("image", "", "Use an existing image file instead of capturing")
	cmd.Flags().String("capture-cmd", "", `Capture command, "{dest}" is replaced with the image path`)
	return cmd
}

// runScan captures with capturer (or the session default when nil), then
// recognizes and predicts. Each step waits for the previous one.
func runScan(sess *app.Session, out io.Writer, capturer ocr.Capturer) error {
	if sess.CaptureImage(capturer) {
		sess.Wait()
	}
	if sess.PerformOCR() {
		sess.Wait()
	}
	st := sess.State()
	if !st.HasRecognized || strings.TrimSpace(st.RecognizedText) == "" {
		return errNoText
	}
	fmt.Fprintf(out, "Recognized text:\n%s\n", st.RecognizedText)

	if sess.PredictRecognized() {
		sess.Wait()
	}
	st = sess.State()
	if st.ScanPrediction == "" {
		return errNoPrediction
	}
	fmt.Fprintf(out, "Prediction: %s\n", st.ScanPrediction)
	return nil
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive operator shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := interruptible(cmd)
			defer stop()
			op, err := newOperator(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer op.sess.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "backend: %s\n", op.client.BaseURL())
			err = app.NewShell(op.sess, cmd.InOrStdin(), cmd.OutOrStdout()).Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
