package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ehr/discharge-predict/internal/ocr"
)

type screen int

const (
	screenMain screen = iota
	screenFHIR
	screenCamera
)

// Shell is a line-oriented front end for a Session with the same three
// screens as the mobile app: main, FHIR lookup and camera scan.
type Shell struct {
	sess   *Session
	in     *bufio.Scanner
	out    io.Writer
	screen screen
}

func NewShell(sess *Session, in io.Reader, out io.Writer) *Shell {
	return &Shell{sess: sess, in: bufio.NewScanner(in), out: out}
}

// Run reads commands until "quit", end of input or ctx is done. Each action
// is waited for before the next prompt.
func (sh *Shell) Run(ctx context.Context) error {
	sh.render()
	for {
		fmt.Fprint(sh.out, sh.prompt())
		if !sh.in.Scan() {
			fmt.Fprintln(sh.out)
			return sh.in.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if quit := sh.handle(strings.TrimSpace(sh.in.Text())); quit {
			return nil
		}
	}
}

func (sh *Shell) prompt() string {
	switch sh.screen {
	case screenFHIR:
		return "fhir> "
	case screenCamera:
		return "scan> "
	default:
		return "> "
	}
}

func (sh *Shell) handle(line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
		return false
	case "quit", "exit", "q":
		return true
	case "help", "?":
		sh.help()
		return false
	case "back":
		sh.screen = screenMain
		sh.render()
		return false
	}

	switch sh.screen {
	case screenMain:
		switch cmd {
		case "1", "fhir":
			sh.screen = screenFHIR
		case "2", "scan":
			sh.screen = screenCamera
		default:
			fmt.Fprintf(sh.out, "unknown choice %q\n", cmd)
			return false
		}
		sh.render()

	case screenFHIR:
		switch cmd {
		case "fetch", "id":
			sh.run(sh.sess.FetchSummary(arg))
		case "predict":
			sh.run(sh.sess.PredictSummary())
		case "show":
			sh.render()
		default:
			fmt.Fprintf(sh.out, "unknown command %q, try help\n", cmd)
		}

	case screenCamera:
		switch cmd {
		case "capture":
			var c ocr.Capturer
			if arg != "" {
				c = ocr.FileCapturer{Source: arg}
			}
			sh.run(sh.sess.CaptureImage(c))
		case "ocr":
			sh.run(sh.sess.PerformOCR())
		case "predict":
			sh.run(sh.sess.PredictRecognized())
		case "show":
			sh.render()
		default:
			fmt.Fprintf(sh.out, "unknown command %q, try help\n", cmd)
		}
	}
	return false
}

func (sh *Shell) run(started bool) {
	if !started {
		return
	}
	sh.sess.Wait()
	sh.render()
}

func (sh *Shell) render() {
	st := sh.sess.State()
	switch sh.screen {
	case screenMain:
		fmt.Fprintln(sh.out, "1) Use hospital's FHIR server")
		fmt.Fprintln(sh.out, "2) Scan a new document")
	case screenFHIR:
		if st.PatientID != "" {
			fmt.Fprintf(sh.out, "Patient: %s\n", st.PatientID)
		}
		if st.HasSummary {
			fmt.Fprintf(sh.out, "Discharge summary:\n%s\n", st.Summary)
		}
		if st.Prediction != "" {
			fmt.Fprintf(sh.out, "Prediction: %s\n", st.Prediction)
		}
	case screenCamera:
		if st.ImagePath != "" {
			fmt.Fprintf(sh.out, "Image: %s\n", st.ImagePath)
		}
		if st.HasRecognized {
			fmt.Fprintf(sh.out, "Recognized text:\n%s\n", st.RecognizedText)
		} else {
			fmt.Fprintln(sh.out, "No text recognized yet.")
		}
	}
}

func (sh *Shell) help() {
	switch sh.screen {
	case screenFHIR:
		fmt.Fprintln(sh.out, "fetch <patient-id>, predict, show, back, quit")
	case screenCamera:
		fmt.Fprintln(sh.out, "capture [image-file], ocr, predict, show, back, quit")
	default:
		fmt.Fprintln(sh.out, "1 or fhir, 2 or scan, quit")
	}
}
