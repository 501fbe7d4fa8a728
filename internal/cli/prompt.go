package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fpang/lumina-enhancer/internal/ingest"
	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"
)

// ErrNoSelection is returned when the user picks no file.
var ErrNoSelection = errors.New("no file selected")

// PickImage shows a native file dialog limited to image files.
func PickImage() (string, error) {
	path, err := zenity.SelectFile(
		zenity.Title("Select a photo to enhance"),
		zenity.FileFilters{
			{Name: "Images", Patterns: ingest.PickerPatterns()},
		},
	)
	if err != nil {
		if errors.Is(err, zenity.ErrCanceled) {
			return "", ErrNoSelection
		}
		return "", fmt.Errorf("file picker failed: %w", err)
	}
	log.Debug().Str("path", path).Msg("File picked via native dialog")
	return path, nil
}

// PromptForPath asks for a file path on in, writing the prompt to out.
func PromptForPath(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Photo to enhance: ")

	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	input = strings.Trim(strings.TrimSpace(input), `"'`)
	if input == "" {
		return "", ErrNoSelection
	}
	return input, nil
}
