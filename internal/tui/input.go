package tui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"pier2pier.dev/go/pier2pier/internal/sigil"
)

// Reader reads interactive input line by line. Prompts go to out.
type Reader struct {
	in  *bufio.Reader
	out io.Writer
}

// NewReader creates a reader over in, writing prompts to out.
func NewReader(in io.Reader, out io.Writer) *Reader {
	return &Reader{in: bufio.NewReader(in), out: out}
}

var (
	stdinOnce   sync.Once
	stdinReader *Reader
)

// Stdin returns the shared reader for os.Stdin. Sharing one buffered reader
// avoids losing input buffered by an earlier prompt.
func Stdin() *Reader {
	stdinOnce.Do(func() {
		stdinReader = NewReader(os.Stdin, os.Stderr)
	})
	return stdinReader
}

// ReadLine reads a line of input
func (r *Reader) ReadLine(prompt string) (string, error) {
	if prompt != "" {
		fmt.Fprint(r.out, prompt)
	}

	line, err := r.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}

	return strings.TrimSpace(line), nil
}

// ReadSigil reads a pasted sigil. Terminals and chat clients often wrap
// long lines, so lines are joined until the text parses as a sigil or an
// empty line ends the input. The joined text is returned unparsed when it
// never became valid; the caller reports the error.
func (r *Reader) ReadSigil(prompt string) (string, error) {
	if prompt != "" {
		fmt.Fprint(r.out, prompt)
	}

	var sb strings.Builder
	for {
		line, err := r.in.ReadString('\n')
		line = strings.TrimSpace(line)
		if line != "" {
			sb.WriteString(line)
			if _, perr := sigil.Parse(sb.String()); perr == nil {
				return sb.String(), nil
			}
		}

		switch {
		case err == io.EOF:
			if sb.Len() == 0 {
				return "", io.EOF
			}
			return sb.String(), nil
		case err != nil:
			return "", err
		case line == "" && sb.Len() > 0:
			return sb.String(), nil
		}
	}
}

// Confirm prompts for a yes/no confirmation
func (r *Reader) Confirm(prompt string, defaultYes bool) (bool, error) {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}

	response, err := r.ReadLine(fmt.Sprintf("%s %s ", prompt, hint))
	if err != nil {
		return false, err
	}

	switch strings.ToLower(response) {
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	default:
		return defaultYes, nil
	}
}
