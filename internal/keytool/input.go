package keytool

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// test seams for the terminal
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// readSecret prompts on w and reads a password without echo when stdin is a
// terminal. Otherwise a single line is read from in, so passwords can be
// piped. The caller should wipe the result.
func readSecret(in io.Reader, w io.Writer, prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if in == os.Stdin && isTerminal(fd) {
		fmt.Fprint(w, prompt)
		pw, err := readPassword(fd)
		fmt.Fprintln(w)
		if err != nil {
			return nil, err
		}
		return pw, nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return nil, fmt.Errorf("read password: %w", err)
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}
