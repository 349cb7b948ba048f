// Package labels - Resolves human-readable class names for a model from sidecar label files.
package labels

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DirFileName is the shared label file looked up next to a model.
const DirFileName = "labels.txt"

// Table is an ordered list of labels, index-aligned with model class indices.
type Table []string

// Name returns the label for index i, or "Class #i" when the table has no such entry.
func (t Table) Name(i int) string {
	if i >= 0 && i < len(t) {
		return t[i]
	}
	return fmt.Sprintf("Class #%d", i)
}

// ReadError reports a label file that exists but could not be read.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read labels %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Candidates returns the label files checked for modelPath, in order of precedence.
//
// @example
//
//	labels.Candidates("models/mobilenet.onnx")
//	// [models/mobilenet.labels.txt models/labels.txt]
func Candidates(modelPath string) []string {
	return []string{
		strings.TrimSuffix(modelPath, filepath.Ext(modelPath)) + ".labels.txt",
		filepath.Join(filepath.Dir(modelPath), DirFileName),
	}
}

// Resolve loads the labels for a model.
//
// The model-specific file (<model>.labels.txt) takes precedence over labels.txt in the
// model's directory. Labels are read fresh on every call.
//
// Arguments:
//   - modelPath: The model file path.
//
// Returns:
//   - Table: The labels, nil when no label file exists.
//   - bool: Whether a label file was found.
//   - error: A *ReadError if a label file exists but cannot be read.
func Resolve(modelPath string) (Table, bool, error) {
	for _, path := range Candidates(modelPath) {
		info, err := os.Stat(path)
		if stderrors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
			continue
		}
		if err != nil {
			return nil, false, &ReadError{Path: path, Err: err}
		}

		table, err := ReadFile(path)
		if err != nil {
			return nil, false, err
		}
		return table, true, nil
	}
	return nil, false, nil
}

// ReadFile reads a newline-delimited label file.
func ReadFile(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	defer f.Close()

	table, err := Parse(f)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	return table, nil
}

// Parse reads one label per line. Lines end with LF, CRLF or CR. Blank lines are kept as
// empty labels and nothing is trimmed; a final line terminator does not add a label.
// Lines have no length limit.
func Parse(r io.Reader) (Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	table := Table{}
	for len(data) > 0 {
		advance, token, _ := scanLines(data, true)
		table = append(table, string(token))
		data = data[advance:]
	}
	return table, nil
}

// scanLines is a bufio.SplitFunc like bufio.ScanLines that also treats a lone CR as a
// line break.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		// CR: need one more byte to tell CR from CRLF.
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
