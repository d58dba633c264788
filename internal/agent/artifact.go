package agent

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Artifact markers. A reply must contain exactly one block:
//
//	<<<FILE: name.ext>>>
//	...content...
//	<<<END FILE>>>
const (
	fileOpen  = "<<<FILE:"
	fileClose = "<<<END FILE>>>"
)

var fileBlockRe = regexp.MustCompile(`(?s)<<<FILE:[ \t]*([^\r\n]*?)[ \t]*>>>(\r?\n)(.*?)<<<END FILE>>>`)

// ErrMalformedArtifact matches every *MalformedArtifactError.
var ErrMalformedArtifact = errors.New("malformed code artifact")

// MalformedArtifactError reports a reply that does not hold exactly one valid file block.
type MalformedArtifactError struct {
	Role   string
	Reason string
}

func (e *MalformedArtifactError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("%s: %s", ErrMalformedArtifact, e.Reason)
	}
	return fmt.Sprintf("%s from %s: %s", ErrMalformedArtifact, e.Role, e.Reason)
}

// Is reports whether target is ErrMalformedArtifact.
func (e *MalformedArtifactError) Is(target error) bool {
	return target == ErrMalformedArtifact
}

// CodeFile is a named source file produced by the engineer.
type CodeFile struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// Format renders f in the artifact block format. ParseCodeFile(f.Format())
// returns f unchanged unless the content itself contains a file marker.
func (f CodeFile) Format() string {
	return fileOpen + " " + f.Filename + ">>>\n" + f.Content + "\n" + fileClose
}

// ParseCodeFile extracts the single file block from a model reply. Text
// outside the block is ignored.
func ParseCodeFile(reply string) (CodeFile, error) {
	switch n := strings.Count(reply, fileOpen); {
	case n == 0:
		return CodeFile{}, &MalformedArtifactError{Reason: "no file block in reply"}
	case n > 1:
		return CodeFile{}, &MalformedArtifactError{Reason: fmt.Sprintf("expected exactly one file block, found %d", n)}
	}

	m := fileBlockRe.FindStringSubmatch(reply)
	if m == nil {
		return CodeFile{}, &MalformedArtifactError{Reason: "file block is not terminated by " + fileClose}
	}

	name := m[1]
	if err := checkFilename(name); err != nil {
		return CodeFile{}, err
	}

	// Drop the line break before the closing marker, in the style the opener used.
	content := strings.TrimSuffix(m[3], m[2])
	if strings.TrimSpace(content) == "" {
		return CodeFile{}, &MalformedArtifactError{Reason: fmt.Sprintf("file %q has no content", name)}
	}
	return CodeFile{Filename: name, Content: content}, nil
}

func checkFilename(name string) error {
	switch {
	case name == "":
		return &MalformedArtifactError{Reason: "file block has no filename"}
	case name == "." || name == "..":
		return &MalformedArtifactError{Reason: fmt.Sprintf("invalid filename %q", name)}
	case strings.ContainsAny(name, `/\`):
		return &MalformedArtifactError{Reason: fmt.Sprintf("filename %q must not contain a directory", name)}
	case strings.ContainsRune(name, 0):
		return &MalformedArtifactError{Reason: "filename contains a NUL byte"}
	}
	return nil
}
