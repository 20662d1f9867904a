package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// formatChecker parses one structured config format. It returns a blocking
// issue for unparsable content.
type formatChecker func(content string) (issue string, ok bool)

var formatCheckers = map[string]formatChecker{
	".yaml": checkYAML,
	".yml":  checkYAML,
	".json": checkJSON,
	".toml": checkTOML,
}

// formatFor returns the checker for a path's extension.
func formatFor(p string) (formatChecker, bool) {
	c, ok := formatCheckers[strings.ToLower(path.Ext(p))]
	return c, ok
}

// checkYAML decodes every document of a multi-document stream.
func checkYAML(content string) (string, bool) {
	dec := yaml.NewDecoder(strings.NewReader(content))
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return "", true
		}
		if err != nil {
			return "Invalid YAML: " + strings.TrimPrefix(err.Error(), "yaml: "), false
		}
	}
}

func checkJSON(content string) (string, bool) {
	var v interface{}
	err := json.Unmarshal([]byte(content), &v)
	if err == nil {
		return "", true
	}

	var serr *json.SyntaxError
	if errors.As(err, &serr) {
		line, col := offsetToLineCol(content, serr.Offset)
		return fmt.Sprintf("Invalid JSON at line %d, column %d: %s", line, col, serr.Error()), false
	}
	return "Invalid JSON: " + err.Error(), false
}

func checkTOML(content string) (string, bool) {
	var v map[string]interface{}
	_, err := toml.Decode(content, &v)
	if err == nil {
		return "", true
	}

	var perr toml.ParseError
	if errors.As(err, &perr) {
		return fmt.Sprintf("Invalid TOML at line %d: %s", perr.Position.Line, perr.Message), false
	}
	return "Invalid TOML: " + err.Error(), false
}

// offsetToLineCol converts a byte offset reported by encoding/json (the
// offset after the offending byte) into a 1-based line and column.
func offsetToLineCol(content string, offset int64) (int, int) {
	if offset > int64(len(content)) {
		offset = int64(len(content))
	}
	if offset > 0 {
		offset--
	}
	prefix := []byte(content[:offset])
	line := bytes.Count(prefix, []byte("\n")) + 1
	col := int(offset) - bytes.LastIndexByte(prefix, '\n')
	return line, col
}
