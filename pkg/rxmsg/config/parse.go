package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// FileExtension is the suffix of config files picked up from directories.
const FileExtension = ".hcl"

type loader struct {
	parser *hclparse.Parser
	bodies []hcl.Body
	diags  hcl.Diagnostics
}

// ParseConfigFiles parses every source into an HCL body. A source is a file
// path, a directory (every *.hcl file below it, hidden entries skipped) or a
// []byte of HCL text. Bodies come back in source order; directory contents
// are in lexical order.
func ParseConfigFiles(sources ...any) ([]hcl.Body, hcl.Diagnostics) {
	l := &loader{parser: hclparse.NewParser()}

	for i, source := range sources {
		switch v := source.(type) {
		case string:
			l.loadPath(v)
		case []byte:
			l.add(l.parser.ParseHCL(v, fmt.Sprintf("<source %d>", i)))
		default:
			l.fail("Invalid config source", fmt.Sprintf("Config sources must be paths or []byte, got %T", v))
		}
	}

	return l.bodies, l.diags
}

func (l *loader) add(file *hcl.File, diags hcl.Diagnostics) {
	l.diags = l.diags.Extend(diags)
	if file != nil {
		l.bodies = append(l.bodies, file.Body)
	}
}

func (l *loader) fail(summary, detail string) {
	l.diags = l.diags.Append(&hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   detail,
	})
}

func (l *loader) loadPath(path string) {
	info, err := os.Stat(path)
	if err != nil {
		l.fail("Config file not readable", err.Error())
		return
	}
	if !info.IsDir() {
		l.add(l.parser.ParseHCLFile(path))
		return
	}

	// WalkDir visits entries in lexical order
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			l.fail("Config directory not readable", err.Error())
			return nil
		}
		if p != path && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && filepath.Ext(p) == FileExtension {
			l.add(l.parser.ParseHCLFile(p))
		}
		return nil
	})
	if err != nil {
		l.fail("Config directory not readable", fmt.Sprintf("%s: %s", path, err))
	}
}
