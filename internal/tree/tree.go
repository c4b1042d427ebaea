// Package tree implements the in-memory, hierarchical directory/file
// key-value store that the state machine applies committed commands
// against. It is grounded on LogCabin's Tree::Tree (original_source
// third_party/logcabin-1.1.0/Tree/Tree.h), translated from pointer-based
// parent/child traversal to Go maps and value-returning lookups.
package tree

import (
	"fmt"
	"sort"
	"strings"
)

// Status is a programmatic result code for a Tree operation, mirroring
// LogCabin's Tree::Status enum.
type Status int

const (
	StatusOK Status = iota
	StatusInvalidArgument
	StatusLookupError
	StatusTypeError
	StatusConditionNotMet
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalidArgument:
		return "INVALID_ARGUMENT"
	case StatusLookupError:
		return "LOOKUP_ERROR"
	case StatusTypeError:
		return "TYPE_ERROR"
	case StatusConditionNotMet:
		return "CONDITION_NOT_MET"
	default:
		return "UNKNOWN"
	}
}

// Result carries a Status plus a human-readable message, mirroring
// LogCabin's Tree::Result.
type Result struct {
	Status Status
	Error  string
}

func ok() Result { return Result{Status: StatusOK} }

func errResult(status Status, format string, args ...interface{}) Result {
	return Result{Status: status, Error: fmt.Sprintf(format, args...)}
}

// directory is an interior node holding child directories and files,
// mirroring LogCabin's Tree::Internal::Directory.
type directory struct {
	directories map[string]*directory
	files       map[string]*file
}

func newDirectory() *directory {
	return &directory{
		directories: make(map[string]*directory),
		files:       make(map[string]*file),
	}
}

// file is a leaf node storing an opaque blob, mirroring LogCabin's
// Tree::Internal::File.
type file struct {
	contents string
}

func (d *directory) getChildren() []string {
	names := make([]string, 0, len(d.directories)+len(d.files))
	dirNames := make([]string, 0, len(d.directories))
	for name := range d.directories {
		dirNames = append(dirNames, name)
	}
	sort.Strings(dirNames)
	for _, name := range dirNames {
		names = append(names, name+"/")
	}
	fileNames := make([]string, 0, len(d.files))
	for name := range d.files {
		fileNames = append(fileNames, name)
	}
	sort.Strings(fileNames)
	names = append(names, fileNames...)
	return names
}

func (d *directory) lookupDirectory(name string) *directory {
	return d.directories[name]
}

func (d *directory) makeDirectory(name string) (*directory, bool) {
	if _, isFile := d.files[name]; isFile {
		return nil, false
	}
	child, ok := d.directories[name]
	if !ok {
		child = newDirectory()
		d.directories[name] = child
	}
	return child, true
}

func (d *directory) removeDirectory(name string) {
	delete(d.directories, name)
}

func (d *directory) lookupFile(name string) (*file, bool) {
	f, ok := d.files[name]
	return f, ok
}

func (d *directory) makeFile(name string) (*file, bool) {
	if _, isDir := d.directories[name]; isDir {
		return nil, false
	}
	f, ok := d.files[name]
	if !ok {
		f = &file{}
		d.files[name] = f
	}
	return f, true
}

func (d *directory) removeFile(name string) bool {
	if _, ok := d.files[name]; !ok {
		return false
	}
	delete(d.files, name)
	return true
}

// path is a parsed symbolic path, mirroring LogCabin's Tree::Internal::Path.
// superRoot is implicit: parents always conceptually starts from "root".
type path struct {
	ok      bool
	symbolic string
	parents []string
	target  string
}

// parsePath splits a slash-delimited absolute path into its parent
// components and final target component, prepending the implicit "root"
// component the way LogCabin's superRoot scheme does.
func parsePath(symbolic string) path {
	p := path{symbolic: symbolic}
	if !strings.HasPrefix(symbolic, "/") {
		return p
	}
	parts := strings.Split(strings.Trim(symbolic, "/"), "/")
	if symbolic == "/" {
		p.ok = true
		p.parents = nil
		p.target = "root"
		return p
	}
	for _, part := range parts {
		if part == "" {
			return path{}
		}
	}
	p.ok = true
	p.parents = append([]string{"root"}, parts[:len(parts)-1]...)
	p.target = parts[len(parts)-1]
	return p
}

// Tree is an in-memory, hierarchical key-value store, mirroring
// LogCabin's Tree::Tree.
type Tree struct {
	superRoot *directory
}

// New returns an empty Tree, containing just the root directory.
func New() *Tree {
	sr := newDirectory()
	sr.directories["root"] = newDirectory()
	return &Tree{superRoot: sr}
}

// normalLookup resolves the parent directory of path's target, failing
// if any parent component is missing or is itself a file.
func (t *Tree) normalLookup(p path) (Result, *directory) {
	dir := t.superRoot
	for i, name := range p.parents {
		next := dir.lookupDirectory(name)
		if next == nil {
			if _, isFile := dir.lookupFile(name); isFile {
				return errResult(StatusTypeError, "%s is a file", joinParents(p.parents[:i+1])), nil
			}
			return errResult(StatusLookupError, "%s does not exist", joinParents(p.parents[:i+1])), nil
		}
		dir = next
	}
	return ok(), dir
}

// mkdirLookup is like normalLookup but creates missing parent
// directories along the way.
func (t *Tree) mkdirLookup(p path) (Result, *directory) {
	dir := t.superRoot
	for i, name := range p.parents {
		next, okMk := dir.makeDirectory(name)
		if !okMk {
			return errResult(StatusTypeError, "%s is a file", joinParents(p.parents[:i+1])), nil
		}
		dir = next
	}
	return ok(), dir
}

func joinParents(parents []string) string {
	if len(parents) <= 1 {
		return "/"
	}
	return "/" + strings.Join(parents[1:], "/")
}

// CheckCondition verifies that the file at path has the given contents;
// an empty contents argument also matches a missing file.
func (t *Tree) CheckCondition(pathStr, contents string) Result {
	p := parsePath(pathStr)
	if !p.ok {
		return errResult(StatusConditionNotMet, "malformed path %q", pathStr)
	}
	res, dir := t.normalLookup(p)
	if res.Status != StatusOK {
		if contents == "" {
			return ok()
		}
		return errResult(StatusConditionNotMet, "%s", res.Error)
	}
	f, found := dir.lookupFile(p.target)
	if !found {
		if contents == "" {
			return ok()
		}
		return errResult(StatusConditionNotMet, "file %q does not exist", pathStr)
	}
	if f.contents != contents {
		return errResult(StatusConditionNotMet, "file %q does not have expected contents", pathStr)
	}
	return ok()
}

// MakeDirectory ensures a directory exists at path, creating parents as
// needed.
func (t *Tree) MakeDirectory(pathStr string) Result {
	p := parsePath(pathStr)
	if !p.ok {
		return errResult(StatusInvalidArgument, "malformed path %q", pathStr)
	}
	res, parent := t.mkdirLookup(p)
	if res.Status != StatusOK {
		return res
	}
	if _, isFile := parent.lookupFile(p.target); isFile {
		return errResult(StatusTypeError, "%q exists and is a file", pathStr)
	}
	if _, okMk := parent.makeDirectory(p.target); !okMk {
		return errResult(StatusTypeError, "%q exists and is a file", pathStr)
	}
	return ok()
}

// ListDirectory returns the names of path's immediate children,
// directories first (sorted, trailing slash) then files (sorted).
func (t *Tree) ListDirectory(pathStr string) (Result, []string) {
	p := parsePath(pathStr)
	if !p.ok {
		return errResult(StatusInvalidArgument, "malformed path %q", pathStr), nil
	}
	res, parent := t.normalLookup(p)
	if res.Status != StatusOK {
		return res, nil
	}
	if _, isFile := parent.lookupFile(p.target); isFile {
		return errResult(StatusTypeError, "%q is a file", pathStr), nil
	}
	dir := parent.lookupDirectory(p.target)
	if dir == nil {
		return errResult(StatusLookupError, "%q does not exist", pathStr), nil
	}
	return ok(), dir.getChildren()
}

// RemoveDirectory removes path and everything beneath it. Removing the
// root directory clears its contents but leaves root itself in place.
func (t *Tree) RemoveDirectory(pathStr string) Result {
	p := parsePath(pathStr)
	if !p.ok {
		return errResult(StatusInvalidArgument, "malformed path %q", pathStr)
	}
	res, parent := t.normalLookup(p)
	if res.Status != StatusOK {
		// removing something whose parent is already missing is a no-op success
		if res.Status == StatusLookupError {
			return ok()
		}
		return res
	}
	if _, isFile := parent.lookupFile(p.target); isFile {
		return errResult(StatusTypeError, "%q is a file", pathStr)
	}
	if len(p.parents) == 0 && p.target == "root" {
		parent.directories["root"] = newDirectory()
		return ok()
	}
	parent.removeDirectory(p.target)
	return ok()
}

// Write sets the contents of the file at path, creating it if absent.
func (t *Tree) Write(pathStr, contents string) Result {
	p := parsePath(pathStr)
	if !p.ok {
		return errResult(StatusInvalidArgument, "malformed path %q", pathStr)
	}
	res, parent := t.normalLookup(p)
	if res.Status != StatusOK {
		return res
	}
	if _, isDir := parent.lookupDirectory(p.target); isDir {
		return errResult(StatusTypeError, "%q is a directory", pathStr)
	}
	f, okMk := parent.makeFile(p.target)
	if !okMk {
		return errResult(StatusTypeError, "%q is a directory", pathStr)
	}
	f.contents = contents
	return ok()
}

// Read returns the contents of the file at path.
func (t *Tree) Read(pathStr string) (Result, string) {
	p := parsePath(pathStr)
	if !p.ok {
		return errResult(StatusInvalidArgument, "malformed path %q", pathStr), ""
	}
	res, parent := t.normalLookup(p)
	if res.Status != StatusOK {
		return res, ""
	}
	if _, isDir := parent.lookupDirectory(p.target); isDir {
		return errResult(StatusTypeError, "%q is a directory", pathStr), ""
	}
	f, found := parent.lookupFile(p.target)
	if !found {
		return errResult(StatusLookupError, "%q does not exist", pathStr), ""
	}
	return ok(), f.contents
}

// RemoveFile ensures no file exists at path.
func (t *Tree) RemoveFile(pathStr string) Result {
	p := parsePath(pathStr)
	if !p.ok {
		return errResult(StatusInvalidArgument, "malformed path %q", pathStr)
	}
	res, parent := t.normalLookup(p)
	if res.Status != StatusOK {
		if res.Status == StatusLookupError {
			return ok()
		}
		return res
	}
	if _, isDir := parent.lookupDirectory(p.target); isDir {
		return errResult(StatusTypeError, "%q is a directory", pathStr)
	}
	parent.removeFile(p.target)
	return ok()
}
