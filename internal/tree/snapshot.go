package tree

// snapshotDir/snapshotFile are the JSON-serializable mirrors of
// directory/file used only for snapshot dump/load, keeping the live
// map-based representation decoupled from its wire format.
type snapshotDir struct {
	Directories map[string]*snapshotDir  `json:"directories,omitempty"`
	Files       map[string]*snapshotFile `json:"files,omitempty"`
}

type snapshotFile struct {
	Contents string `json:"contents"`
}

func dumpDirectory(d *directory) *snapshotDir {
	sd := &snapshotDir{}
	if len(d.directories) > 0 {
		sd.Directories = make(map[string]*snapshotDir, len(d.directories))
		for name, child := range d.directories {
			sd.Directories[name] = dumpDirectory(child)
		}
	}
	if len(d.files) > 0 {
		sd.Files = make(map[string]*snapshotFile, len(d.files))
		for name, f := range d.files {
			sd.Files[name] = &snapshotFile{Contents: f.contents}
		}
	}
	return sd
}

func loadDirectory(sd *snapshotDir) *directory {
	d := newDirectory()
	if sd == nil {
		return d
	}
	for name, child := range sd.Directories {
		d.directories[name] = loadDirectory(child)
	}
	for name, f := range sd.Files {
		d.files[name] = &file{contents: f.Contents}
	}
	return d
}

// body is the JSON document a Tree serializes into/out of a snapshot's
// state-machine body, mirroring LogCabin's Tree::dumpSnapshot/loadSnapshot
// (protobuf there, JSON here per DESIGN.md's no-protoc justification).
type body struct {
	Root *snapshotDir `json:"root"`
}

// DumpSnapshot returns a JSON-marshalable value capturing the entire
// tree, suitable for passing to a snapshot writer's WriteMessage.
func (t *Tree) DumpSnapshot() interface{} {
	return &body{Root: dumpDirectory(t.superRoot.directories["root"])}
}

// LoadSnapshot replaces the tree's contents with those decoded from a
// previously dumped body (typically via a snapshot reader's ReadMessage
// into a *body, then passed here).
func (t *Tree) LoadSnapshot(b interface{}) {
	bd, ok := b.(*body)
	if !ok {
		return
	}
	sr := newDirectory()
	sr.directories["root"] = loadDirectory(bd.Root)
	t.superRoot = sr
}

// NewSnapshotBody returns an empty *body for a reader to decode into
// before calling LoadSnapshot.
func NewSnapshotBody() interface{} { return &body{} }
