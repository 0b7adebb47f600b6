package types

// DirEntry is one direct child returned by readDir.
type DirEntry struct {
	Name        string `json:"name"`
	IsFile      bool   `json:"isFile"`
	IsDirectory bool   `json:"isDirectory"`
	IsSymlink   bool   `json:"isSymlink"`
}

func NewDirEntry(name string, kind InodeKind) DirEntry {
	return DirEntry{
		Name:        name,
		IsFile:      kind == KindFile,
		IsDirectory: kind == KindDir,
		IsSymlink:   kind == KindSymlink,
	}
}

type SortDirEntries []DirEntry

func (s SortDirEntries) Len() int           { return len(s) }
func (s SortDirEntries) Less(i, j int) bool { return s[i].Name < s[j].Name }
func (s SortDirEntries) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
