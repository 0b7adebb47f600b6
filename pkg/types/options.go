package types

import "os"

type OpenOptions struct {
	Read      bool        `json:"read,omitempty"`
	Write     bool        `json:"write,omitempty"`
	Append    bool        `json:"append,omitempty"`
	Truncate  bool        `json:"truncate,omitempty"`
	Create    bool        `json:"create,omitempty"`
	CreateNew bool        `json:"createNew,omitempty"`
	Mode      os.FileMode `json:"mode,omitempty"`
}

// Normalize applies the defaults of an open call: no access flag at all
// means read-only, and createNew implies create.
func (o OpenOptions) Normalize() OpenOptions {
	if !o.Read && !o.Write && !o.Append {
		o.Read = true
	}
	if o.CreateNew {
		o.Create = true
	}
	return o
}

// Writable reports whether the handle may mutate content.
func (o OpenOptions) Writable() bool {
	return o.Write || o.Append
}

// CreateOptions are the options of create(): read/write, create, truncate.
func CreateOptions() OpenOptions {
	return OpenOptions{Read: true, Write: true, Create: true, Truncate: true}
}

type MkdirOptions struct {
	Recursive bool        `json:"recursive,omitempty"`
	Mode      os.FileMode `json:"mode,omitempty"`
}

type RemoveOptions struct {
	Recursive bool `json:"recursive,omitempty"`
}

// Seek origins, matching io.SeekStart/io.SeekCurrent/io.SeekEnd.
const (
	SeekStart   = 0
	SeekCurrent = 1
	SeekEnd     = 2
)
