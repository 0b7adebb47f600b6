package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/lambertxiao/go-vfs/pkg/config"
	"github.com/lambertxiao/go-vfs/pkg/logg"
	"github.com/lambertxiao/go-vfs/pkg/metrics"
	"github.com/lambertxiao/go-vfs/pkg/resource"
	"github.com/lambertxiao/go-vfs/pkg/types"
	"github.com/lambertxiao/go-vfs/pkg/vfs"
	"gopkg.in/yaml.v2"

	"github.com/dustin/go-humanize"

	"github.com/urfave/cli"
)

type action func(ctx context.Context, c *cli.Context, s *session) error

// withSession populates the global config from the command line, boots a
// session on it, runs fn and tears the session down again.
func withSession(nargs int, fn action) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		if len(c.Args()) < nargs {
			cli.ShowCommandHelp(c, c.Command.Name)
			return fmt.Errorf("%s needs %d argument(s)", c.Command.Name, nargs)
		}

		cfg, err := PopulateConfig(c)
		if err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
		config.SetGConfig(cfg)
		if err = logg.InitLogHook(cfg.LogDir, cfg.LogMaxAge, cfg.LogRotationTime); err != nil {
			return err
		}
		logg.InitLogger()

		s, err := boot(cfg)
		if err != nil {
			return err
		}
		defer s.close()
		return fn(context.Background(), c, s)
	}
}

func commands() []cli.Command {
	recursive := cli.BoolFlag{Name: C_RECURSIVE, Usage: "apply to the whole tree"}

	return []cli.Command{
		{
			Name:      "ls",
			Usage:     "list a directory",
			ArgsUsage: "<path>",
			Flags:     []cli.Flag{cli.BoolFlag{Name: C_LONG, Usage: "show kind, size and mtime"}},
			Action:    withSession(1, cmdLs),
		},
		{
			Name:      "cat",
			Usage:     "print a file",
			ArgsUsage: "<path>",
			Flags:     []cli.Flag{cli.BoolFlag{Name: C_COUNT, Usage: "print only the byte count"}},
			Action:    withSession(1, cmdCat),
		},
		{
			Name:      "write",
			Usage:     "replace a file with data, stdin when data is omitted",
			ArgsUsage: "<path> [data]",
			Action:    withSession(1, cmdWrite(false)),
		},
		{
			Name:      "append",
			Usage:     "append data to a file, stdin when data is omitted",
			ArgsUsage: "<path> [data]",
			Action:    withSession(1, cmdWrite(true)),
		},
		{
			Name:      "mkdir",
			Usage:     "create a directory",
			ArgsUsage: "<path>",
			Flags:     []cli.Flag{recursive},
			Action: withSession(1, func(ctx context.Context, c *cli.Context, s *session) error {
				return s.client.Mkdir(ctx, c.Args()[0], types.MkdirOptions{Recursive: c.Bool("recursive")})
			}),
		},
		{
			Name:      "rm",
			Usage:     "remove a file or directory",
			ArgsUsage: "<path>",
			Flags:     []cli.Flag{recursive},
			Action: withSession(1, func(ctx context.Context, c *cli.Context, s *session) error {
				return s.client.Remove(ctx, c.Args()[0], types.RemoveOptions{Recursive: c.Bool("recursive")})
			}),
		},
		{
			Name:      "mv",
			Usage:     "rename, across mounts by copy and delete",
			ArgsUsage: "<old> <new>",
			Action: withSession(2, func(ctx context.Context, c *cli.Context, s *session) error {
				return s.client.Rename(ctx, c.Args()[0], c.Args()[1])
			}),
		},
		{
			Name:      "cp",
			Usage:     "copy a file",
			ArgsUsage: "<src> <dst>",
			Action: withSession(2, func(ctx context.Context, c *cli.Context, s *session) error {
				return s.client.CopyFile(ctx, c.Args()[0], c.Args()[1])
			}),
		},
		{
			Name:      "ln",
			Usage:     "create a hard link",
			ArgsUsage: "<old> <new>",
			Action: withSession(2, func(ctx context.Context, c *cli.Context, s *session) error {
				return s.client.Link(ctx, c.Args()[0], c.Args()[1])
			}),
		},
		{
			Name:      "symlink",
			Usage:     "create a symbolic link",
			ArgsUsage: "<target> <new>",
			Action: withSession(2, func(ctx context.Context, c *cli.Context, s *session) error {
				return s.client.Symlink(ctx, c.Args()[0], c.Args()[1])
			}),
		},
		{
			Name:      "readlink",
			Usage:     "print a symlink target",
			ArgsUsage: "<path>",
			Action: withSession(1, func(ctx context.Context, c *cli.Context, s *session) error {
				target, err := s.client.ReadLink(ctx, c.Args()[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, target)
				return nil
			}),
		},
		{
			Name:      "truncate",
			Usage:     "cut or zero-extend a file",
			ArgsUsage: "<path> <size>",
			Action: withSession(2, func(ctx context.Context, c *cli.Context, s *session) error {
				size, err := humanize.ParseBytes(c.Args()[1])
				if err != nil {
					return err
				}
				return s.client.Truncate(ctx, c.Args()[0], int64(size))
			}),
		},
		{
			Name:      "stat",
			Usage:     "print metadata",
			ArgsUsage: "<path>",
			Flags:     []cli.Flag{cli.BoolFlag{Name: C_LONG, Usage: "do not follow a final symlink"}},
			Action:    withSession(1, cmdStat),
		},
		{
			Name:  "mounts",
			Usage: "list mount points",
			Action: withSession(0, func(ctx context.Context, c *cli.Context, s *session) error {
				for _, m := range s.router.Mounts() {
					fmt.Fprintf(c.App.Writer, "%s\t%s\n", m.Point, m.Device)
				}
				return nil
			}),
		},
		{
			Name:  "stats",
			Usage: "list / once and show the session stats",
			Action: withSession(0, func(ctx context.Context, c *cli.Context, s *session) error {
				if _, err := s.client.ReadDir(ctx, "/"); err != nil {
					return err
				}
				ShowStats(c.App.Writer, metrics.Collect(s.registry))
				return nil
			}),
		},
	}
}

func cmdLs(ctx context.Context, c *cli.Context, s *session) error {
	dir := c.Args()[0]
	it, err := s.client.ReadDir(ctx, dir)
	if err != nil {
		return err
	}
	entries, err := vfs.ReadDirAll(it)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if !c.Bool(C_LONG) {
			fmt.Fprintln(c.App.Writer, e.Name)
			continue
		}
		info, err := s.client.Lstat(ctx, path.Join(dir, e.Name))
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s %9s %s %s\n", kindChar(info), humanize.IBytes(info.Size),
			info.Mtime.Format(time.RFC3339), e.Name)
	}
	return nil
}

func kindChar(info types.FileInfo) string {
	switch {
	case info.IsDirectory:
		return "d"
	case info.IsSymlink:
		return "l"
	}
	return "-"
}

func cmdCat(ctx context.Context, c *cli.Context, s *session) error {
	f, err := s.client.Open(ctx, c.Args()[0], types.OpenOptions{Read: true})
	if err != nil {
		return err
	}
	defer f.Close()

	if c.Bool(C_COUNT) {
		n, err := io.Copy(resource.Null{}, f)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, n)
		return nil
	}
	_, err = io.Copy(c.App.Writer, f)
	return err
}

func cmdWrite(appendMode bool) action {
	return func(ctx context.Context, c *cli.Context, s *session) error {
		var src io.Reader
		if len(c.Args()) > 1 {
			src = strings.NewReader(strings.Join(c.Args()[1:], " "))
		} else {
			r, done := s.stdinPipe()
			defer done()
			src = r
		}

		opts := types.OpenOptions{Write: true, Create: true, Truncate: true}
		if appendMode {
			opts = types.OpenOptions{Append: true, Create: true}
		}
		f, err := s.client.Open(ctx, c.Args()[0], opts)
		if err != nil {
			return err
		}
		if _, err = io.Copy(f, src); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
}

// stdinPipe streams stdin through a pipe registered in the client table.
// done closes the read end, which also stops the copy.
func (s *session) stdinPipe() (io.Reader, func()) {
	r, w := resource.NewPipe()
	rrid := s.clientTable.Add(r)
	wrid := s.clientTable.Add(w)
	go func() {
		_, err := io.Copy(w, os.Stdin)
		w.CloseWithError(err)
		s.clientTable.Forget(wrid)
	}()
	return r, func() {
		_ = s.clientTable.Close(rrid)
	}
}

type statView struct {
	Kind      string `yaml:"kind"`
	Size      uint64 `yaml:"size"`
	Nlink     uint32 `yaml:"nlink"`
	Ino       uint64 `yaml:"ino"`
	Mtime     string `yaml:"mtime"`
	Birthtime string `yaml:"birthtime"`
}

func cmdStat(ctx context.Context, c *cli.Context, s *session) error {
	var info types.FileInfo
	var err error
	if c.Bool(C_LONG) {
		info, err = s.client.Lstat(ctx, c.Args()[0])
	} else {
		info, err = s.client.Stat(ctx, c.Args()[0])
	}
	if err != nil {
		return err
	}

	view := statView{
		Size:      info.Size,
		Nlink:     info.Nlink,
		Ino:       info.Ino,
		Mtime:     info.Mtime.Format(time.RFC3339Nano),
		Birthtime: info.Birthtime.Format(time.RFC3339Nano),
	}
	switch {
	case info.IsDirectory:
		view.Kind = "directory"
	case info.IsSymlink:
		view.Kind = "symlink"
	default:
		view.Kind = "file"
	}

	out, err := yaml.Marshal(view)
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(out)
	return err
}

// exitCode maps error kinds to errno style exit codes.
func exitCode(err error) int {
	kind, ok := types.KindOf(err)
	if !ok {
		return 1
	}
	codes := map[types.ErrorKind]int{
		types.KindNotFound:          2,
		types.KindPermissionDenied:  13,
		types.KindAlreadyExists:     17,
		types.KindNotADirectory:     20,
		types.KindIsADirectory:      21,
		types.KindInvalidArgument:   22,
		types.KindDirectoryNotEmpty: 39,
		types.KindNotImplemented:    38,
		types.KindFilesystemLoop:    40,
		types.KindTimeout:           110,
		types.KindBadResource:       9,
	}
	if code, ok := codes[kind]; ok {
		return code
	}
	return 1
}
