// Command northfs formats, inspects and edits northfs volume images.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/northos/northfs/config"
	"github.com/northos/northfs/disk"
	"github.com/northos/northfs/fs"
	"github.com/northos/northfs/fsck"
	"github.com/northos/northfs/mkfs"
	"github.com/northos/northfs/util"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "northfs: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			var fe *util.FatalError
			if e, ok := r.(error); ok && errors.As(e, &fe) {
				err = fmt.Errorf("fatal: %w", fe)
				return
			}
			panic(r)
		}
	}()

	conf, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return newApp(conf).Run(args)
}

func newApp(conf *config.Config) *cli.App {
	return &cli.App{
		Name:  "northfs",
		Usage: "manipulate northfs volume images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "image",
				Aliases: []string{"i"},
				Usage:   "path of the volume image",
				Value:   conf.Image,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "logrus level name",
				Value: conf.LogLevel,
			},
		},
		Before: func(ctx *cli.Context) error {
			conf.Image = ctx.String("image")
			conf.LogLevel = ctx.String("log-level")
			if err := conf.Validate(); err != nil {
				return err
			}
			return util.SetLevel(conf.LogLevel)
		},
		Commands: []*cli.Command{{
			Name:  "mkfs",
			Usage: "create and format a volume image",
			Flags: []cli.Flag{
				&cli.Uint64Flag{
					Name:  "blocks",
					Usage: "volume size in blocks",
					Value: conf.Blocks,
				},
				&cli.Uint64Flag{
					Name:  "inodes",
					Usage: "number of on-disk inodes",
					Value: conf.Inodes,
				},
			},
			Action: func(ctx *cli.Context) error {
				nblocks := ctx.Uint64("blocks")
				d, err := disk.NewFileDisk(conf.Image, nblocks)
				if err != nil {
					return fmt.Errorf("creating image `%s`: %w", conf.Image, err)
				}
				defer d.Close()
				sb, err := mkfs.Format(d, mkfs.Options{
					Blocks: nblocks,
					Inodes: ctx.Uint64("inodes"),
				})
				if err != nil {
					return fmt.Errorf("formatting `%s`: %w", conf.Image, err)
				}
				fmt.Fprintln(ctx.App.Writer, sb.String())
				return nil
			},
		}, {
			Name:      "ls",
			Usage:     "list a directory",
			ArgsUsage: "[path]",
			Action: withProc(conf, func(p *fs.Proc, ctx *cli.Context) error {
				path := "/"
				if ctx.NArg() > 0 {
					path = ctx.Args().First()
				}
				ents, err := p.ReadDir(path)
				if err != nil {
					return err
				}
				for _, e := range ents {
					st, err := p.Stat(joinPath(path, e.Name))
					if err != nil {
						return err
					}
					fmt.Fprintf(ctx.App.Writer, "%-14s %d %d %d\n", e.Name, st.Type, e.Inum, st.Size)
				}
				return nil
			}),
		}, {
			Name:      "cat",
			Aliases:   []string{"get"},
			Usage:     "copy a file to standard output",
			ArgsUsage: "path",
			Action: withProc(conf, func(p *fs.Proc, ctx *cli.Context) error {
				path, err := arg(ctx, 0)
				if err != nil {
					return err
				}
				f, err := p.Open(path, fs.O_RDONLY)
				if err != nil {
					return err
				}
				defer f.Close()
				_, err = io.Copy(ctx.App.Writer, f)
				return err
			}),
		}, {
			Name:      "put",
			Usage:     "copy standard input, or a host file, into a file",
			ArgsUsage: "path [host-file]",
			Action: withProc(conf, func(p *fs.Proc, ctx *cli.Context) error {
				path, err := arg(ctx, 0)
				if err != nil {
					return err
				}
				var src io.Reader = os.Stdin
				if ctx.NArg() > 1 {
					hf, err := os.Open(ctx.Args().Get(1))
					if err != nil {
						return err
					}
					defer hf.Close()
					src = hf
				}
				f, err := p.Open(path, fs.O_CREATE|fs.O_WRONLY|fs.O_TRUNC)
				if err != nil {
					return err
				}
				defer f.Close()
				_, err = io.Copy(f, src)
				return err
			}),
		}, {
			Name:      "mkdir",
			Usage:     "create a directory",
			ArgsUsage: "path",
			Action: withProc(conf, func(p *fs.Proc, ctx *cli.Context) error {
				path, err := arg(ctx, 0)
				if err != nil {
					return err
				}
				return p.Mkdir(path)
			}),
		}, {
			Name:      "mknod",
			Usage:     "create a device file",
			ArgsUsage: "path major minor",
			Action: withProc(conf, func(p *fs.Proc, ctx *cli.Context) error {
				path, err := arg(ctx, 0)
				if err != nil {
					return err
				}
				major, err := int16Arg(ctx, 1)
				if err != nil {
					return err
				}
				minor, err := int16Arg(ctx, 2)
				if err != nil {
					return err
				}
				return p.Mknod(path, major, minor)
			}),
		}, {
			Name:      "rm",
			Aliases:   []string{"unlink"},
			Usage:     "remove a name",
			ArgsUsage: "path",
			Action: withProc(conf, func(p *fs.Proc, ctx *cli.Context) error {
				path, err := arg(ctx, 0)
				if err != nil {
					return err
				}
				return p.Unlink(path)
			}),
		}, {
			Name:      "ln",
			Usage:     "add a hard link",
			ArgsUsage: "old new",
			Action: withProc(conf, func(p *fs.Proc, ctx *cli.Context) error {
				old, err := arg(ctx, 0)
				if err != nil {
					return err
				}
				target, err := arg(ctx, 1)
				if err != nil {
					return err
				}
				return p.Link(old, target)
			}),
		}, {
			Name:      "stat",
			Usage:     "describe a file",
			ArgsUsage: "path",
			Action: withProc(conf, func(p *fs.Proc, ctx *cli.Context) error {
				path, err := arg(ctx, 0)
				if err != nil {
					return err
				}
				st, err := p.Stat(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(
					ctx.App.Writer,
					"dev %d inum %d type %d nlink %d size %d\n",
					st.Dev, st.Inum, st.Type, st.Nlink, st.Size,
				)
				return nil
			}),
		}, {
			Name:  "df",
			Usage: "report free blocks and inodes",
			Action: withFS(conf, func(fsys *fs.FileSystem, ctx *cli.Context) error {
				sb := fsys.Super()
				fmt.Fprintf(ctx.App.Writer, "blocks %d free %d\n", sb.Nblocks, fsys.FreeBlocks())
				fmt.Fprintf(ctx.App.Writer, "inodes %d free %d\n", sb.Ninodes, fsys.FreeInodes())
				return nil
			}),
		}, {
			Name:  "fsck",
			Usage: "check volume consistency",
			Action: withFS(conf, func(fsys *fs.FileSystem, ctx *cli.Context) error {
				r := fsck.Check(fsys)
				fmt.Fprint(ctx.App.Writer, r.String())
				if !r.Clean() {
					return fmt.Errorf("volume `%s` is inconsistent", conf.Image)
				}
				return nil
			}),
		}},
	}
}

// withFS mounts the configured image around f.
func withFS(
	conf *config.Config,
	f func(*fs.FileSystem, *cli.Context) error,
) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		d, err := disk.OpenFileDisk(conf.Image)
		if err != nil {
			return fmt.Errorf("opening image `%s`: %w", conf.Image, err)
		}
		defer d.Close()
		fsys, err := fs.Mount(d, conf.MountOptions())
		if err != nil {
			return err
		}
		fsys.RegisterDevice(fs.CONSOLE, fs.Console{In: os.Stdin, Out: ctx.App.Writer})
		fsys.RegisterDevice(fs.NULLDEV, fs.Null{})
		ferr := f(fsys, ctx)
		if err := fsys.Unmount(); err != nil && ferr == nil {
			ferr = err
		}
		return ferr
	}
}

func withProc(
	conf *config.Config,
	f func(*fs.Proc, *cli.Context) error,
) cli.ActionFunc {
	return withFS(conf, func(fsys *fs.FileSystem, ctx *cli.Context) error {
		p := fsys.NewProc()
		defer p.Close()
		return f(p, ctx)
	})
}

func arg(ctx *cli.Context, i int) (string, error) {
	if ctx.NArg() <= i {
		return "", fmt.Errorf("%s: missing argument %d (usage: %s)", ctx.Command.Name, i+1, ctx.Command.ArgsUsage)
	}
	return ctx.Args().Get(i), nil
}

func int16Arg(ctx *cli.Context, i int) (int16, error) {
	s, err := arg(ctx, i)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("parsing argument `%s`: %w", s, err)
	}
	return int16(n), nil
}

func joinPath(dir string, name string) string {
	if dir == "" || dir[len(dir)-1] == '/' {
		return dir + name
	}
	return dir + "/" + name
}
