package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dargueta/blockfs"
	"github.com/dargueta/blockfs/drivers/common"
	"github.com/dargueta/blockfs/drivers/simplefs"
	"github.com/gocarina/gocsv"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const configKey = "config"

func newApp() *cli.App {
	return &cli.App{
		Name:  "blockfs",
		Usage: "Manage a blockfs image",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "load settings from a YAML `FILE`",
			},
			&cli.StringFlag{
				Name:    "image",
				Aliases: []string{"i"},
				Usage:   "path to the image `FILE`",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log messages at `LEVEL` and above",
			},
		},
		Before: loadSettings,
		Commands: []*cli.Command{
			{
				Name:   "format",
				Usage:  "Create an image, or erase an existing one",
				Action: formatImage,
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:  "blocks",
						Usage: "number of blocks in a new image",
					},
					&cli.UintFlag{
						Name:  "block-size",
						Usage: "size of a block in a new image, in bytes",
					},
				},
			},
			{
				Name:   "info",
				Usage:  "Show the geometry and usage of the image",
				Action: showInfo,
			},
			{
				Name:      "ls",
				Usage:     "List a directory",
				ArgsUsage: "[DIR]",
				Action:    listDirectory,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "csv", Usage: "print entries as CSV"},
				},
			},
			{
				Name:      "mkdir",
				Usage:     "Create a directory",
				ArgsUsage: "PATH",
				Action:    makeDirectory,
			},
			{
				Name:      "put",
				Usage:     "Copy a file from the host into the image",
				ArgsUsage: "SRC PATH",
				Action:    putFile,
			},
			{
				Name:      "cat",
				Usage:     "Print the contents of a file",
				ArgsUsage: "PATH",
				Action:    catFile,
			},
			{
				Name:      "rm",
				Usage:     "Remove a file, or a directory and everything in it",
				ArgsUsage: "PATH",
				Action:    removeEntry,
			},
		},
	}
}

// loadSettings merges the config file with the global flags and configures
// logging.
func loadSettings(context *cli.Context) error {
	cfg, err := LoadConfig(context.String("config"))
	if err != nil {
		return err
	}
	if context.IsSet("image") {
		cfg.Image = context.String("image")
	}
	if context.IsSet("log-level") {
		cfg.LogLevel = context.String("log-level")
	}

	level, err := cfg.Level()
	if err != nil {
		return err
	}
	log.SetLevel(level)

	if context.App.Metadata == nil {
		context.App.Metadata = map[string]interface{}{}
	}
	context.App.Metadata[configKey] = cfg
	return nil
}

func getConfig(context *cli.Context) *Config {
	return context.App.Metadata[configKey].(*Config)
}

// openDevice opens the configured image. It must already exist unless
// `create` is set.
func openDevice(context *cli.Context, create bool) (*common.BlockDevice, error) {
	cfg := getConfig(context)
	if !create {
		if _, err := os.Stat(cfg.Image); errors.Is(err, fs.ErrNotExist) {
			return nil, blockfs.ErrNotFound.WithMessage(
				fmt.Sprintf("image %q doesn't exist; run `format` first", cfg.Image))
		}
	}
	return common.OpenFile(cfg.Image, cfg.Blocks, cfg.BlockSize)
}

// withTree mounts the configured image, runs `action` on its root directory,
// and closes the image.
func withTree(
	context *cli.Context,
	action func(root *simplefs.DirectoryHandle) error,
) (err error) {
	device, err := openDevice(context, false)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := device.Close(); err == nil {
			err = closeErr
		}
	}()

	_, root, err := simplefs.Mount(device)
	if err != nil {
		return err
	}
	return action(root)
}

// splitPath separates a slash-separated path into its directory components
// and its final component.
func splitPath(path string) ([]string, string) {
	var parts []string
	for _, part := range strings.Split(path, "/") {
		if part != "" && part != "." {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return nil, ""
	}
	return parts[:len(parts)-1], parts[len(parts)-1]
}

// resolveDirectory follows `components` from `root` with ChangeDir.
func resolveDirectory(
	root *simplefs.DirectoryHandle, components []string,
) (*simplefs.DirectoryHandle, error) {
	current := root
	for _, name := range components {
		next, err := current.ChangeDir(name)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// resolveParent returns the directory that contains `path`, and the name of
// `path` within it.
func resolveParent(
	root *simplefs.DirectoryHandle, path string,
) (*simplefs.DirectoryHandle, string, error) {
	dirs, base := splitPath(path)
	if base == "" || base == ".." {
		return nil, "", blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("%q doesn't name an entry", path))
	}
	parent, err := resolveDirectory(root, dirs)
	return parent, base, err
}

func requireArgs(context *cli.Context, count int) error {
	if context.NArg() != count {
		return blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"%s takes %d argument(s), got %d: %s",
				context.Command.Name,
				count,
				context.NArg(),
				context.Command.ArgsUsage))
	}
	return nil
}

func formatImage(context *cli.Context) error {
	cfg := getConfig(context)
	if context.IsSet("blocks") {
		cfg.Blocks = context.Uint("blocks")
	}
	if context.IsSet("block-size") {
		cfg.BlockSize = context.Uint("block-size")
	}

	device, err := openDevice(context, true)
	if err != nil {
		return err
	}
	defer device.Close()

	if err = simplefs.Format(device); err != nil {
		return err
	}
	fmt.Fprintf(
		context.App.Writer,
		"formatted %s: %d blocks of %d bytes\n",
		cfg.Image,
		device.TotalBlocks(),
		device.BytesPerBlock())
	return nil
}

func showInfo(context *cli.Context) error {
	device, err := openDevice(context, false)
	if err != nil {
		return err
	}
	defer device.Close()

	header := device.Header()
	writer := tabwriter.NewWriter(context.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "image:\t%s\n", getConfig(context).Image)
	fmt.Fprintf(writer, "size:\t%d bytes\n", header.ImageSize())
	fmt.Fprintf(writer, "block size:\t%d\n", header.BytesPerBlock)
	fmt.Fprintf(writer, "total blocks:\t%d\n", header.TotalBlocks)
	fmt.Fprintf(writer, "free blocks:\t%d\n", header.FreeBlocks)
	fmt.Fprintf(writer, "bitmap:\t%d bytes (%d blocks)\n", header.BitmapBytes, header.BitmapBlocks)
	if device.FirstFreeBlock() == common.InvalidBlock {
		fmt.Fprintf(writer, "first free block:\tnone\n")
	} else {
		fmt.Fprintf(writer, "first free block:\t%d\n", header.FirstFreeBlock)
	}
	fmt.Fprintf(writer, "formatted:\t%t\n", device.IsFormatted())
	return writer.Flush()
}

func listDirectory(context *cli.Context) error {
	if context.NArg() > 1 {
		return requireArgs(context, 1)
	}

	return withTree(context, func(root *simplefs.DirectoryHandle) error {
		dirs, base := splitPath(context.Args().First())
		if base != "" {
			dirs = append(dirs, base)
		}
		dir, err := resolveDirectory(root, dirs)
		if err != nil {
			return err
		}

		entries, err := dir.Entries()
		if err != nil {
			return err
		}
		if context.Bool("csv") {
			return gocsv.Marshal(entries, context.App.Writer)
		}

		writer := tabwriter.NewWriter(context.App.Writer, 0, 4, 2, ' ', 0)
		for _, entry := range entries {
			kind := "f"
			if entry.IsDirectory {
				kind = "d"
			}
			fmt.Fprintf(writer, "%s\t%d\t%s\n", kind, entry.SizeInBytes, entry.Name)
		}
		return writer.Flush()
	})
}

func makeDirectory(context *cli.Context) error {
	if err := requireArgs(context, 1); err != nil {
		return err
	}
	return withTree(context, func(root *simplefs.DirectoryHandle) error {
		parent, name, err := resolveParent(root, context.Args().First())
		if err != nil {
			return err
		}
		return parent.MakeDir(name)
	})
}

func putFile(context *cli.Context) error {
	if err := requireArgs(context, 2); err != nil {
		return err
	}
	source := context.Args().Get(0)
	data, err := os.ReadFile(source)
	if err != nil {
		return blockfs.ErrIOFailed.Wrap(err)
	}

	return withTree(context, func(root *simplefs.DirectoryHandle) error {
		parent, name, err := resolveParent(root, context.Args().Get(1))
		if err != nil {
			return err
		}
		file, err := parent.CreateFile(name)
		if err != nil {
			return err
		}
		defer file.Close()

		if len(data) > 0 {
			if _, err = file.Write(data); err != nil {
				return err
			}
		}
		log.Infof("copied %d bytes from %s", len(data), source)
		return nil
	})
}

func catFile(context *cli.Context) error {
	if err := requireArgs(context, 1); err != nil {
		return err
	}
	return withTree(context, func(root *simplefs.DirectoryHandle) error {
		parent, name, err := resolveParent(root, context.Args().First())
		if err != nil {
			return err
		}
		file, err := parent.OpenFile(name)
		if err != nil {
			return err
		}
		defer file.Close()

		buffer := make([]byte, file.Size())
		n, err := file.Read(buffer)
		if err != nil {
			return err
		}
		_, err = context.App.Writer.Write(buffer[:n])
		return err
	})
}

func removeEntry(context *cli.Context) error {
	if err := requireArgs(context, 1); err != nil {
		return err
	}
	return withTree(context, func(root *simplefs.DirectoryHandle) error {
		parent, name, err := resolveParent(root, context.Args().First())
		if err != nil {
			return err
		}
		return parent.Remove(name)
	})
}
