package cat

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/jessevdk/go-flags"
	"github.com/nguyengg/zipfile"
	"github.com/nguyengg/zipfile/internal"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

type Command struct {
	Output flags.Filename `short:"o" long:"output" description:"write each entry to a file (named by its base name) under this directory instead of stdout"`

	Args struct {
		File    flags.Filename `positional-arg-name:"file" description:"a local .zip file or s3://bucket/key URI" required:"yes"`
		Entries []string       `positional-arg-name:"entry" description:"entry names to stream, in the order given for stdout" required:"yes"`
	} `positional-args:"yes"`
}

func (c *Command) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := internal.OpenArchive(ctx, string(c.Args.File))
	if err != nil {
		return fmt.Errorf(`open "%s" error: %w`, c.Args.File, err)
	}
	defer a.Close()

	wanted := make(map[string]*zipfile.Entry, len(c.Args.Entries))
	for e, err := range a.Entries() {
		if err != nil {
			return err
		}

		if slices.Contains(c.Args.Entries, e.Name) {
			wanted[e.Name] = e
			if len(wanted) == len(c.Args.Entries) {
				break
			}
		}
	}

	for _, name := range c.Args.Entries {
		if _, ok := wanted[name]; !ok {
			return fmt.Errorf(`entry "%s" not found in "%s"`, name, c.Args.File)
		}
	}

	if c.Output == "" {
		// sequential so the outputs don't interleave; keep going past a bad entry and report them all.
		var result *multierror.Error
		for _, name := range c.Args.Entries {
			if err = catTo(ctx, wanted[name], os.Stdout, nil); err != nil {
				result = multierror.Append(result, fmt.Errorf(`entry "%s": %w`, name, err))
			}
		}

		return result.ErrorOrNil()
	}

	if err = os.MkdirAll(string(c.Output), 0755); err != nil {
		return fmt.Errorf(`create output directory "%s" error: %w`, c.Output, err)
	}

	// entry streams are independent, so fan out; the library serialises only the directory walk above.
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, name := range c.Args.Entries {
		e := wanted[name]
		g.Go(func() error {
			path := filepath.Join(string(c.Output), filepath.Base(name))
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf(`create "%s" error: %w`, path, err)
			}

			bar := progressbar.DefaultBytes(e.UncompressedSize, name)
			err = catTo(ctx, e, io.MultiWriter(f, bar), bar)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf(`entry "%s": %w`, name, err)
			}

			return nil
		})
	}

	return g.Wait()
}

func catTo(ctx context.Context, e *zipfile.Entry, dst io.Writer, bar *progressbar.ProgressBar) error {
	r, err := e.Open()
	if err != nil {
		return err
	}

	_, err = zipfile.CopyBufferWithContext(ctx, dst, r, nil)
	if cerr := r.Close(); err == nil {
		err = cerr
	}
	if bar != nil {
		_ = bar.Close()
	}

	return err
}
