package list

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	"github.com/nguyengg/zipfile"
	"github.com/nguyengg/zipfile/internal"
	"golang.org/x/time/rate"
)

type Command struct {
	Raw bool `long:"raw" description:"do not decode or validate filenames; print raw bytes"`

	Args struct {
		Files []flags.Filename `positional-arg-name:"file" description:"local .zip files or s3://bucket/key URIs" required:"yes"`
	} `positional-args:"yes"`
}

func (c *Command) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	for _, file := range c.Args.Files {
		if err := c.list(ctx, string(file)); err != nil {
			return fmt.Errorf(`list "%s" error: %w`, file, err)
		}
	}

	return nil
}

func (c *Command) list(ctx context.Context, name string) error {
	a, err := internal.OpenArchive(ctx, name, c.options)
	if err != nil {
		return err
	}
	defer a.Close()

	sometimes := rate.Sometimes{Interval: 5 * time.Second}

	var listed, total int64
	for e, err := range a.Entries() {
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		entryName := e.Name
		if c.Raw {
			entryName = string(e.RawName)
		}
		fmt.Printf("%10s  %s  %s\n", humanize.IBytes(uint64(e.UncompressedSize)), e.LastModified().Format(time.DateTime), entryName)

		listed++
		total += e.UncompressedSize
		sometimes.Do(func() {
			log.Printf("listed %d entries so far", listed)
		})
	}

	count, _ := a.EntryCount()
	switch {
	case a.IsMacArchive():
		log.Printf("%s: %d entries, %s total (Mac OS Archive Utility ZIP)", name, count, humanize.IBytes(uint64(total)))
	case a.IsMaybeMacArchive():
		log.Printf("%s: %d entries, %s total (possibly Mac OS Archive Utility ZIP)", name, count, humanize.IBytes(uint64(total)))
	default:
		log.Printf("%s: %d entries, %s total", name, count, humanize.IBytes(uint64(total)))
	}

	return nil
}

func (c *Command) options(opts *zipfile.Options) {
	if c.Raw {
		opts.DecodeStrings = false
	}
}
