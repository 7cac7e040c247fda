package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/nguyengg/zipfile/internal/cat"
	"github.com/nguyengg/zipfile/internal/list"
)

var opts struct {
	Profile string       `short:"p" long:"profile" description:"override AWS_PROFILE when reading s3:// archives" default-mask:"-"`
	List    list.Command `command:"list" alias:"ls" description:"list the entries of ZIP archives"`
	Cat     cat.Command  `command:"cat" description:"stream entries of a ZIP archive to stdout or files"`
}

func main() {
	p := flags.NewParser(&opts, flags.Default)
	p.CommandHandler = func(command flags.Commander, args []string) error {
		if opts.Profile != "" {
			if err := os.Setenv("AWS_PROFILE", opts.Profile); err != nil {
				return fmt.Errorf("set AWS_PROFILE error: %w", err)
			}
		}

		return command.Execute(args)
	}

	if _, err := p.Parse(); err != nil && !flags.WroteHelp(err) {
		os.Exit(1)
	}
}
