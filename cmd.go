package ovarian

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var version = "dev"

// A stage is one step of the subtyping pipeline, runnable as a
// subcommand. Stages communicate through gob files named on the
// command line, so any stage can be re-run in isolation.
type stage interface {
	RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int
}

var handlers = map[string]stage{
	"fetch":     &fetcher{},
	"build":     &builder{},
	"annotate":  &annotatecmd{},
	"filter":    &filtercmd{},
	"norm":      &normcmd{},
	"nmf":       &nmfcmd{},
	"embed":     &embedcmd{},
	"markers":   &markerscmd{},
	"consensus": &consensuscmd{},
	"export":    &exportcmd{},
	"stats":     &statscmd{},
	"run":       &runcmd{},
}

func Main() {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		logrus.StandardLogger().Formatter = &logrus.TextFormatter{DisableTimestamp: true}
	}
	os.Exit(RunCommand(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return 2
	}
	switch args[0] {
	case "version", "-version", "--version":
		fmt.Fprintln(stdout, "ovca "+version)
		return 0
	case "help", "-help", "--help":
		usage(stdout)
		return 0
	}
	cmd, ok := handlers[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unrecognized command %q\n", args[0])
		usage(stderr)
		return 2
	}
	return cmd.RunCommand(prog+" "+args[0], args[1:], stdin, stdout, stderr)
}

func usage(w io.Writer) {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "usage: ovca command [options]\n\ncommands: %s, version\n", strings.Join(names, ", "))
}
