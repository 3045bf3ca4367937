// Command cascadadb is an interactive shell for opening a cascadadb
// database and running put/get/del/flush/stats commands against it,
// modeled on the teacher's liner-backed REPL shell.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/cascadadb/cascadadb"
	"github.com/cascadadb/cascadadb/internal/compress"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("cascadadb", pflag.ContinueOnError)
	compressFlag := flags.StringP("compress", "c", "snappy", "compression method: none, snappy, flate")
	noCRC := flags.Bool("no-crc", false, "disable block CRC verification")
	verbose := flags.BoolP("verbose", "v", false, "log engine diagnostics to stderr")

	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: cascadadb [options] <db-dir>")
		fmt.Fprintln(os.Stderr, "\nOpens (creating if absent) a cascadadb database directory and starts an interactive shell.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() < 1 {
		flags.Usage()
		return fmt.Errorf("missing db directory")
	}
	dbDir := flags.Arg(0)

	opts := cascadadb.DefaultOptions()
	method, err := parseCompressMethod(*compressFlag)
	if err != nil {
		return err
	}
	opts.CompressMethod = method
	opts.CheckCRC = !*noCRC

	logger := zerolog.Nop()
	if *verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	db, err := cascadadb.OpenWithLogger(dbDir, opts, logger)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dbDir, err)
	}
	defer db.Close()

	repl := &REPL{db: db, dir: dbDir}
	return repl.Run()
}

func parseCompressMethod(s string) (compress.Method, error) {
	switch s {
	case "none":
		return compress.MethodNone, nil
	case "snappy":
		return compress.MethodSnappy, nil
	case "flate":
		return compress.MethodFlate, nil
	default:
		return 0, fmt.Errorf("unknown compression method %q (want none, snappy, or flate)", s)
	}
}
