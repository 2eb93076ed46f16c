package cli

import (
	"errors"
	"flag"
) // .import

var Flags struct {
	Destination   string // destination id from the destinations config
	AppConfigPath string // if override
	Resume        bool   // continue checkpointed uploads instead of starting new ones
	ChunkSize     int64  // per-run override of CHUNK_SIZE_BYTES
	ShowVersion   bool
} // .flags

// ParseFlags read cli flags into an Flags struct which is returned
func ParseFlags() error {

	flag.StringVar(&Flags.Destination, "destination", "", "destination id from the destinations config to upload to")
	flag.StringVar(&Flags.AppConfigPath, "appconf", "", "used to override the app configuration file path")
	flag.BoolVar(&Flags.Resume, "resume", false, "resume checkpointed uploads instead of starting new ones")
	flag.Int64Var(&Flags.ChunkSize, "chunk-size", 0, "chunk size in bytes; 0 uses CHUNK_SIZE_BYTES")
	flag.BoolVar(&Flags.ShowVersion, "version", false, "print version information and exit")

	flag.Parse()

	if Flags.ChunkSize < 0 {
		return errors.New("cli flag chunk-size cannot be negative")
	} // if

	return nil
} // .ParseFlags

// Files returns the positional arguments: the paths to upload.
func Files() []string {
	return flag.Args()
}
