package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/paulschiretz/pgl-photosync/cmd"
	"github.com/paulschiretz/pgl-photosync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-photosync/pkg/flagparse"
	"github.com/paulschiretz/pgl-photosync/pkg/plog"
)

// run parses args and dispatches to the selected command.
func run(ctx context.Context, args []string) error {
	command, flagMap, err := flagparse.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	switch command {
	case flagparse.None:
		return nil
	case flagparse.Version:
		return cmd.RunVersion(buildinfo.Name, buildinfo.Version)
	case flagparse.Sync:
		return cmd.RunSync(ctx, flagMap)
	case flagparse.Init:
		return cmd.RunInit(ctx, flagMap)
	case flagparse.Manifest:
		return cmd.RunManifest(ctx, flagMap)
	case flagparse.AuthURL:
		return cmd.RunAuthURL(flagMap)
	default:
		return fmt.Errorf("unhandled command: %s", command)
	}
}

func main() {
	// Cancel in-flight downloads on Ctrl+C or SIGTERM. Temp files are
	// removed by the transfer executor or swept on the next run.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:])
	_ = plog.CloseFileLogging()
	if err != nil {
		plog.Error(buildinfo.Name+" exited with error", "error", err)
		stop()
		os.Exit(1)
	}
}
