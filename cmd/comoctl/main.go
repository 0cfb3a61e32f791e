// Package main is the operator-facing control CLI: thin commands wrapping
// the storage IPC protocol, for inspecting bytestreams without going
// through the query role's HTTP surface.
/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package main

import (
	"fmt"
	"io"
	"net"
	"os"

	"github.com/urfave/cli"

	"github.com/comoproject/como/ipc"
	"github.com/comoproject/como/storage"
)

const sockFlag = "sock"

func main() {
	app := cli.NewApp()
	app.Name = "comoctl"
	app.Usage = "inspect CoMo bytestreams over the storage IPC protocol"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  sockFlag,
			Value: "/var/run/como/storage.sock",
			Usage: "AF_UNIX socket of the storage role",
		},
	}
	app.Commands = []cli.Command{
		catCommand(),
		tailCommand(),
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "comoctl:", err)
		os.Exit(1)
	}
}

func dial(c *cli.Context) (*ipc.StorageClient, net.Conn, error) {
	conn, err := net.Dial("unix", c.GlobalString(sockFlag))
	if err != nil {
		return nil, nil, fmt.Errorf("dial storage: %w", err)
	}
	return ipc.DialStorage(conn), conn, nil
}

func catCommand() cli.Command {
	return cli.Command{
		Name:      "cat",
		Usage:     "dump a bytestream's current contents to stdout and exit at EOF",
		ArgsUsage: "<stream>",
		Action: func(c *cli.Context) error {
			return dumpStream(c, storage.ModeReaderNonBlock)
		},
	}
}

func tailCommand() cli.Command {
	return cli.Command{
		Name:      "tail",
		Usage:     "follow a bytestream, blocking for new data past the current end",
		ArgsUsage: "<stream>",
		Action: func(c *cli.Context) error {
			return dumpStream(c, storage.ModeReader)
		},
	}
}

func dumpStream(c *cli.Context, mode storage.Mode) error {
	name := c.Args().First()
	if name == "" {
		return fmt.Errorf("missing <stream> argument")
	}
	client, conn, err := dial(c)
	if err != nil {
		return err
	}
	defer conn.Close()

	id, offset, err := client.Open(name, mode, 0)
	if err != nil {
		return fmt.Errorf("open %q: %w", name, err)
	}
	defer client.Close(id, offset)

	const window = 64 * 1024
	for {
		res, err := client.Region(id, offset, window)
		if err != nil {
			return fmt.Errorf("region at %d: %w", offset, err)
		}
		if len(res.Data) > 0 {
			if _, err := io.Copy(os.Stdout, readerOf(res.Data)); err != nil {
				return err
			}
			offset += uint64(len(res.Data))
		}
		if res.EOF {
			return nil
		}
	}
}

type byteReader struct {
	b []byte
}

func (r *byteReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}

func readerOf(b []byte) io.Reader { return &byteReader{b: b} }
