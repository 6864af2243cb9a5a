package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"picopsram/core"
	"picopsram/host/board"
)

var idCommand = &cli.Command{
	Name:  "id",
	Usage: "reset the bus and print the identifier of every device",
	Action: func(c *cli.Context) error {
		return withBoard(c, func(b *board.Board, log *zap.SugaredLogger) error {
			if err := b.Bus.Reset(); err != nil {
				return err
			}
			for _, dev := range b.Bus.Devices() {
				id, err := dev.ReadID()
				if err != nil {
					return fmt.Errorf("cs%d: %w", dev.ChipSelect(), err)
				}
				status := "ok"
				if !id.Good() {
					status = "bad KGD"
				}
				fmt.Printf("cs%d: %s (%s)\n", dev.ChipSelect(), id, status)
			}
			return nil
		})
	},
}

var selftestCommand = &cli.Command{
	Name:  "selftest",
	Usage: "write and verify a pattern on every device in SPI and QSPI",
	Action: func(c *cli.Context) error {
		return withBoard(c, func(b *board.Board, log *zap.SugaredLogger) error {
			results, err := board.SelfTest(b.Bus, log)
			for _, r := range results {
				fmt.Printf("%-4s %d devices, %d bytes in %s\n", r.Mode, r.Devices, r.Bytes, r.Duration)
			}
			return err
		})
	},
}

// transferFlags are shared by read and write
var transferFlags = []cli.Flag{
	&cli.IntFlag{
		Name:  "cs",
		Usage: "chip-select `INDEX`",
	},
	&cli.Uint64Flag{
		Name:  "addr",
		Usage: "start `ADDRESS` (0x prefix for hex)",
	},
	&cli.BoolFlag{
		Name:  "quad",
		Usage: "run the transfer in QSPI",
	},
}

var readCommand = &cli.Command{
	Name:  "read",
	Usage: "hex-dump a range of one device",
	Flags: append([]cli.Flag{
		&cli.IntFlag{
			Name:  "len",
			Value: 256,
			Usage: "number of bytes",
		},
	}, transferFlags...),
	Action: func(c *cli.Context) error {
		n := c.Int("len")
		if n <= 0 || n > core.MaxAddress+1 {
			return fmt.Errorf("%w: length %d", core.ErrAddressRange, n)
		}
		return withBoard(c, func(b *board.Board, log *zap.SugaredLogger) error {
			p := make([]byte, n)
			err := transfer(c, b, func(dev *core.Device, addr uint32) error {
				return dev.FastRead(addr, p)
			})
			if err != nil {
				return err
			}
			fmt.Print(hex.Dump(p))
			return nil
		})
	},
}

var writeCommand = &cli.Command{
	Name:  "write",
	Usage: "write hex bytes to one device",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:     "hex",
			Required: true,
			Usage:    "data as hex `BYTES`, spaces allowed",
		},
	}, transferFlags...),
	Action: func(c *cli.Context) error {
		data, err := hex.DecodeString(strings.ReplaceAll(c.String("hex"), " ", ""))
		if err != nil {
			return fmt.Errorf("--hex: %w", err)
		}
		return withBoard(c, func(b *board.Board, log *zap.SugaredLogger) error {
			err := transfer(c, b, func(dev *core.Device, addr uint32) error {
				return dev.FastWrite(addr, data)
			})
			if err == nil {
				log.Infow("write done", "cs", c.Int("cs"), "addr", c.Uint64("addr"), "bytes", len(data))
			}
			return err
		})
	},
}

// transfer resolves --cs and --addr and runs fn, wrapped in quad entry and
// exit when --quad is given
func transfer(c *cli.Context, b *board.Board, fn func(dev *core.Device, addr uint32) error) error {
	addr := c.Uint64("addr")
	if addr > core.MaxAddress {
		return fmt.Errorf("%w: 0x%X", core.ErrAddressRange, addr)
	}
	dev, err := b.Bus.Device(c.Int("cs"))
	if err != nil {
		return err
	}

	if !c.Bool("quad") {
		return fn(dev, uint32(addr))
	}
	if err := b.Bus.Modes().EnterQuad(); err != nil {
		return err
	}
	if err := fn(dev, uint32(addr)); err != nil {
		return multierr.Append(err, b.Bus.Recover())
	}
	return b.Bus.Modes().ExitQuad()
}
