package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli/v2"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"

	"github.com/JP-Makers/rs-dbc/base"
	"github.com/JP-Makers/rs-dbc/crosscheck"
	"github.com/JP-Makers/rs-dbc/dbc"
	"github.com/JP-Makers/rs-dbc/xlsx"
)

var inputFlag = &cli.StringFlag{
	Name:    "input",
	Aliases: []string{"i"},
	Usage:   "DBC `file` path (defaults to the configured DBCPath)",
}

var lossyFlag = &cli.BoolFlag{
	Name:  "lossy",
	Usage: "replace invalid UTF-8 instead of failing",
}

var cmdDump = &cli.Command{
	Name:  "dump",
	Usage: "print the parsed model as JSON",
	Flags: []cli.Flag{inputFlag, lossyFlag},
	Action: func(c *cli.Context) error {
		d, _, err := loadDBC(appConfig(c), c.String("input"), c.Bool("lossy"))
		if err != nil {
			return err
		}
		return writeJSON(c.App.Writer, d)
	},
}

var cmdBits = &cli.Command{
	Name:  "bits",
	Usage: "print every signal with its Vector start bit",
	Flags: []cli.Flag{inputFlag, lossyFlag},
	Action: func(c *cli.Context) error {
		d, _, err := loadDBC(appConfig(c), c.String("input"), c.Bool("lossy"))
		if err != nil {
			return err
		}

		for _, msg := range d.Messages {
			for i := range msg.Signals {
				sig := &msg.Signals[i]
				fmt.Fprintf(c.App.Writer, "Signal Name: %s\n", sig.Name)
				fmt.Fprintf(c.App.Writer, "Vector Bit: %d\n", sig.VectorStartBit())
			}
		}
		return nil
	},
}

var cmdExport = &cli.Command{
	Name:  "export",
	Usage: "write the model to an xlsx workbook",
	Flags: []cli.Flag{
		inputFlag,
		lossyFlag,
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "workbook `file`", Required: true},
	},
	Action: func(c *cli.Context) error {
		d, _, err := loadDBC(appConfig(c), c.String("input"), c.Bool("lossy"))
		if err != nil {
			return err
		}

		f, err := xlsx.Export(d)
		if err != nil {
			return err
		}
		defer f.Close()

		if err := f.SaveAs(c.String("output")); err != nil {
			return errors.Wrapf(err, "save %s", c.String("output"))
		}
		log.Infof("exported %d messages to %s", len(d.Messages), c.String("output"))
		return nil
	},
}

var cmdImport = &cli.Command{
	Name:  "import",
	Usage: "read an xlsx workbook and print it as JSON",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "workbook `file`", Required: true},
	},
	Action: func(c *cli.Context) error {
		f, err := excelize.OpenFile(c.String("input"))
		if err != nil {
			return errors.Wrapf(err, "open %s", c.String("input"))
		}
		defer f.Close()

		d, err := xlsx.Import(f)
		if err != nil {
			return err
		}
		return writeJSON(c.App.Writer, d)
	},
}

var cmdVerify = &cli.Command{
	Name:  "verify",
	Usage: "compare the model with the reference parser",
	Flags: []cli.Flag{inputFlag, lossyFlag},
	Action: func(c *cli.Context) error {
		cfg := appConfig(c)
		d, text, err := loadDBC(cfg, c.String("input"), c.Bool("lossy"))
		if err != nil {
			return err
		}

		mismatches, err := crosscheck.Compare(d, dbcPath(cfg, c.String("input")), []byte(text))
		if err != nil {
			return err
		}

		for _, m := range mismatches {
			fmt.Fprintln(c.App.Writer, m.String())
		}
		if len(mismatches) > 0 {
			return cli.Exit(fmt.Sprintf("%d mismatches", len(mismatches)), 1)
		}

		fmt.Fprintf(c.App.Writer, "%d messages agree\n", len(d.Messages))
		return nil
	},
}

func dbcPath(cfg *base.Config, input string) string {
	if input != "" {
		return input
	}
	return cfg.DBCPath
}

// loadDBC reads the DBC named by input, the configured path, or the
// embedded copy, in that order. It returns the model with the UTF-8 text
// it was parsed from.
func loadDBC(cfg *base.Config, input string, lossy bool) (*dbc.Dbc, string, error) {
	var buf []byte
	if input == "" && len(dbcContent) > 0 {
		buf = dbcContent
	} else {
		path := dbcPath(cfg, input)
		var err error
		if buf, err = os.ReadFile(path); err != nil {
			return nil, "", errors.Wrapf(err, "read %s", path)
		}
	}

	d, text, err := decodeDBC(buf, cfg.DBC.Encoding, lossy || cfg.DBC.Lossy)
	if err != nil {
		return nil, "", err
	}

	log.Debugf("Load DBC success !!! messages(%d)", len(d.Messages))
	return d, text, nil
}

func decodeDBC(buf []byte, encName string, lossy bool) (*dbc.Dbc, string, error) {
	var enc encoding.Encoding
	switch {
	case encName != "":
		var err error
		if enc, err = htmlindex.Get(encName); err != nil {
			return nil, "", errors.Wrapf(err, "encoding %q", encName)
		}
	case lossy:
		enc = unicode.UTF8
	default:
		d, err := dbc.FromSlice(buf)
		return d, string(buf), err
	}

	text, err := dbc.DecodeText(buf, enc)
	if err != nil {
		return nil, "", err
	}
	d, err := dbc.Parse(text)
	return d, text, err
}

func writeJSON(w io.Writer, v any) error {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal")
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
