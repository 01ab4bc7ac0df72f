// Command aptmethod runs one acquire method over stdin/stdout. The
// method is chosen by the invoking name (argv[0], for symlink farms
// like /usr/lib/apt/methods) or the -name flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aptutil/aptcore/method"
	"github.com/aptutil/aptcore/method/copym"
	"github.com/aptutil/aptcore/method/ftp"
	httpmethod "github.com/aptutil/aptcore/method/http"
	"github.com/aptutil/aptcore/method/mirror"
	"github.com/aptutil/aptcore/method/rsh"
	"github.com/aptutil/aptcore/method/sqv"
	"github.com/aptutil/aptcore/method/store"
)

const version = "1.0"

type opts struct {
	name    string
	options []string
}

func build(name string) (*method.Method, error) {
	switch name {
	case "http", "https":
		h := httpmethod.New()
		m := method.New(name, version, method.SendConfig|method.Pipeline|method.SendURIEncoded, h)
		m.OnExitFlush(h.FlushPartial)
		return m, nil
	case "copy":
		return method.New(name, version, method.SingleInstance|method.SendConfig|method.LocalOnly, copym.New()), nil
	case "store", "gzip", "bzip2", "xz", "lzma", "lz4", "zstd":
		return method.New(name, version, method.SingleInstance|method.SendConfig|method.LocalOnly, store.New(name)), nil
	case "ftp":
		return method.New(name, version, method.SendConfig, ftp.New()), nil
	case "rsh", "ssh":
		return method.New(name, version, method.SendConfig, rsh.New(name)), nil
	case "mirror":
		return method.New(name, version, method.SendConfig|method.SingleInstance, mirror.New()), nil
	case "sqv", "gpgv":
		return method.New(name, version, method.SingleInstance|method.SendConfig|method.LocalOnly, sqv.New()), nil
	}
	return nil, fmt.Errorf("unknown method %q", name)
}

func main() {
	o := opts{name: filepath.Base(os.Args[0])}
	if o.name == "aptmethod" {
		o.name = ""
	}
	fs := flag.NewFlagSet("aptmethod", flag.ExitOnError)
	fs.StringVar(&o.name, "name", o.name, "method name to run")
	fs.Func("o", "set a configuration option (key=value)", func(v string) error {
		if !strings.Contains(v, "=") {
			return fmt.Errorf("option %q is not key=value", v)
		}
		o.options = append(o.options, v)
		return nil
	})
	quiet := fs.Int("q", 0, "quietness level")
	fs.Parse(os.Args[1:])

	if o.name == "" {
		fmt.Fprintln(os.Stderr, "aptmethod: no method name; use -name or invoke via symlink")
		os.Exit(2)
	}
	m, err := build(o.name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aptmethod: %v\n", err)
		os.Exit(2)
	}
	for _, kv := range o.options {
		eq := strings.IndexByte(kv, '=')
		m.Config.Set(kv[:eq], kv[eq+1:])
	}
	if *quiet > 0 {
		m.Config.Set("Quiet", strconv.Itoa(*quiet))
	}
	if err := m.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "aptmethod: %v\n", err)
		os.Exit(1)
	}
}
