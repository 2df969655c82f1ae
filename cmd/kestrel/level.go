package main

import (
	"log/slog"
	"strings"

	"github.com/spf13/pflag"

	"github.com/kestrel-wm/kestrel/internal/errors"
	"github.com/kestrel-wm/kestrel/pkg/server"
)

// levelFlag is a log level flag. The zero value is unset.
type levelFlag struct {
	level slog.Level
	set   bool
}

var _ pflag.Value = (*levelFlag)(nil)

func (f *levelFlag) String() string {
	if !f.set {
		return ""
	}
	return server.LevelName(f.level)
}

func (f *levelFlag) Set(s string) error {
	level, err := server.ParseLevel(s)
	if err != nil {
		return errors.New("K302").WithDetailf("%q", s).Wrap(err)
	}
	f.level, f.set = level, true
	return nil
}

func (f *levelFlag) Type() string {
	return strings.Join(server.LevelNames(), "|")
}
