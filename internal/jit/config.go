package jit

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/meijies/query-compile-prototype/internal/ir"
	"gopkg.in/yaml.v3"
)

type OptLevel string

const (
	OptNone         OptLevel = "none"
	OptSpeed        OptLevel = "speed"
	OptSpeedAndSize OptLevel = "speed_and_size"
)

// Flags are the code generation settings of a Module. Helper calls always
// go through an absolute address and code is placed at a known address, so
// colocated libcalls and PIC are recognized but must stay disabled.
type Flags struct {
	UseColocatedLibcalls bool     `yaml:"use_colocated_libcalls"`
	IsPIC                bool     `yaml:"is_pic"`
	OptLevel             OptLevel `yaml:"opt_level"`
	Debug                bool     `yaml:"debug"`
}

func DefaultFlags() Flags {
	return Flags{OptLevel: OptSpeed}
}

// Set assigns one flag from its textual form, e.g. Set("opt_level", "none").
func (f *Flags) Set(name, value string) error {
	switch name {
	case "use_colocated_libcalls", "is_pic", "debug":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrUnsupportedSetting, name, value, err)
		}
		switch name {
		case "use_colocated_libcalls":
			f.UseColocatedLibcalls = b
		case "is_pic":
			f.IsPIC = b
		default:
			f.Debug = b
		}
	case "opt_level":
		f.OptLevel = OptLevel(value)
	default:
		return fmt.Errorf("%w: unknown flag %q", ErrUnsupportedSetting, name)
	}
	return f.Validate()
}

func (f Flags) Validate() error {
	if f.UseColocatedLibcalls {
		return fmt.Errorf("%w: use_colocated_libcalls must be false", ErrUnsupportedSetting)
	}
	if f.IsPIC {
		return fmt.Errorf("%w: is_pic must be false", ErrUnsupportedSetting)
	}
	switch f.OptLevel {
	case OptNone, OptSpeed, OptSpeedAndSize:
		return nil
	default:
		return fmt.Errorf("%w: opt_level %q", ErrUnsupportedSetting, f.OptLevel)
	}
}

func (f Flags) compileOptions() ir.CompileOptions {
	return ir.CompileOptions{AlignLoops: f.OptLevel == OptSpeed}
}

// ParseFlags decodes YAML on top of DefaultFlags. Unknown keys are errors.
func ParseFlags(data []byte) (Flags, error) {
	flags := DefaultFlags()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&flags); err != nil && !errors.Is(err, io.EOF) {
		return Flags{}, fmt.Errorf("jit: decode flags: %w", err)
	}
	if err := flags.Validate(); err != nil {
		return Flags{}, err
	}
	return flags, nil
}

func LoadFlags(path string) (Flags, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Flags{}, fmt.Errorf("jit: read flags: %w", err)
	}
	return ParseFlags(data)
}
