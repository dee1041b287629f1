package scanning

import (
	"context"
	"regexp"

	"github.com/Ullaakut/nmap/v3"
	"github.com/kballard/go-shellquote"

	"github.com/anstrom/netnmap/internal/errors"
)

// portRangeFormat is one comma separated element of a port specification,
// optionally scoped to UDP or TCP: "22", "1-1024", "U:53", "T:80-90".
const portRangeFormat = `([UT]:)?[0-9]+(-[0-9]+)*`

var portRangesPattern = regexp.MustCompile(`^` + portRangeFormat + `(,` + portRangeFormat + `)*$`)

// Options are the scan features that map onto nmap flags.
type Options struct {
	// OSDetection enables remote OS detection (-O)
	OSDetection bool `yaml:"os_detection" json:"os_detection"`
	// ServiceInfo probes open ports for service and version info (-sV)
	ServiceInfo bool `yaml:"service_info" json:"service_info"`
	// PortRanges restricts the scanned ports (-p), e.g. "22,80,U:53,1000-2000"
	PortRanges string `yaml:"port_ranges" json:"port_ranges"`
	// Aggressive enables OS detection, version detection, scripts and traceroute (-A)
	Aggressive bool `yaml:"aggressive" json:"aggressive"`
	// Timing selects a timing template (-T0 to -T5); nil leaves nmap's default
	Timing *nmap.Timing `yaml:"timing,omitempty" json:"timing,omitempty"`
	// ExtraArgs are additional nmap arguments written as a shell-quoted string
	ExtraArgs string `yaml:"extra_args" json:"extra_args"`
}

// ValidatePortRanges checks a port specification against the accepted grammar.
func ValidatePortRanges(ranges string) error {
	if !portRangesPattern.MatchString(ranges) {
		return errors.ErrInvalidPortRanges(ranges)
	}
	return nil
}

// Flags validates the options and returns the nmap arguments they stand for,
// in the order -O, -sV, -p, -A, timing, extra arguments.
func (o Options) Flags() ([]string, error) {
	var options []nmap.Option

	if o.OSDetection {
		options = append(options, nmap.WithOSDetection())
	}
	if o.ServiceInfo {
		options = append(options, nmap.WithServiceInfo())
	}
	if o.PortRanges != "" {
		if err := ValidatePortRanges(o.PortRanges); err != nil {
			return nil, err
		}
		options = append(options, nmap.WithPorts(o.PortRanges))
	}
	if o.Aggressive {
		options = append(options, nmap.WithAggressiveScan())
	}
	if o.Timing != nil {
		if *o.Timing < nmap.TimingSlowest || *o.Timing > nmap.TimingFastest {
			return nil, errors.NewConfigFieldError(errors.CodeConfiguration,
				"Timing template must be between 0 and 5", "timing", int(*o.Timing))
		}
		options = append(options, nmap.WithTimingTemplate(*o.Timing))
	}
	if o.ExtraArgs != "" {
		extra, err := shellquote.Split(o.ExtraArgs)
		if err != nil {
			e := errors.WrapConfigError(errors.CodeConfiguration, "Extra arguments are not valid shell words", err)
			e.Field = "extra_args"
			e.Value = o.ExtraArgs
			return nil, e
		}
		options = append(options, nmap.WithCustomArguments(extra...))
	}

	if len(options) == 0 {
		return nil, nil
	}

	// The builder only collects arguments; the binary path skips its PATH
	// lookup and the scanner never runs.
	builder, err := nmap.NewScanner(context.Background(), append(options, nmap.WithBinaryPath(DefaultBinary))...)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "Cannot build scan options", err)
	}
	return builder.Args(), nil
}

// TimingTemplate converts a 0-5 level into an nmap timing template pointer.
// Negative levels mean "not set".
func TimingTemplate(level int) *nmap.Timing {
	if level < 0 {
		return nil
	}
	t := nmap.Timing(level)
	return &t
}
