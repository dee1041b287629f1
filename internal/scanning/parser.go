package scanning

import (
	"encoding/xml"
	stderrors "errors"
	"io"
	"os"
	"strconv"

	"github.com/anstrom/netnmap/internal/errors"
)

// reportParser walks an nmap XML report token by token. At most one host and
// one service draft are open at any time.
type reportParser struct {
	result   *ScanResult
	host     *Host
	service  *Service
	sawRoot  bool
	runStats bool
}

// Parse reads an nmap XML report and returns its hosts in document order.
// Elements the parser does not know are ignored and missing attributes read
// as empty strings. A document that is not well-formed XML yields a
// ParseError.
func Parse(r io.Reader) (*ScanResult, error) {
	p := &reportParser{result: newScanResult()}
	decoder := xml.NewDecoder(r)

	for {
		token, err := decoder.Token()
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.WrapParseError(errors.CodeParseFailed, "malformed scan report", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			p.sawRoot = true
			if err := p.start(decoder, &t); err != nil {
				return nil, errors.WrapParseError(errors.CodeParseFailed, "malformed scan report", err)
			}
		case xml.EndElement:
			p.end(&t)
		}
	}

	if !p.sawRoot {
		return nil, errors.WrapParseError(errors.CodeParseFailed, "scan report has no root element", io.ErrUnexpectedEOF)
	}
	return p.result, nil
}

// ParseFile opens and parses the report at path.
func ParseFile(path string) (*ScanResult, error) {
	file, err := os.Open(path) //nolint:gosec // report path comes from the caller or our own temp file
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return nil, errors.ErrReportNotFound(path, err)
		}
		return nil, errors.WrapParseError(errors.CodeParseFailed, "cannot read scan report", err).WithPath(path)
	}
	defer func() {
		_ = file.Close()
	}()

	result, err := Parse(file)
	if err != nil {
		var parseErr *errors.ParseError
		if stderrors.As(err, &parseErr) {
			parseErr.WithPath(path)
		}
		return nil, err
	}
	return result, nil
}

func (p *reportParser) start(decoder *xml.Decoder, el *xml.StartElement) error {
	switch el.Name.Local {
	case "nmaprun":
		p.result.Summary.Scanner = attr(el, "scanner")
		p.result.Summary.Version = attr(el, "version")
		p.result.Summary.Args = attr(el, "args")
		p.result.Summary.StartStr = attr(el, "startstr")
	case "runstats":
		p.runStats = true
	case "finished":
		if p.runStats {
			p.result.Summary.Elapsed = parseFloat(attr(el, "elapsed"))
			p.result.Summary.Exit = attr(el, "exit")
		}
	case "hosthint":
		// Hints repeat status/address data ahead of the real host element.
		return decoder.Skip()
	case "hosts":
		if p.runStats {
			p.result.Summary.HostsUp = parseInt(attr(el, "up"))
			p.result.Summary.HostsDown = parseInt(attr(el, "down"))
			p.result.Summary.HostsTotal = parseInt(attr(el, "total"))
		}
	case "host":
		p.host = newHost()
		p.result.Hosts = append(p.result.Hosts, p.host)
	case "status":
		if p.host != nil {
			p.host.status = attr(el, "state")
		}
	case "address":
		if p.host != nil {
			p.host.addAddress(attr(el, "addrtype"), attr(el, "addr"))
		}
	case "hostname":
		if p.host != nil {
			p.host.addHostname(attr(el, "name"))
		}
	case "port":
		p.service = &Service{
			Protocol: attr(el, "protocol"),
			Port:     attr(el, "portid"),
		}
	case "service":
		p.startService(el)
	case "osmatch":
		if p.host != nil {
			p.host.addOS(accuracy(attr(el, "accuracy")), attr(el, "name"))
		}
	}
	return nil
}

func (p *reportParser) startService(el *xml.StartElement) {
	if p.service != nil {
		p.service.Name = attr(el, "name")
		p.service.Product = attr(el, "product")
		p.service.Version = attr(el, "version")
		p.service.ExtraInfo = attr(el, "extrainfo")
	}
	if osType, ok := lookupAttr(el, "ostype"); ok && p.host != nil {
		p.host.addOS(0, osType)
	}
}

func (p *reportParser) end(el *xml.EndElement) {
	switch el.Name.Local {
	case "port":
		if p.service != nil && p.host != nil {
			p.host.addService(*p.service)
		}
		p.service = nil
	case "host":
		p.host = nil
		p.service = nil
	case "runstats":
		p.runStats = false
	}
}

func lookupAttr(el *xml.StartElement, name string) (string, bool) {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func attr(el *xml.StartElement, name string) string {
	value, _ := lookupAttr(el, name)
	return value
}

// accuracy reads an accuracy attribute; anything non-numeric ranks as zero.
func accuracy(value string) int {
	return parseInt(value)
}

// parseInt and parseFloat read numeric attributes as zero when they are
// empty or not numbers.
func parseInt(value string) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return n
}

func parseFloat(value string) float64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return f
}
