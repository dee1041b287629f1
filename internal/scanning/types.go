package scanning

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
)

const (
	// DefaultAddressType is the address bucket used when none is requested.
	DefaultAddressType = "ipv4"

	// UnknownHostname is returned by Hostname when a host has no names.
	UnknownHostname = "unknown"
)

// Host status values reported by nmap.
const (
	StatusUp      = "up"
	StatusDown    = "down"
	StatusUnknown = "unknown"
)

var (
	// ErrAddressNotFound is returned when a host has no address of the
	// requested type at the requested index.
	ErrAddressNotFound = stderrors.New("address not found")

	// ErrIndexOutOfRange is returned when a hostname index is past the end
	// of the recorded hostnames.
	ErrIndexOutOfRange = stderrors.New("index out of range")

	// ErrNoOSGuess is returned by Host.OS when nothing identified the OS.
	ErrNoOSGuess = stderrors.New("no OS guess recorded")
)

// ScanResult contains the hosts read from one scan report.
type ScanResult struct {
	// Hosts in document order
	Hosts []*Host `json:"hosts"`
	// FailedToResolve lists targets the scan binary could not resolve
	FailedToResolve []string `json:"failed_to_resolve"`
	// Summary holds run metadata from the report root and runstats
	Summary Summary `json:"summary"`
}

func newScanResult() *ScanResult {
	return &ScanResult{
		Hosts:           make([]*Host, 0),
		FailedToResolve: make([]string, 0),
	}
}

// GetHosts returns the hosts in parse order.
func (r *ScanResult) GetHosts() []*Host {
	return r.Hosts
}

// Summary is run-level information from the nmaprun root and its runstats.
type Summary struct {
	Scanner    string  `json:"scanner,omitempty"`
	Version    string  `json:"version,omitempty"`
	Args       string  `json:"args,omitempty"`
	StartStr   string  `json:"start,omitempty"`
	Elapsed    float64 `json:"elapsed_seconds,omitempty"`
	Exit       string  `json:"exit,omitempty"`
	HostsUp    int     `json:"hosts_up"`
	HostsDown  int     `json:"hosts_down"`
	HostsTotal int     `json:"hosts_total"`
}

// Service is one port entry of a host and the application identified on it.
type Service struct {
	Protocol  string `json:"protocol"`
	Port      string `json:"port"`
	Name      string `json:"name"`
	Product   string `json:"product"`
	Version   string `json:"version"`
	ExtraInfo string `json:"extra_info"`
}

// OSGuess is a candidate operating system with its accuracy score.
type OSGuess struct {
	Accuracy int    `json:"accuracy"`
	Name     string `json:"name"`
}

// Host holds everything a report says about one scanned endpoint.
// Hosts are filled by the parser and are read-only afterwards.
type Host struct {
	status       string
	addresses    map[string][]string
	addressTypes []string
	hostnames    []string
	osGuesses    []OSGuess
	services     []Service
}

func newHost() *Host {
	return &Host{
		addresses: make(map[string][]string),
	}
}

// Status returns the host state, usually "up", "down" or "unknown".
func (h *Host) Status() string {
	return h.status
}

// Address returns the index-th address recorded under addrType.
func (h *Host) Address(addrType string, index int) (string, error) {
	values, ok := h.addresses[addrType]
	if !ok || index < 0 || index >= len(values) {
		return "", fmt.Errorf("%w: type %q index %d", ErrAddressNotFound, addrType, index)
	}
	return values[index], nil
}

// PrimaryAddress returns the first IPv4 address of the host.
func (h *Host) PrimaryAddress() (string, error) {
	return h.Address(DefaultAddressType, 0)
}

// AddressTypes returns the recorded address types in first-seen order.
func (h *Host) AddressTypes() []string {
	return append([]string(nil), h.addressTypes...)
}

// Hostname returns the index-th hostname, or UnknownHostname when the
// report listed none.
func (h *Host) Hostname(index int) (string, error) {
	if len(h.hostnames) == 0 {
		return UnknownHostname, nil
	}
	if index < 0 || index >= len(h.hostnames) {
		return "", fmt.Errorf("%w: hostname %d of %d", ErrIndexOutOfRange, index, len(h.hostnames))
	}
	return h.hostnames[index], nil
}

// PrimaryHostname returns the first hostname or UnknownHostname.
func (h *Host) PrimaryHostname() string {
	name, _ := h.Hostname(0)
	return name
}

// Hostnames returns every recorded hostname.
func (h *Host) Hostnames() []string {
	return append([]string(nil), h.hostnames...)
}

// OS returns the name of the most accurate OS guess. When several guesses
// share the top accuracy the first one recorded wins.
func (h *Host) OS() (string, error) {
	ranked := h.RankedOS()
	if len(ranked) == 0 {
		return "", ErrNoOSGuess
	}
	return ranked[0].Name, nil
}

// AllOS returns the OS guesses in the order they were recorded.
func (h *Host) AllOS() []OSGuess {
	return append([]OSGuess(nil), h.osGuesses...)
}

// RankedOS returns the OS guesses sorted by descending accuracy. The sort is
// stable and works on a copy.
func (h *Host) RankedOS() []OSGuess {
	ranked := h.AllOS()
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Accuracy > ranked[j].Accuracy
	})
	return ranked
}

// Services returns the host's services in document order.
func (h *Host) Services() []Service {
	return append([]Service(nil), h.services...)
}

func (h *Host) addAddress(addrType, addr string) {
	if _, ok := h.addresses[addrType]; !ok {
		h.addressTypes = append(h.addressTypes, addrType)
	}
	h.addresses[addrType] = append(h.addresses[addrType], addr)
}

func (h *Host) addHostname(name string) {
	h.hostnames = append(h.hostnames, name)
}

func (h *Host) addOS(accuracy int, name string) {
	h.osGuesses = append(h.osGuesses, OSGuess{Accuracy: accuracy, Name: name})
}

func (h *Host) addService(service Service) {
	h.services = append(h.services, service)
}

// addressJSON keeps address buckets in first-seen order when marshaled.
type addressJSON struct {
	Type   string   `json:"type"`
	Values []string `json:"values"`
}

type hostJSON struct {
	Status    string        `json:"status"`
	Addresses []addressJSON `json:"addresses"`
	Hostnames []string      `json:"hostnames"`
	OS        []OSGuess     `json:"os"`
	Services  []Service     `json:"services"`
}

// MarshalJSON implements json.Marshaler.
func (h *Host) MarshalJSON() ([]byte, error) {
	out := hostJSON{
		Status:    h.status,
		Addresses: make([]addressJSON, 0, len(h.addressTypes)),
		Hostnames: h.Hostnames(),
		OS:        h.AllOS(),
		Services:  h.Services(),
	}
	for _, addrType := range h.addressTypes {
		out.Addresses = append(out.Addresses, addressJSON{Type: addrType, Values: h.addresses[addrType]})
	}
	return json.Marshal(out)
}
