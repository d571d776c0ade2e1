package config

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// HeaderFlag attaches an injected response header to the preceding route.
const HeaderFlag = "-H"

var (
	ErrNoRoutes           = errors.New("please specify at least one proxy")
	ErrInvalidSource      = errors.New("source must be in the following format: hostname:port")
	ErrInvalidPort        = errors.New("invalid port")
	ErrMissingDestination = errors.New("missing destination")
	ErrInvalidDestination = errors.New("invalid destination")
	ErrInvalidHeader      = errors.New("invalid header")
)

var errHeaderWithoutRoute = fmt.Errorf("%w: %s must follow a proxy definition", ErrInvalidHeader, HeaderFlag)

var headerNamePattern = regexp.MustCompile("^[!#$%&'*+.^_`|~0-9A-Za-z-]+$")

// Route binds one local listen address to one fixed upstream URL.
// A Route is a value; it is never mutated after construction.
type Route struct {
	sourceHost  string
	sourcePort  int
	destination url.URL
	headers     http.Header
}

// NewRoute parses a "hostname:port" source and an absolute destination URL.
func NewRoute(source, destination string) (Route, error) {
	if !strings.Contains(source, ":") {
		return Route{}, fmt.Errorf("%w (got %q)", ErrInvalidSource, source)
	}

	host, portStr, err := net.SplitHostPort(source)
	if err != nil {
		return Route{}, fmt.Errorf("%w (got %q)", ErrInvalidSource, source)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Route{}, fmt.Errorf("%w %q for source: %s", ErrInvalidPort, portStr, host)
	}

	dest, err := url.Parse(destination)
	if err != nil {
		return Route{}, fmt.Errorf("%w %q: %v", ErrInvalidDestination, destination, err)
	}

	r := Route{
		sourceHost:  host,
		sourcePort:  int(port),
		destination: *dest,
		headers:     http.Header{},
	}

	if err := r.Validate(); err != nil {
		return Route{}, classifyRouteError(err, source, destination)
	}

	return r, nil
}

// classifyRouteError maps a field validation failure onto the sentinel for
// the argument that caused it.
func classifyRouteError(err error, source, destination string) error {
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return err
	}

	if e, ok := errs["destination"]; ok {
		return fmt.Errorf("%w %q: %v", ErrInvalidDestination, destination, e)
	}
	if e, ok := errs["sourcePort"]; ok {
		return fmt.Errorf("%w for source %s: %v", ErrInvalidPort, source, e)
	}
	if e, ok := errs["sourceHost"]; ok {
		return fmt.Errorf("%w (got %q): %v", ErrInvalidSource, source, e)
	}

	return err
}

// WithHeader returns a copy of r that also injects name: value into every
// response sent to the client.
func (r Route) WithHeader(name, value string) (Route, error) {
	name = strings.TrimSpace(name)
	if err := validation.Validate(name, validation.Required, validation.Match(headerNamePattern)); err != nil {
		return r, fmt.Errorf("%w name %q: %v", ErrInvalidHeader, name, err)
	}

	out := r
	out.headers = r.headers.Clone()
	if out.headers == nil {
		out.headers = http.Header{}
	}
	out.headers.Set(name, strings.TrimSpace(value))

	return out, nil
}

// SourceHost returns the local bind host. Empty means all interfaces.
func (r Route) SourceHost() string {
	return r.sourceHost
}

// SourcePort returns the local bind port.
func (r Route) SourcePort() int {
	return r.sourcePort
}

// Source returns the route's "host:port", which is also the address it binds.
func (r Route) Source() string {
	return net.JoinHostPort(r.sourceHost, strconv.Itoa(r.sourcePort))
}

// Destination returns a copy of the upstream URL.
func (r Route) Destination() *url.URL {
	u := r.destination
	return &u
}

// Headers returns a copy of the injected response headers.
func (r Route) Headers() http.Header {
	return r.headers.Clone()
}

// String formats the route the way it is logged at startup.
func (r Route) String() string {
	return r.Source() + " > " + r.destination.String()
}

// Validate checks the route invariants.
func (r Route) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.sourceHost, validation.By(validateSourceHost)),
		validation.Field(&r.sourcePort, validation.Min(0), validation.Max(65535)),
		validation.Field(&r.destination, validation.By(validateDestination)),
	)
}

func validateSourceHost(value interface{}) error {
	host, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if host == "" {
		return nil
	}

	if err := is.Host.Validate(host); err != nil {
		return validation.NewError("validation_invalid_host", "invalid host")
	}

	return nil
}

func validateDestination(value interface{}) error {
	dest, ok := value.(url.URL)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a URL")
	}

	if dest.Scheme != "http" && dest.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if dest.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

// ParseRoutes reads the route grammar:
//
//	<hostname>:<port> <destination-url> [-H <name>:<value>]...
//
// repeated once per route. Routes are returned in the order they appear.
func ParseRoutes(args []string) ([]Route, error) {
	var routes []Route

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if arg == HeaderFlag {
			if len(routes) == 0 {
				return nil, errHeaderWithoutRoute
			}
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%w: %s requires a name:value argument", ErrInvalidHeader, HeaderFlag)
			}
			i++

			name, value, found := strings.Cut(args[i], ":")
			if !found {
				return nil, fmt.Errorf("%w %q: must be in the following format: name:value", ErrInvalidHeader, args[i])
			}

			last := len(routes) - 1
			r, err := routes[last].WithHeader(name, value)
			if err != nil {
				return nil, err
			}
			routes[last] = r
			continue
		}

		if i+1 >= len(args) {
			if !strings.Contains(arg, ":") {
				return nil, fmt.Errorf("%w (got %q)", ErrInvalidSource, arg)
			}
			return nil, fmt.Errorf("%w for source %s", ErrMissingDestination, arg)
		}

		if args[i+1] == HeaderFlag {
			return nil, fmt.Errorf("%w for source %s", ErrMissingDestination, arg)
		}

		r, err := NewRoute(arg, args[i+1])
		if err != nil {
			return nil, err
		}
		routes = append(routes, r)
		i++
	}

	if len(routes) == 0 {
		return nil, ErrNoRoutes
	}

	return routes, nil
}
