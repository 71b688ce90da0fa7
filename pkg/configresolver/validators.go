package configresolver

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is a package-level, concurrency-safe validator instance that the
// validator catalog below uses to check configuration values.
var validate = validator.New(validator.WithRequiredStructEnabled())

// reservedCIDRs are the ranges ValidateCIDR excludes by default, matching
// the "exclude: reserved_ranges" option in spec §4.13's validator catalog.
var reservedCIDRs = mustParseCIDRs(
	"0.0.0.0/8", "127.0.0.0/8", "169.254.0.0/16", "224.0.0.0/4", "255.255.255.255/32",
	"::1/128", "fe80::/10", "ff00::/8",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("configresolver: invalid reserved CIDR literal %q: %v", c, err))
		}
		out = append(out, n)
	}
	return out
}

func asString(value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("expected a string value, got %T", value)
	}
	return s, nil
}

// ValidateURI returns a Validator requiring value to parse as an absolute
// URI, optionally requiring a trailing slash on the path.
func ValidateURI(requireTrailingSlash bool) Validator {
	return func(value any) error {
		s, err := asString(value)
		if err != nil {
			return err
		}
		if err := validate.Var(s, "uri"); err != nil {
			return fmt.Errorf("must be a valid URI: %w", err)
		}
		if requireTrailingSlash {
			u, err := url.Parse(s)
			if err != nil || !strings.HasSuffix(u.Path, "/") {
				return fmt.Errorf("must have a trailing slash")
			}
		}
		return nil
	}
}

// ValidateFQDN requires value to be a fully-qualified domain name.
func ValidateFQDN(value any) error {
	s, err := asString(value)
	if err != nil {
		return err
	}
	if err := validate.Var(s, "fqdn"); err != nil {
		return fmt.Errorf("must be a valid FQDN: %w", err)
	}
	return nil
}

// ValidateEmail requires value to be a valid email address.
func ValidateEmail(value any) error {
	s, err := asString(value)
	if err != nil {
		return err
	}
	if err := validate.Var(s, "email"); err != nil {
		return fmt.Errorf("must be a valid email address: %w", err)
	}
	return nil
}

// ValidateBase64 requires value to be valid base64.
func ValidateBase64(value any) error {
	s, err := asString(value)
	if err != nil {
		return err
	}
	if err := validate.Var(s, "base64"); err != nil {
		return fmt.Errorf("must be valid base64: %w", err)
	}
	return nil
}

// ValidateUnique requires a []string value to contain no duplicates, for
// TypeArray keys.
func ValidateUnique(value any) error {
	arr, ok := value.([]string)
	if !ok {
		return fmt.Errorf("expected an array value, got %T", value)
	}
	seen := make(map[string]struct{}, len(arr))
	for _, v := range arr {
		if _, dup := seen[v]; dup {
			return fmt.Errorf("duplicate entry %q", v)
		}
		seen[v] = struct{}{}
	}
	return nil
}

// ValidatePort requires value to be an int in 1..65535.
func ValidatePort(value any) error {
	n, ok := value.(int)
	if !ok {
		return fmt.Errorf("expected an integer value, got %T", value)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("must be between 1 and 65535")
	}
	return nil
}

// ValidateCIDR requires value to parse as a CIDR block and, by default,
// excludes the reserved ranges in reservedCIDRs (loopback, link-local,
// multicast, etc.), per spec §4.13's "exclude: reserved_ranges" option.
// Passing additional exclusions appends to that list.
func ValidateCIDR(exclude ...*net.IPNet) Validator {
	excluded := append(append([]*net.IPNet(nil), reservedCIDRs...), exclude...)
	return func(value any) error {
		s, err := asString(value)
		if err != nil {
			return err
		}
		ip, network, err := net.ParseCIDR(s)
		if err != nil {
			return fmt.Errorf("must be a valid CIDR block: %w", err)
		}
		for _, r := range excluded {
			if r.Contains(ip) || r.Contains(network.IP) {
				return fmt.Errorf("must not fall within reserved range %s", r.String())
			}
		}
		return nil
	}
}
