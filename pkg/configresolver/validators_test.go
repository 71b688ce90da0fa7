package configresolver

import (
	"net"
	"testing"
)

func TestValidateURI(t *testing.T) {
	v := ValidateURI(false)
	if err := v("https://example.com/graph"); err != nil {
		t.Errorf("valid URI rejected: %v", err)
	}
	if err := v("not a uri"); err == nil {
		t.Error("invalid URI accepted")
	}
}

func TestValidateURI_RequireTrailingSlash(t *testing.T) {
	v := ValidateURI(true)
	if err := v("https://example.com/graph"); err == nil {
		t.Error("expected an error for a URI missing a trailing slash")
	}
	if err := v("https://example.com/graph/"); err != nil {
		t.Errorf("valid trailing-slash URI rejected: %v", err)
	}
}

func TestValidateFQDN(t *testing.T) {
	if err := ValidateFQDN("graph.microsoft.com"); err != nil {
		t.Errorf("valid FQDN rejected: %v", err)
	}
	if err := ValidateFQDN("not_a_domain_!!"); err == nil {
		t.Error("invalid FQDN accepted")
	}
}

func TestValidateEmail(t *testing.T) {
	if err := ValidateEmail("admin@example.com"); err != nil {
		t.Errorf("valid email rejected: %v", err)
	}
	if err := ValidateEmail("not-an-email"); err == nil {
		t.Error("invalid email accepted")
	}
}

func TestValidateBase64(t *testing.T) {
	if err := ValidateBase64("aGVsbG8="); err != nil {
		t.Errorf("valid base64 rejected: %v", err)
	}
	if err := ValidateBase64("not base64!!"); err == nil {
		t.Error("invalid base64 accepted")
	}
}

func TestValidateUnique(t *testing.T) {
	if err := ValidateUnique([]string{"a", "b", "c"}); err != nil {
		t.Errorf("unique array rejected: %v", err)
	}
	if err := ValidateUnique([]string{"a", "b", "a"}); err == nil {
		t.Error("duplicate array accepted")
	}
}

func TestValidatePort(t *testing.T) {
	if err := ValidatePort(443); err != nil {
		t.Errorf("valid port rejected: %v", err)
	}
	if err := ValidatePort(0); err == nil {
		t.Error("port 0 accepted")
	}
	if err := ValidatePort(70000); err == nil {
		t.Error("port 70000 accepted")
	}
}

func TestValidateCIDR_RejectsReservedRange(t *testing.T) {
	v := ValidateCIDR()
	if err := v("127.0.0.0/8"); err == nil {
		t.Error("loopback range should be rejected by default")
	}
	if err := v("10.0.0.0/24"); err != nil {
		t.Errorf("valid non-reserved CIDR rejected: %v", err)
	}
	if err := v("not a cidr"); err == nil {
		t.Error("malformed CIDR accepted")
	}
}

func TestValidateCIDR_AdditionalExclusion(t *testing.T) {
	_, extra, err := net.ParseCIDR("10.0.0.0/8")
	if err != nil {
		t.Fatalf("net.ParseCIDR: %v", err)
	}
	v := ValidateCIDR(extra)
	if err := v("10.1.2.0/24"); err == nil {
		t.Error("explicitly excluded range should be rejected")
	}
}
