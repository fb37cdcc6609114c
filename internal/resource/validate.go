package resource

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ValidationError is returned when a payload is rejected before any
// request is sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Tunnel modes and TLS modes accepted by the control plane.
const (
	ModeServer = "server"
	ModeClient = "client"

	TLSInherit = "inherit"
	TLSMode0   = "mode0"
	TLSMode1   = "mode1"
	TLSMode2   = "mode2"
)

// TunnelSpec is the body of a tunnel create or update call.
type TunnelSpec struct {
	EndpointID    int64  `json:"endpointId"`
	Name          string `json:"name"`
	Mode          string `json:"mode"`
	TunnelAddress string `json:"tunnelAddress"`
	TunnelPort    string `json:"tunnelPort"`
	TargetAddress string `json:"targetAddress"`
	TargetPort    string `json:"targetPort"`
	TLSMode       string `json:"tlsMode,omitempty"`
	CertPath      string `json:"certPath,omitempty"`
	KeyPath       string `json:"keyPath,omitempty"`
	LogLevel      string `json:"logLevel,omitempty"`
	Password      string `json:"password,omitempty"`
	Min           *int   `json:"min,omitempty"`
	Max           *int   `json:"max,omitempty"`
	ResetTraffic  *bool  `json:"resetTraffic,omitempty"`
}

// Normalize trims user input and drops fields the selected mode ignores.
func (s TunnelSpec) Normalize() TunnelSpec {
	s.Name = strings.TrimSpace(s.Name)
	s.TunnelPort = strings.TrimSpace(s.TunnelPort)
	s.TargetPort = strings.TrimSpace(s.TargetPort)
	s.CertPath = strings.TrimSpace(s.CertPath)
	s.KeyPath = strings.TrimSpace(s.KeyPath)
	if s.Mode != ModeServer {
		s.TLSMode = ""
	}
	if s.Mode != ModeServer || s.TLSMode != TLSMode2 {
		s.CertPath, s.KeyPath = "", ""
	}
	if s.Mode != ModeClient {
		s.Min, s.Max = nil, nil
	}
	return s
}

// Validate checks the normalized spec.
func (s TunnelSpec) Validate() error {
	if s.EndpointID == 0 {
		return &ValidationError{Field: "endpointId", Reason: "is required"}
	}
	if s.Name == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if s.TunnelPort == "" || s.TargetPort == "" {
		return &ValidationError{Field: "port", Reason: "tunnel and target ports are required"}
	}
	if err := ValidatePort(s.TunnelPort); err != nil {
		return &ValidationError{Field: "tunnelPort", Reason: err.Error()}
	}
	if err := ValidatePort(s.TargetPort); err != nil {
		return &ValidationError{Field: "targetPort", Reason: err.Error()}
	}
	if s.Mode == ModeServer && s.TLSMode == TLSMode2 && (s.CertPath == "" || s.KeyPath == "") {
		return &ValidationError{Field: "tlsMode", Reason: "mode2 requires certificate and key paths"}
	}
	return nil
}

// ValidatePort checks that p is an integer in 0-65535.
func ValidatePort(p string) error {
	n, err := strconv.Atoi(p)
	if err != nil {
		return fmt.Errorf("port %q is not a number", p)
	}
	if n < 0 || n > 65535 {
		return fmt.Errorf("port %d out of range 0-65535", n)
	}
	return nil
}

// ValidateName rejects blank names for rename operations.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	return nil
}

// EndpointSpec is the body of an endpoint create or update call.
type EndpointSpec struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	APIPath string `json:"apiPath"`
	APIKey  string `json:"apiKey"`
	Color   string `json:"color,omitempty"`
}

// Normalize trims input, drops a trailing slash from the URL and makes
// the API path absolute.
func (s EndpointSpec) Normalize() EndpointSpec {
	s.Name = strings.TrimSpace(s.Name)
	s.URL = strings.TrimRight(strings.TrimSpace(s.URL), "/")
	s.APIPath = strings.TrimSpace(s.APIPath)
	if s.APIPath != "" && !strings.HasPrefix(s.APIPath, "/") {
		s.APIPath = "/" + s.APIPath
	}
	s.APIKey = strings.TrimSpace(s.APIKey)
	s.Color = strings.TrimSpace(s.Color)
	return s
}

// Validate checks the normalized spec. All four connection fields are
// required.
func (s EndpointSpec) Validate() error {
	if s.Name == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if s.URL == "" {
		return &ValidationError{Field: "url", Reason: "is required"}
	}
	u, err := url.Parse(s.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &ValidationError{Field: "url", Reason: "must be an absolute http or https URL"}
	}
	if s.APIPath == "" {
		return &ValidationError{Field: "apiPath", Reason: "is required"}
	}
	return ValidateAPIKey(s.APIKey)
}

// ValidateAPIKey rejects a blank endpoint key.
func ValidateAPIKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return &ValidationError{Field: "apiKey", Reason: "is required"}
	}
	return nil
}
