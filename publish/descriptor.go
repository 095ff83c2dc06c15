package publish

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/samber/lo"
)

const (
	maxLabelLen     = 63
	maxAttributeLen = 255
)

// ValidationError names the descriptor field that was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ServiceDescriptor is one service instance ready for registration.
type ServiceDescriptor struct {
	Instance string
	Type     string // includes the local-scope suffix
	Port     int

	// Addr is the address the service is bound to; the zero value means
	// the host's primary address.
	Addr netip.Addr

	attributes []string
}

// NewServiceDescriptor validates and packages a service. serviceType is
// given without the local-scope suffix, e.g. "_http._tcp".
func NewServiceDescriptor(instance, serviceType string, port int, attrs []string) (*ServiceDescriptor, error) {
	switch {
	case instance == "":
		return nil, &ValidationError{Field: "identity", Reason: "empty"}
	case len(instance) > maxLabelLen:
		return nil, &ValidationError{Field: "identity", Reason: fmt.Sprintf("longer than %d bytes", maxLabelLen)}
	case serviceType == "":
		return nil, &ValidationError{Field: "type", Reason: "empty"}
	case port < 1 || port > 65535:
		return nil, &ValidationError{Field: "port", Reason: fmt.Sprintf("%d out of range 1-65535", port)}
	}

	if i := lo.IndexOf(attrs, ""); i >= 0 {
		return nil, &ValidationError{Field: "txt", Reason: fmt.Sprintf("attribute %d is empty", i)}
	}
	if _, i, ok := lo.FindIndexOf(attrs, func(a string) bool { return len(a) > maxAttributeLen }); ok {
		return nil, &ValidationError{Field: "txt", Reason: fmt.Sprintf("attribute %d longer than %d bytes", i, maxAttributeLen)}
	}

	sized := make([]string, len(attrs))
	copy(sized, attrs)

	return &ServiceDescriptor{
		Instance:   instance,
		Type:       strings.TrimSuffix(serviceType, ".") + "." + LocalSuffix,
		Port:       port,
		attributes: sized,
	}, nil
}

// Attributes returns the text attributes. The slice has exactly as many
// entries as were supplied and no spare capacity.
func (s *ServiceDescriptor) Attributes() []string {
	return s.attributes[:len(s.attributes):len(s.attributes)]
}

// FullName is the instance's fully qualified service name.
func (s *ServiceDescriptor) FullName() string {
	return s.Instance + "." + s.Type
}

// ServiceAndDomain splits the type into the DNS-SD service and domain parts.
func (s *ServiceDescriptor) ServiceAndDomain() (string, string) {
	return strings.TrimSuffix(s.Type, "."+LocalSuffix), LocalSuffix + "."
}
