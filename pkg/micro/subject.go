package micro

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Subjects follow the convention
//
//	<namespace>.<scope>.<endpoint>
//
// <namespace> isolates deployments sharing a NATS cluster (default "lockstep").
// <scope> is "relay" for relay-wide endpoints, "g.<group>" for a version group and "c.<conn>" for
// a single connection. <endpoint> may contain '.' to use NATS routing.
//
// Examples:
//   - lockstep.relay.hello
//   - lockstep.g.9f86d081884c7d65.input
//   - lockstep.c.4b0f3a1e-....welcome

// ErrInvalidAddress is returned when a subject doesn't follow the naming convention.
var ErrInvalidAddress = eris.New("invalid subject address")

// Address is the <namespace>.<scope> prefix of a subject.
type Address struct {
	Namespace string
	Scope     string
}

// RelayAddress addresses relay-wide endpoints.
func RelayAddress(namespace string) Address {
	return Address{Namespace: namespace, Scope: "relay"}
}

// GroupAddress addresses endpoints of one version group.
func GroupAddress(namespace, group string) Address {
	return Address{Namespace: namespace, Scope: "g." + group}
}

// ConnAddress addresses a single connection.
func ConnAddress(namespace, conn string) Address {
	return Address{Namespace: namespace, Scope: "c." + conn}
}

func (a Address) String() string {
	return a.Namespace + "." + a.Scope
}

// Endpoint returns the full subject for endpoint under a.
func Endpoint(a Address, endpoint string) string {
	return a.String() + "." + endpoint
}

// ParseEndpoint splits a subject into its address and endpoint.
func ParseEndpoint(subject string) (Address, string, error) {
	parts := strings.Split(subject, ".")
	if len(parts) < 3 {
		return Address{}, "", eris.Wrapf(ErrInvalidAddress, "too few tokens in %q", subject)
	}

	switch parts[1] {
	case "relay":
		return Address{Namespace: parts[0], Scope: "relay"}, strings.Join(parts[2:], "."), nil
	case "g", "c":
		if len(parts) < 4 || parts[2] == "" {
			return Address{}, "", eris.Wrapf(ErrInvalidAddress, "missing scope id in %q", subject)
		}
		scope := parts[1] + "." + parts[2]
		return Address{Namespace: parts[0], Scope: scope}, strings.Join(parts[3:], "."), nil
	default:
		return Address{}, "", eris.Wrapf(ErrInvalidAddress, "unknown scope %q", parts[1])
	}
}
