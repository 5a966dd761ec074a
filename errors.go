package zmtp

// Error is the closed set of failures this module's public API can
// return. It mirrors the original implementation's error enum: routing
// failures, permission/transport problems, and address resolution
// failures.
type Error int

const (
	// RoutingError means Route's target peer is unknown or gone.
	RoutingError Error = iota
	// PermissionDenied means the OS refused a socket operation.
	PermissionDenied
	// TransportUnknown means an endpoint named a scheme this module
	// does not implement.
	TransportUnknown
	// TransportUnavailable means the named transport is valid but not
	// usable in this process (e.g. compiled out).
	TransportUnavailable
	// AddressInUse means Listen was called on an address already bound.
	AddressInUse
	// AddressInvalid means an endpoint string could not be parsed.
	AddressInvalid
	// AddressNotFound means DNS resolution of an endpoint's host failed.
	AddressNotFound
)

func (e Error) Error() string {
	switch e {
	case RoutingError:
		return "zmtp: unknown route"
	case PermissionDenied:
		return "zmtp: permission denied"
	case TransportUnknown:
		return "zmtp: unknown transport"
	case TransportUnavailable:
		return "zmtp: transport unavailable"
	case AddressInUse:
		return "zmtp: address in use"
	case AddressInvalid:
		return "zmtp: invalid address"
	case AddressNotFound:
		return "zmtp: address not found"
	default:
		return "zmtp: unknown error"
	}
}
