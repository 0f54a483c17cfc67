package common

import (
	"net"
	"strconv"
	"strings"
)

// DefaultServiceVersion is used when a service is registered or called without a version.
const DefaultServiceVersion = "1.0"

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Request is the body of a REQUEST frame.
// Every element of Args is encoded with the serializer named in the frame header.
type Request struct {
	ServiceName        string            `json:"serviceName"`
	ServiceVersion     string            `json:"serviceVersion,omitempty"`
	MethodName         string            `json:"methodName"`
	ParameterTypeNames []string          `json:"parameterTypes,omitempty"`
	Args               [][]byte          `json:"args,omitempty"`
	Meta               map[string]string `json:"meta,omitempty"` // trace context and caller information
}

// Response is the body of a RESPONSE frame.
// A failed invocation sets Err and leaves Data nil.
type Response struct {
	Data         []byte `json:"data,omitempty"`
	DataTypeName string `json:"dataType,omitempty"`
	Message      string `json:"message,omitempty"`
	Err          string `json:"err,omitempty"`
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewSuccessResponse creates a response carrying an encoded result
func NewSuccessResponse(data []byte, dataTypeName string) *Response {
	return &Response{
		Data:         data,
		DataTypeName: dataTypeName,
		Message:      "ok",
	}
}

// NewErrorResponse creates a response reporting a failed invocation
func NewErrorResponse(err error) *Response {
	return &Response{
		Message: "failed",
		Err:     err.Error(),
	}
}

// Failed reports whether the remote side returned an error.
func (r *Response) Failed() bool {
	return r.Err != ""
}

// --------------------------------------------------------------------------
// Service Meta Information
// --------------------------------------------------------------------------

// ServiceMetaInfo describes one physical endpoint of a service.
type ServiceMetaInfo struct {
	ServiceName    string `json:"serviceName"`
	ServiceVersion string `json:"serviceVersion"`
	ServiceHost    string `json:"serviceHost"`
	ServicePort    int    `json:"servicePort"`
}

// ServiceKey builds the discovery key name:version.
func ServiceKey(name, version string) string {
	if version == "" {
		version = DefaultServiceVersion
	}
	return name + ":" + version
}

// ServiceKey groups all endpoints of the same service and version.
func (m ServiceMetaInfo) ServiceKey() string {
	return ServiceKey(m.ServiceName, m.ServiceVersion)
}

// ServiceNodeKey identifies this endpoint, it is used for registration and deregistration.
func (m ServiceMetaInfo) ServiceNodeKey() string {
	return m.ServiceKey() + "/" + m.ServiceAddress()
}

// ServiceAddress returns host:port.
func (m ServiceMetaInfo) ServiceAddress() string {
	return net.JoinHostPort(m.ServiceHost, strconv.Itoa(m.ServicePort))
}

// ParseEndpoint converts a host:port address into a ServiceMetaInfo for the given service.
func ParseEndpoint(address, serviceName, version string) (ServiceMetaInfo, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(address))
	if err != nil {
		return ServiceMetaInfo{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return ServiceMetaInfo{}, err
	}
	if version == "" {
		version = DefaultServiceVersion
	}
	return ServiceMetaInfo{
		ServiceName:    serviceName,
		ServiceVersion: version,
		ServiceHost:    host,
		ServicePort:    port,
	}, nil
}
